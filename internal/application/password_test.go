package application

import (
	"errors"
	"strings"
	"testing"
)

var fastArgon2idParams = Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func TestPasswordHashRoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := CreatePasswordHash("s3cret", fastArgon2idParams)
	if err != nil {
		t.Fatalf("CreatePasswordHash returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", hash)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("expected password to verify, got %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyPasswordRejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		hash string
		want error
	}{
		{hash: "plain", want: ErrInvalidPasswordHash},
		{hash: "$bcrypt$v=19$m=1,t=1,p=1$aa$bb", want: ErrInvalidPasswordHash},
		{hash: "$argon2id$v=18$m=1,t=1,p=1$aa$bb", want: ErrIncompatiblePasswordVersion},
		{hash: "$argon2id$v=19$m=x$aa$bb", want: ErrInvalidPasswordHash},
		{hash: "$argon2id$v=19$m=1,t=1,p=1$!!$bb", want: ErrInvalidPasswordHash},
	}
	for _, tc := range cases {
		if err := VerifyPassword(tc.hash, "pw"); !errors.Is(err, tc.want) {
			t.Fatalf("VerifyPassword(%q) = %v, want %v", tc.hash, err, tc.want)
		}
	}
}

func TestCreatePasswordHashRejectsEmptyPassword(t *testing.T) {
	t.Parallel()

	if _, err := CreatePasswordHash("", fastArgon2idParams); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
