package application

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestAuthService(t *testing.T, clock *manualClock) *AuthService {
	t.Helper()
	hash, err := CreatePasswordHash("operator-pass", fastArgon2idParams)
	if err != nil {
		t.Fatalf("CreatePasswordHash returned error: %v", err)
	}
	return NewAuthService(hash, []byte("test-secret"), nil, func() string { return "token-1" }, clock.Now, time.Hour)
}

func TestAuthService_Login(t *testing.T) {
	t.Run("issues a token for the right password", func(t *testing.T) {
		clock := newManualClock()
		svc := newTestAuthService(t, clock)

		token, err := svc.Login(context.Background(), "operator-pass")
		if err != nil {
			t.Fatalf("Login returned error: %v", err)
		}
		if token.ID != "token-1" || token.Token == "" {
			t.Fatalf("unexpected token %+v", token)
		}
		if !token.ExpiresAt.Equal(storeEpoch.Add(time.Hour)) {
			t.Fatalf("unexpected expiry %s", token.ExpiresAt)
		}

		claims, err := svc.Verify(context.Background(), token.Token)
		if err != nil {
			t.Fatalf("Verify returned error: %v", err)
		}
		if claims.ID != "token-1" || claims.Subject != "operator" {
			t.Fatalf("unexpected claims %+v", claims)
		}
	})

	t.Run("rejects a wrong password", func(t *testing.T) {
		svc := newTestAuthService(t, newManualClock())

		if _, err := svc.Login(context.Background(), "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if _, err := svc.Login(context.Background(), ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for empty password, got %v", err)
		}
	})

	t.Run("is disabled without configuration", func(t *testing.T) {
		svc := NewAuthService("", nil, nil, nil, nil, 0)

		if svc.Enabled() {
			t.Fatalf("expected auth to be disabled")
		}
		if _, err := svc.Login(context.Background(), "anything"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestAuthService_Verify(t *testing.T) {
	clock := newManualClock()
	svc := newTestAuthService(t, clock)
	token, err := svc.Login(context.Background(), "operator-pass")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	t.Run("rejects tokens signed with another secret", func(t *testing.T) {
		other := NewAuthService(svc.passwordHash, []byte("other-secret"), nil, nil, clock.Now, time.Hour)
		if _, err := other.Verify(context.Background(), token.Token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, raw := range []string{"", "   ", "not.a.jwt"} {
			if _, err := svc.Verify(context.Background(), raw); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("Verify(%q) = %v, want ErrUnauthorized", raw, err)
			}
		}
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		if _, err := svc.Verify(context.Background(), token.Token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized after expiry, got %v", err)
		}
	})
}
