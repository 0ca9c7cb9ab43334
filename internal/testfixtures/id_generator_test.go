package testfixtures

import (
	"context"
	"sync"
	"testing"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/platform"
)

func TestIDGenerator(t *testing.T) {
	t.Run("numbers identifiers from one", func(t *testing.T) {
		gen := NewIDGenerator("")
		if first, second := gen.Next(), gen.Next(); first != "id-1" || second != "id-2" {
			t.Fatalf("unexpected identifiers %q, %q", first, second)
		}
		if gen.Issued() != 2 {
			t.Fatalf("expected two issued identifiers, got %d", gen.Issued())
		}
	})

	t.Run("stays unique under concurrent use", func(t *testing.T) {
		gen := NewIDGenerator("ext")
		next := gen.NextFunc()
		var (
			mu   sync.Mutex
			seen = make(map[string]bool)
			wg   sync.WaitGroup
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := next()
				mu.Lock()
				defer mu.Unlock()
				if seen[id] {
					t.Errorf("duplicate identifier %q", id)
				}
				seen[id] = true
			}()
		}
		wg.Wait()
		if len(seen) != 16 || !seen["ext-16"] {
			t.Fatalf("expected ext-1 through ext-16, got %v", seen)
		}
	})

	t.Run("nil generator yields empty identifiers", func(t *testing.T) {
		var gen *IDGenerator
		if id := gen.NextFunc()(); id != "" {
			t.Fatalf("expected an empty identifier, got %q", id)
		}
	})
}

func TestPlatformIdentifiers(t *testing.T) {
	p := NewPlatform()
	channelID := p.SeedChannel("guild-1", "clock-station")
	roleID := p.SeedRole("guild-1", "Clocked In")
	msg, err := p.SendMessage(context.Background(), channelID, platform.MessageContent{Content: "hello"})
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if channelID != "ext-1" || roleID != "ext-2" || msg.ID != "ext-3" {
		t.Fatalf("expected one ext sequence across resources, got %q %q %q", channelID, roleID, msg.ID)
	}
}

func TestServiceFactoryTokenIDs(t *testing.T) {
	factory := NewServiceFactory(WithIDGenerator(NewIDGenerator("tok")))
	hash, err := application.CreatePasswordHash("operator-pass", application.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	if err != nil {
		t.Fatalf("CreatePasswordHash returned error: %v", err)
	}
	auth := factory.NewAuthService(hash, []byte("secret"), 0)

	for _, want := range []string{"tok-1", "tok-2"} {
		token, err := auth.Login(context.Background(), "operator-pass")
		if err != nil {
			t.Fatalf("Login returned error: %v", err)
		}
		if token.ID != want {
			t.Fatalf("expected token ID %q, got %q", want, token.ID)
		}
	}
}
