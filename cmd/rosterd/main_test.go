package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/config"
	"github.com/example/party-roster/internal/persistence"
	"github.com/example/party-roster/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{Env: config.Env{
		Store:     config.StoreSQLite,
		SQLiteDSN: filepath.Join(t.TempDir(), "data", "roster.db"),
	}}
}

func TestRunMigrations(t *testing.T) {
	t.Run("reports pending migrations without applying them", func(t *testing.T) {
		cfg := sqliteConfig(t)
		var out bytes.Buffer

		if err := runMigrations(context.Background(), cfg, true, &out, discardLogger()); err != nil {
			t.Fatalf("runMigrations returned error: %v", err)
		}
		if !strings.Contains(out.String(), "current version: none") || strings.Contains(out.String(), "pending: 0") {
			t.Fatalf("expected pending migrations, got:\n%s", out.String())
		}
	})

	t.Run("applies migrations and is idempotent", func(t *testing.T) {
		cfg := sqliteConfig(t)

		for i := 0; i < 2; i++ {
			var out bytes.Buffer
			if err := runMigrations(context.Background(), cfg, false, &out, discardLogger()); err != nil {
				t.Fatalf("run %d: runMigrations returned error: %v", i, err)
			}
			if !strings.Contains(out.String(), "pending: 0") {
				t.Fatalf("run %d: expected no pending migrations, got:\n%s", i, out.String())
			}
		}
	})

	t.Run("requires the SQL store", func(t *testing.T) {
		cfg := config.Config{Env: config.Env{Store: config.StoreMemory}}
		if err := runMigrations(context.Background(), cfg, false, io.Discard, discardLogger()); err == nil {
			t.Fatalf("expected an error for the memory store")
		}
	})
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.January, 2, 15, 0, 0, 0, time.UTC)

	for name, cfg := range map[string]config.Config{
		"memory": {Env: config.Env{Store: config.StoreMemory}},
		"sqlite": sqliteConfig(t),
	} {
		t.Run(name, func(t *testing.T) {
			store, err := openStore(ctx, cfg, discardLogger())
			if err != nil {
				t.Fatalf("openStore returned error: %v", err)
			}
			defer store.Close()

			if err := store.Ping(ctx); err != nil {
				t.Fatalf("Ping returned error: %v", err)
			}
			status := persistence.ActiveStatus{CommunityID: "g", MemberID: "m", ActivatedAt: now, ExpiresAt: now.Add(time.Hour), Tags: []string{}}
			if err := store.UpsertActiveStatus(ctx, status); err != nil {
				t.Fatalf("UpsertActiveStatus returned error: %v", err)
			}
			active, err := store.ListActiveStatuses(ctx, "g", now)
			if err != nil || len(active) != 1 {
				t.Fatalf("expected one active status, got %v (%v)", active, err)
			}
		})
	}

	t.Run("rejects unknown backends", func(t *testing.T) {
		if _, err := openStore(ctx, config.Config{Env: config.Env{Store: "redis"}}, discardLogger()); err == nil {
			t.Fatalf("expected an error for an unknown store")
		}
	})
}

func TestHashPassword(t *testing.T) {
	params := application.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

	t.Run("prints a verifiable hash", func(t *testing.T) {
		var out bytes.Buffer
		if err := hashPassword(strings.NewReader("operator-pass\n"), &out, params); err != nil {
			t.Fatalf("hashPassword returned error: %v", err)
		}
		hash := strings.TrimSpace(out.String())
		if err := application.VerifyPassword(hash, "operator-pass"); err != nil {
			t.Fatalf("expected the printed hash to verify, got %v", err)
		}
	})

	t.Run("rejects an empty password", func(t *testing.T) {
		if err := hashPassword(strings.NewReader("\n"), io.Discard, params); err == nil {
			t.Fatalf("expected an error for an empty password")
		}
	})
}

func TestFilterCommunities(t *testing.T) {
	all := []string{"g1", "g2", "g3"}

	if got := filterCommunities(config.Config{}, all); !slices.Equal(got, all) {
		t.Fatalf("expected every community without an allow-list, got %v", got)
	}
	cfg := config.Config{Env: config.Env{Guilds: []string{"g3", "g1"}}}
	if got := filterCommunities(cfg, all); !slices.Equal(got, []string{"g1", "g3"}) {
		t.Fatalf("unexpected filtered communities %v", got)
	}
}

func TestRootCommand(t *testing.T) {
	t.Run("prints the version without configuration", func(t *testing.T) {
		t.Setenv("ROSTER_STORE", "bogus")
		cmd := newRootCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version"})

		if err := cmd.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("version returned error: %v", err)
		}
		if !strings.HasPrefix(out.String(), programName+" ") {
			t.Fatalf("unexpected version output %q", out.String())
		}
	})

	t.Run("reports configuration errors", func(t *testing.T) {
		t.Setenv("ROSTER_STORE", "bogus")
		cmd := newRootCommand()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"migrate"})

		err := cmd.ExecuteContext(context.Background())
		if err == nil || !strings.Contains(err.Error(), "ROSTER_STORE") {
			t.Fatalf("expected a configuration error, got %v", err)
		}
	})

	t.Run("check-token requires a token", func(t *testing.T) {
		t.Setenv("ROSTER_STORE", config.StoreMemory)
		t.Setenv("ROSTER_DISCORD_TOKEN", "")
		cmd := newRootCommand()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"check-token"})

		if err := cmd.ExecuteContext(context.Background()); !errors.Is(err, config.ErrMissingDiscordToken) {
			t.Fatalf("expected ErrMissingDiscordToken, got %v", err)
		}
	})
}

type jobsStub struct {
	mu         sync.Mutex
	reconciled []string
	refreshed  []string
}

func (j *jobsStub) SweepExpired(ctx context.Context, communityID string) (int, error) {
	return 0, nil
}

func (j *jobsStub) RefreshRoster(ctx context.Context, communityID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.refreshed = append(j.refreshed, communityID)
	return nil
}

func (j *jobsStub) Reconcile(ctx context.Context, communityID string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reconciled = append(j.reconciled, communityID)
	return 0, nil
}

func TestAdapters(t *testing.T) {
	jobs := &jobsStub{}
	sched := scheduler.New(jobs, scheduler.Config{Workers: 2}, scheduler.WithLogger(discardLogger()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sched.Stop(ctx); err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	})

	hooks := communityHooks{sched: sched, logger: discardLogger()}
	trigger := refreshTrigger{sched: sched}

	if err := trigger.TriggerRefresh(context.Background(), "g"); !errors.Is(err, scheduler.ErrUnknownCommunity) {
		t.Fatalf("expected ErrUnknownCommunity before the community joins, got %v", err)
	}

	hooks.CommunityJoined(context.Background(), "g")
	deadline := time.Now().Add(5 * time.Second)
	for {
		state, err := sched.State("g")
		if err == nil && state == scheduler.StateRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("community did not start running: state=%v err=%v", state, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := trigger.TriggerRefresh(context.Background(), "g"); err != nil {
		t.Fatalf("TriggerRefresh returned error: %v", err)
	}

	hooks.CommunityLeft(context.Background(), "g")
	hooks.CommunityLeft(context.Background(), "g")
	if got := sched.Communities(); len(got) != 0 {
		t.Fatalf("expected the community to be removed, got %v", got)
	}
}
