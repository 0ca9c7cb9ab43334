package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/party-roster/internal/persistence/sqlite"
)

// NewSQLiteStore opens a migrated store backed by a temporary file. The store
// is closed through tb.Cleanup.
func NewSQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()

	store, err := sqlite.Open(filepath.Join(tb.TempDir(), "roster.db"), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return store
}
