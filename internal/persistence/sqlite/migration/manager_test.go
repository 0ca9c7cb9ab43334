package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestManager_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies pending migrations once", func(t *testing.T) {
		t.Parallel()

		db, err := Open(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "run.db")))
		if err != nil {
			t.Fatalf("Open returned error: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })

		fsys := fstest.MapFS{
			"migrations/001_create_widgets.sql": {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
			"migrations/002_seed_widgets.sql":   {Data: []byte("INSERT INTO widgets (name) VALUES ('a');\nINSERT INTO widgets (name) VALUES ('b');")},
		}
		manager := NewManager(db, fsys, "migrations", nil)

		if err := manager.Run(ctx); err != nil {
			t.Fatalf("first Run returned error: %v", err)
		}
		if err := manager.Run(ctx); err != nil {
			t.Fatalf("second Run returned error: %v", err)
		}

		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count); err != nil {
			t.Fatalf("count query failed: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected seed to run once (2 rows), got %d", count)
		}

		status, err := manager.Status(ctx)
		if err != nil {
			t.Fatalf("Status returned error: %v", err)
		}
		if status.CurrentVersion != "002" || len(status.Pending) != 0 || len(status.Applied) != 2 {
			t.Fatalf("unexpected status %+v", status)
		}
	})

	t.Run("rolls back a failing migration", func(t *testing.T) {
		t.Parallel()

		db, err := Open(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "fail.db")))
		if err != nil {
			t.Fatalf("Open returned error: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })

		fsys := fstest.MapFS{
			"migrations/001_broken.sql": {Data: []byte("CREATE TABLE ok_table (id INTEGER);\nINSERT INTO missing_table VALUES (1);")},
		}
		manager := NewManager(db, fsys, "migrations", nil)

		err = manager.Run(ctx)
		if !errors.Is(err, ErrMigrationFailed) {
			t.Fatalf("expected ErrMigrationFailed, got %v", err)
		}

		var name string
		err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'ok_table'`).Scan(&name)
		if err == nil {
			t.Fatalf("expected ok_table to be rolled back")
		}

		status, err := manager.Status(ctx)
		if err != nil {
			t.Fatalf("Status returned error: %v", err)
		}
		if len(status.Pending) != 1 {
			t.Fatalf("expected failed migration to stay pending, got %+v", status)
		}
	})

	t.Run("detects edited migrations", func(t *testing.T) {
		t.Parallel()

		db, err := Open(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "checksum.db")))
		if err != nil {
			t.Fatalf("Open returned error: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })

		original := fstest.MapFS{"migrations/001_create.sql": {Data: []byte("CREATE TABLE t (id INTEGER);")}}
		if err := NewManager(db, original, "migrations", nil).Run(ctx); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}

		edited := fstest.MapFS{"migrations/001_create.sql": {Data: []byte("CREATE TABLE t (id INTEGER, extra TEXT);")}}
		err = NewManager(db, edited, "migrations", nil).Run(ctx)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("expected ErrChecksumMismatch, got %v", err)
		}
	})
}

func TestSQLiteConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultSQLiteConfig("roster.db").Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg := DefaultSQLiteConfig("")
	cfg.JournalMode = "SIDEWAYS"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for empty DSN and bad journal mode")
	}
}
