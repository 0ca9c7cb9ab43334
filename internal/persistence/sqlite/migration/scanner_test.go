package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScan(t *testing.T) {
	t.Parallel()

	t.Run("orders migrations numerically", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{
			"migrations/010_add_index.sql":     {Data: []byte("CREATE INDEX idx ON t (a);")},
			"migrations/002_create_table.sql":  {Data: []byte("CREATE TABLE t (a INTEGER);")},
			"migrations/README.md":             {Data: []byte("ignored")},
			"migrations/001_initial_setup.sql": {Data: []byte("-- nothing yet\nSELECT 1;")},
		}

		migrations, err := Scan(fsys, "migrations")
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		if len(migrations) != 3 {
			t.Fatalf("expected 3 migrations, got %d", len(migrations))
		}
		got := []string{migrations[0].Version, migrations[1].Version, migrations[2].Version}
		want := []string{"001", "002", "010"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected order %v, got %v", want, got)
			}
		}
		if migrations[1].Description != "create table" {
			t.Fatalf("unexpected description %q", migrations[1].Description)
		}
		if migrations[0].Checksum == "" {
			t.Fatalf("expected checksum to be populated")
		}
	})

	t.Run("rejects malformed filenames", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{"migrations/create.sql": {Data: []byte("SELECT 1;")}}
		_, err := Scan(fsys, "migrations")
		if !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{
			"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
			"migrations/001_b.sql": {Data: []byte("SELECT 2;")},
		}
		_, err := Scan(fsys, "migrations")
		if !errors.Is(err, ErrDuplicateVersion) {
			t.Fatalf("expected ErrDuplicateVersion, got %v", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	statements := splitStatements("-- header\nCREATE TABLE a (x INTEGER);\n\n-- trailing comment\nCREATE INDEX i ON a (x);\n")
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if statements[0] != "CREATE TABLE a (x INTEGER)" {
		t.Fatalf("unexpected first statement %q", statements[0])
	}
}
