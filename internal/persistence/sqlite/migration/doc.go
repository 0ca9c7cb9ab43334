// Package migration applies versioned SQL schema changes to a SQLite database.
//
// Migrations are read from an fs.FS (normally an embed.FS compiled into the
// binary) and must be named {version}_{description}.sql, for example
// "001_create_active_statuses.sql". Applied versions are tracked in the
// schema_migrations table so each file runs once, inside its own transaction.
//
// Example usage:
//
//	db, err := migration.Open(migration.DefaultSQLiteConfig("roster.db"))
//	...
//	manager := migration.NewManager(db, migrationFiles, "migrations", logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
