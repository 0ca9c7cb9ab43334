package sqlite

import (
	"context"
	"embed"
	"log/slog"

	"github.com/example/party-roster/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is the SQL-backed persistence layer.
type Store struct {
	*ActiveStatusRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

// Open connects to the database described by dsn with the default settings.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	return OpenWithConfig(migration.DefaultSQLiteConfig(dsn), logger)
}

// OpenWithConfig connects using an explicit configuration.
func OpenWithConfig(config migration.SQLiteConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Store{
		ActiveStatusRepository: NewActiveStatusRepository(pool),
		pool:                   pool,
		logger:                 logger,
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return migration.NewManager(s.pool.DB(), migrationFiles, "migrations", s.logger).Run(ctx)
}

// MigrationStatus reports applied and pending schema versions.
func (s *Store) MigrationStatus(ctx context.Context) (migration.Status, error) {
	return migration.NewManager(s.pool.DB(), migrationFiles, "migrations", s.logger).Status(ctx)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
