package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/example/party-roster/internal/config"
	"github.com/example/party-roster/internal/persistence/sqlite"
	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the SQL store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, ok := configFrom(cmd.Context())
			if !ok {
				return errors.New("no config found in context")
			}
			logger := commonRun(cmd.ErrOrStderr(), cfg.Debug)
			return runMigrations(cmd.Context(), cfg, statusOnly, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "report applied and pending migrations without applying them")
	return cmd
}

func runMigrations(ctx context.Context, cfg config.Config, statusOnly bool, out io.Writer, logger *slog.Logger) error {
	if cfg.Store != config.StoreSQLite {
		return fmt.Errorf("migrations require ROSTER_STORE=%s, got %q", config.StoreSQLite, cfg.Store)
	}
	store, err := sqlite.Open(cfg.SQLiteDSN, logger)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close store", "error", cerr)
		}
	}()

	if !statusOnly {
		start := time.Now()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("migrations applied", "duration", time.Since(start))
	}

	status, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	current := status.CurrentVersion
	if current == "" {
		current = "none"
	}
	fmt.Fprintf(out, "current version: %s\n", current)
	fmt.Fprintf(out, "applied: %d\n", len(status.Applied))
	fmt.Fprintf(out, "pending: %d\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s %s\n", m.Version, m.Description)
	}
	return nil
}
