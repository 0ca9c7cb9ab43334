package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/config"
	httptransport "github.com/example/party-roster/internal/http"
	"github.com/example/party-roster/internal/persistence"
	"github.com/example/party-roster/internal/persistence/memory"
	"github.com/example/party-roster/internal/persistence/sqlite"
	"github.com/example/party-roster/internal/platform/discord"
	"github.com/example/party-roster/internal/reconcile"
	"github.com/example/party-roster/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the roster service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, ok := configFrom(cmd.Context())
			if !ok {
				return errors.New("no config found in context")
			}
			if err := cfg.RequireDiscordToken(); err != nil {
				return err
			}
			logger := commonRun(os.Stdout, cfg.Debug)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// statusStore is the repository plus lifecycle the service needs from a backend.
type statusStore interface {
	persistence.ActiveStatusRepository
	Ping(ctx context.Context) error
	Close() error
}

// openStore opens the configured backend. SQL stores are migrated before use.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (statusStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using the in-memory store; active statuses are lost on restart")
		return memory.New(), nil
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLiteDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close store", "error", cerr)
		}
	}()

	client, err := discord.New(cfg.DiscordToken, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	statuses := application.NewStatusStoreWithLogger(store, cfg.Layout.TagKeys(), time.Now, logger)
	reconciler := reconcile.New(client, reconcile.WithLogger(logger), reconcile.WithPromRegistry(registry))
	lifecycle := application.NewLifecycleServiceWithLogger(statuses, client, client, reconciler, cfg.Layout, logger)
	sched := scheduler.New(lifecycle, cfg.Scheduler(), scheduler.WithLogger(logger), scheduler.WithPromRegistry(registry))
	transitions := application.NewStatusServiceWithLogger(statuses, client, cfg.Layout, refreshTrigger{sched: sched}, logger)

	router := discord.NewRouter(transitions, communityHooks{sched: sched, logger: logger}, cfg.Guilds, logger)
	router.Register(client.Session())
	if err := client.Open(); err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Error("failed to close discord session", "error", cerr)
		}
	}()

	communities, err := client.Communities(ctx)
	if err != nil {
		return fmt.Errorf("list communities: %w", err)
	}
	communities = filterCommunities(cfg, communities)
	logger.Info("starting lifecycle scheduler", "communities", len(communities))
	if err := sched.Start(ctx, communities); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	server := newHTTPServer(cfg, statuses.Now, lifecycle, sched, registry, logger)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("admin API: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to shutdown admin API", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler did not stop cleanly", "error", err)
	}
	return runErr
}

func newHTTPServer(cfg config.Config, now func() time.Time, lifecycle *application.LifecycleService, sched *scheduler.Scheduler, gatherer prometheus.Gatherer, logger *slog.Logger) *http.Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	auth := application.NewAuthServiceWithLogger(cfg.AdminPasswordHash, []byte(cfg.AdminSecret), nil, uuid.NewString, now, cfg.AdminTokenTTL, logger)
	if !auth.Enabled() {
		logger.Warn("operator login is disabled; set ROSTER_ADMIN_SECRET and ROSTER_ADMIN_PASSWORD_HASH to enable it")
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:        httptransport.NewAuthHandler(auth, logger),
		Communities: httptransport.NewCommunityHandler(lifecycle, sched, logger),
		Verifier:    auth,
		Gatherer:    gatherer,
		Logger:      logger,
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Operator tasks wait for their run to finish.
		WriteTimeout: cfg.TaskTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func filterCommunities(cfg config.Config, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if cfg.AllowsCommunity(id) {
			out = append(out, id)
		}
	}
	return out
}
