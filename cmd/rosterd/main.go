package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/example/party-roster/internal/config"
	"github.com/example/party-roster/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const programName = "rosterd"

// version is set at build time with -ldflags "-X main.version=...".
var version = "devel"

var globalFlags = struct {
	debug      bool
	layoutFile string
}{}

type configKey struct{}

func withConfig(ctx context.Context, cfg config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) (config.Config, bool) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	return cfg, ok
}

// commonRun builds the process logger and sizes GOMAXPROCS to the container quota.
func commonRun(w io.Writer, debug bool) *slog.Logger {
	logger := logging.New(w, debug).With("component", programName)
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		logger.Info(fmt.Sprintf(format, v...))
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}
	logger.Info("starting", "version", version)
	return logger
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Roster lifecycle and community layout service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.layoutFile, "layout", "", "path to a YAML layout file (overrides ROSTER_LAYOUT_FILE)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Annotations["config"] == "skip" {
			return nil
		}
		cfg, err := config.Load(globalFlags.layoutFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if globalFlags.debug {
			cfg.Debug = true
		}
		cmd.SetContext(withConfig(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(checkTokenCommand())
	rootCmd.AddCommand(hashPasswordCommand())
	rootCmd.AddCommand(versionCommand())
	return rootCmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Annotations: map[string]string{"config": "skip"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", programName, version)
		},
	}
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
