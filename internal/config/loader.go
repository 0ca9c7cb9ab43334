package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/example/party-roster/internal/layout"
	"github.com/example/party-roster/internal/scheduler"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "roster"

// Store backends accepted by ROSTER_STORE.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// ErrMissingDiscordToken is returned by RequireDiscordToken when no token is configured.
var ErrMissingDiscordToken = errors.New("missing required environment variables: ROSTER_DISCORD_TOKEN")

// Env holds the values read from ROSTER_* environment variables.
type Env struct {
	DiscordToken      string        `envconfig:"DISCORD_TOKEN"`
	Store             string        `envconfig:"STORE" default:"sqlite"`
	SQLiteDSN         string        `envconfig:"SQLITE_DSN" default:"file:roster.db"`
	HTTPPort          int           `envconfig:"HTTP_PORT" default:"3001"`
	AdminSecret       string        `envconfig:"ADMIN_SECRET"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminTokenTTL     time.Duration `envconfig:"ADMIN_TOKEN_TTL" default:"12h"`
	ActiveTTL         time.Duration `envconfig:"ACTIVE_TTL" default:"4h"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	RefreshInterval   time.Duration `envconfig:"REFRESH_INTERVAL" default:"10m"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"30m"`
	TaskTimeout       time.Duration `envconfig:"TASK_TIMEOUT" default:"2m"`
	Workers           int           `envconfig:"WORKERS" default:"4"`
	Guilds            []string      `envconfig:"GUILDS"`
	LayoutFile        string        `envconfig:"LAYOUT_FILE"`
	Debug             bool          `envconfig:"DEBUG"`
}

// Config captures the service configuration: environment values plus the community layout.
type Config struct {
	Env
	Layout layout.Config
}

// Load reads the environment and the layout file. layoutFile overrides
// ROSTER_LAYOUT_FILE when set; with neither, the built-in layout is used.
//
// Missing and invalid variables are reported together.
func Load(layoutFile string) (Config, error) {
	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		// Processing stops at the first malformed value; later fields are unset.
		var parseErr *envconfig.ParseError
		if errors.As(err, &parseErr) {
			return Config{}, fmt.Errorf("invalid environment variables: %s", parseErr.KeyName)
		}
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 2)

	env.DiscordToken = strings.TrimSpace(env.DiscordToken)
	env.Store = strings.ToLower(strings.TrimSpace(env.Store))
	env.SQLiteDSN = strings.TrimSpace(env.SQLiteDSN)
	env.AdminSecret = strings.TrimSpace(env.AdminSecret)
	env.AdminPasswordHash = strings.TrimSpace(env.AdminPasswordHash)
	env.Guilds = trimAll(env.Guilds)

	switch env.Store {
	case StoreSQLite:
		if env.SQLiteDSN == "" {
			missing = append(missing, "ROSTER_SQLITE_DSN")
		}
	case StoreMemory:
	default:
		invalid = appendOnce(invalid, "ROSTER_STORE")
	}

	// Operator login needs both halves.
	if env.AdminSecret != "" && env.AdminPasswordHash == "" {
		missing = append(missing, "ROSTER_ADMIN_PASSWORD_HASH")
	}
	if env.AdminPasswordHash != "" && env.AdminSecret == "" {
		missing = append(missing, "ROSTER_ADMIN_SECRET")
	}

	if env.HTTPPort <= 0 || env.HTTPPort > 65535 {
		invalid = appendOnce(invalid, "ROSTER_HTTP_PORT")
	}
	if env.Workers <= 0 {
		invalid = appendOnce(invalid, "ROSTER_WORKERS")
	}
	for key, value := range map[string]time.Duration{
		"ROSTER_ADMIN_TOKEN_TTL":    env.AdminTokenTTL,
		"ROSTER_ACTIVE_TTL":         env.ActiveTTL,
		"ROSTER_SWEEP_INTERVAL":     env.SweepInterval,
		"ROSTER_REFRESH_INTERVAL":   env.RefreshInterval,
		"ROSTER_RECONCILE_INTERVAL": env.ReconcileInterval,
		"ROSTER_TASK_TIMEOUT":       env.TaskTimeout,
	} {
		if value <= 0 {
			invalid = appendOnce(invalid, key)
		}
	}

	if len(missing) > 0 || len(invalid) > 0 {
		var problems []string
		if len(missing) > 0 {
			problems = append(problems, "missing required environment variables: "+strings.Join(missing, ", "))
		}
		if len(invalid) > 0 {
			slices.Sort(invalid)
			problems = append(problems, "invalid environment variables: "+strings.Join(invalid, ", "))
		}
		return Config{}, errors.New(strings.Join(problems, "; "))
	}

	if strings.TrimSpace(layoutFile) != "" {
		env.LayoutFile = strings.TrimSpace(layoutFile)
	}
	cfg, err := LoadLayout(env.LayoutFile, env.ActiveTTL)
	if err != nil {
		return Config{}, err
	}
	return Config{Env: env, Layout: cfg}, nil
}

// RequireDiscordToken reports whether the platform token is configured.
func (c Config) RequireDiscordToken() error {
	if c.DiscordToken == "" {
		return ErrMissingDiscordToken
	}
	return nil
}

// AuthEnabled reports whether the operator login endpoint is configured.
func (c Config) AuthEnabled() bool {
	return c.AdminSecret != "" && c.AdminPasswordHash != ""
}

// Scheduler returns the lifecycle scheduler settings.
func (c Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		SweepInterval:     c.SweepInterval,
		RefreshInterval:   c.RefreshInterval,
		ReconcileInterval: c.ReconcileInterval,
		TaskTimeout:       c.TaskTimeout,
		Workers:           c.Workers,
	}
}

// AllowsCommunity reports whether the service should manage communityID.
// An empty allow-list admits every community.
func (c Config) AllowsCommunity(communityID string) bool {
	return len(c.Guilds) == 0 || slices.Contains(c.Guilds, communityID)
}

// LoadLayout reads a YAML layout file and overlays it on the built-in layout.
// Unknown keys are rejected. An empty path yields the built-in layout.
func LoadLayout(path string, activeTTL time.Duration) (layout.Config, error) {
	cfg := layout.Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return layout.Config{}, fmt.Errorf("read layout file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return layout.Config{}, fmt.Errorf("parse layout file %s: %w", path, err)
		}
	}
	if activeTTL > 0 {
		cfg.ActiveTTL = activeTTL
	}
	if err := layout.Validate(cfg); err != nil {
		return layout.Config{}, err
	}
	return cfg, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func appendOnce(values []string, value string) []string {
	if slices.Contains(values, value) {
		return values
	}
	return append(values, value)
}
