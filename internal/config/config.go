// Package config loads daemon and CLI configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the creatorloop configuration. Values are read from
// ~/.creatorloop/config.yaml, then overridden by CREATORLOOP_* environment
// variables, then by command-line flags.
type Config struct {
	// Listen is the daemon HTTP address.
	Listen string `yaml:"listen" env:"LISTEN"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" env:"DB"`
	// LockTTL bounds how long a decision holds the per-story lock.
	LockTTL time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`

	Scheduler    SchedulerConfig    `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	OutcomeAgent OutcomeAgentConfig `yaml:"outcome_agent" envPrefix:"OUTCOME_"`
	Log          LogConfig          `yaml:"log" envPrefix:"LOG_"`
}

// SchedulerConfig controls the autorun loop.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// PollInterval is how often registered stories are checked for a due cycle.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// MaxConcurrentStories caps parallel decisions per tick.
	MaxConcurrentStories int `yaml:"max_concurrent_stories" env:"CONCURRENCY"`
	// Mode is the autonomy mode requested for scheduled decisions.
	Mode string `yaml:"mode" env:"MODE"`
}

// OutcomeAgentConfig holds defaults for the stale-run outcome agent.
type OutcomeAgentConfig struct {
	Enabled         bool    `yaml:"enabled" env:"ENABLED"`
	Apply           bool    `yaml:"apply" env:"APPLY"`
	StaleAfterHours float64 `yaml:"stale_after_hours" env:"STALE_HOURS"`
	MaxRuns         int     `yaml:"max_runs" env:"MAX_RUNS"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CREATORLOOP_"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:  "127.0.0.1:7466",
		DBPath:  defaultDBPath(),
		LockTTL: 120 * time.Second,
		Scheduler: SchedulerConfig{
			Enabled:              true,
			PollInterval:         5 * time.Minute,
			MaxConcurrentStories: 4,
			Mode:                 "assist",
		},
		OutcomeAgent: OutcomeAgentConfig{
			Enabled:         true,
			Apply:           false,
			StaleAfterHours: 18,
			MaxRuns:         3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Dir returns ~/.creatorloop, falling back to the working directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".creatorloop"
	}
	return filepath.Join(home, ".creatorloop")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func defaultDBPath() string {
	return filepath.Join(Dir(), "creatorloop.db")
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any CREATORLOOP_* variables that are set.
// Unset variables leave the existing value in place.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// SaveConfig writes cfg to path, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.LockTTL < time.Second {
		return fmt.Errorf("lock_ttl must be at least 1s")
	}
	if c.Scheduler.PollInterval < time.Second {
		return fmt.Errorf("scheduler.poll_interval must be at least 1s")
	}
	if c.Scheduler.MaxConcurrentStories < 1 {
		return fmt.Errorf("scheduler.max_concurrent_stories must be at least 1")
	}
	switch c.Scheduler.Mode {
	case "manual", "assist", "auto":
	default:
		return fmt.Errorf("invalid scheduler.mode %q, must be: manual, assist, or auto", c.Scheduler.Mode)
	}
	if c.OutcomeAgent.StaleAfterHours < 1 || c.OutcomeAgent.StaleAfterHours > 720 {
		return fmt.Errorf("outcome_agent.stale_after_hours must be within [1, 720]")
	}
	if c.OutcomeAgent.MaxRuns < 1 || c.OutcomeAgent.MaxRuns > 10 {
		return fmt.Errorf("outcome_agent.max_runs must be within [1, 10]")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q, must be: json or console", c.Log.Format)
	}
	return nil
}
