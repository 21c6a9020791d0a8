package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 120*time.Second, cfg.LockTTL)
	assert.Equal(t, 3, cfg.OutcomeAgent.MaxRuns)
	assert.Equal(t, 18.0, cfg.OutcomeAgent.StaleAfterHours)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen: 0.0.0.0:9000
lock_ttl: 30s
scheduler:
  poll_interval: 1m
  max_concurrent_stories: 2
outcome_agent:
  max_runs: 5
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("CREATORLOOP_SCHEDULER_CONCURRENCY", "8")
	t.Setenv("CREATORLOOP_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrentStories)
	assert.Equal(t, 5, cfg.OutcomeAgent.MaxRuns)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched fields keep defaults
	assert.Equal(t, "assist", cfg.Scheduler.Mode)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  mode: yolo\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.mode")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:8123"
	cfg.OutcomeAgent.Apply = true

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	require.Error(t, SaveConfig(path, nil))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"short ttl", func(c *Config) { c.LockTTL = time.Millisecond }},
		{"zero concurrency", func(c *Config) { c.Scheduler.MaxConcurrentStories = 0 }},
		{"stale hours", func(c *Config) { c.OutcomeAgent.StaleAfterHours = 0 }},
		{"max runs", func(c *Config) { c.OutcomeAgent.MaxRuns = 11 }},
		{"log level", func(c *Config) { c.Log.Level = "trace" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
