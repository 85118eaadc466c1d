package jobs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobs "github.com/MickLesk/syncspace-sub002"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := jobs.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.DefaultMaxAttempts)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*jobs.Config)
		field string
	}{
		{"zero concurrency", func(c *jobs.Config) { c.Concurrency = 0 }, "concurrency"},
		{"zero poll", func(c *jobs.Config) { c.PollInterval = 0 }, "poll_interval"},
		{"zero sweep", func(c *jobs.Config) { c.SweepInterval = 0 }, "sweep_interval"},
		{"zero scheduler tick", func(c *jobs.Config) { c.SchedulerInterval = 0 }, "scheduler_interval"},
		{"zero attempts", func(c *jobs.Config) { c.DefaultMaxAttempts = 0 }, "default_max_attempts"},
		{"zero timeout", func(c *jobs.Config) { c.DefaultTimeout = 0 }, "default_timeout"},
		{"cap below base", func(c *jobs.Config) { c.BackoffCap = c.BackoffBase / 2 }, "backoff"},
		{"jitter above one", func(c *jobs.Config) { c.BackoffJitter = 1.5 }, "backoff_jitter"},
		{"unknown driver", func(c *jobs.Config) { c.Store.Driver = "cassandra" }, "store.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jobs.DefaultConfig()
			tt.mut(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, jobs.ErrValidation)

			var ve *jobs.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestParseConfig_OverlaysDefaults(t *testing.T) {
	cfg, err := jobs.ParseConfig([]byte(`
concurrency: 4
backoff_base: 2s
store:
  driver: sqlite
  dsn: /var/lib/jobs/jobs.db
`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/jobs/jobs.db", cfg.Store.DSN)
	assert.Equal(t, jobs.DefaultConfig().PollInterval, cfg.PollInterval)
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := jobs.ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, jobs.DefaultConfig(), cfg)
}

func TestParseConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := jobs.ParseConfig([]byte("concurrrency: 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestParseConfig_ValidatesResult(t *testing.T) {
	_, err := jobs.ParseConfig([]byte("backoff_jitter: 2\n"))
	require.ErrorIs(t, err, jobs.ErrValidation)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 2\n"), 0o600))

	cfg, err := jobs.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Concurrency)

	_, err = jobs.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
