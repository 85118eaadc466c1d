package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config holds configuration for the job engine.
type Config struct {
	// Concurrency is the number of worker slots, i.e. the maximum number
	// of simultaneous leases held by one pool.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is how long an idle slot waits before leasing again
	// when no wake signal arrives.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ShutdownTimeout bounds how long Stop waits for in-flight handlers.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// SweepInterval is how often the pool looks for expired leases.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// LeaseGrace is added to the longest handler timeout to form the
	// lease expiry deadline.
	LeaseGrace time.Duration `yaml:"lease_grace"`

	// SchedulerInterval is the recurrence scheduler tick.
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`

	// SchedulerLockTTL is how long a scheduler instance holds the
	// deployment-wide scheduling lock between ticks.
	SchedulerLockTTL time.Duration `yaml:"scheduler_lock_ttl"`

	// DefaultMaxAttempts applies to enqueues that do not set one.
	DefaultMaxAttempts int `yaml:"default_max_attempts"`

	// DefaultTimeout applies to handlers registered without a timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// BackoffBase, BackoffCap and BackoffJitter parameterize the retry
	// delay: min(cap, base*2^(n-1)) +- jitter*delay.
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	BackoffJitter float64       `yaml:"backoff_jitter"`

	// Store selects and addresses the persistence backend.
	Store StoreConfig `yaml:"store"`

	// RecurrenceFile optionally points at a YAML file of recurrence
	// definitions that the scheduler keeps in sync.
	RecurrenceFile string `yaml:"recurrence_file"`
}

// StoreConfig addresses a persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres", "redis", "mongo".
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`

	// Database names the MongoDB database. Ignored by other drivers.
	Database string `yaml:"database"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		SweepInterval:      15 * time.Second,
		LeaseGrace:         5 * time.Second,
		SchedulerInterval:  1 * time.Second,
		SchedulerLockTTL:   30 * time.Second,
		DefaultMaxAttempts: 3,
		DefaultTimeout:     5 * time.Minute,
		BackoffBase:        1 * time.Second,
		BackoffCap:         10 * time.Minute,
		BackoffJitter:      0.2,
		Store:              StoreConfig{Driver: "memory"},
	}
}

// Validate reports the first invalid field as a *ValidationError.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return &ValidationError{Field: "concurrency", Reason: "must be at least 1"}
	case c.PollInterval <= 0:
		return &ValidationError{Field: "poll_interval", Reason: "must be positive"}
	case c.SweepInterval <= 0:
		return &ValidationError{Field: "sweep_interval", Reason: "must be positive"}
	case c.SchedulerInterval <= 0:
		return &ValidationError{Field: "scheduler_interval", Reason: "must be positive"}
	case c.DefaultMaxAttempts < 1:
		return &ValidationError{Field: "default_max_attempts", Reason: "must be at least 1"}
	case c.DefaultTimeout <= 0:
		return &ValidationError{Field: "default_timeout", Reason: "must be positive"}
	case c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase:
		return &ValidationError{Field: "backoff", Reason: "need 0 < backoff_base <= backoff_cap"}
	case c.BackoffJitter < 0 || c.BackoffJitter > 1:
		return &ValidationError{Field: "backoff_jitter", Reason: "must be within [0, 1]"}
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "redis", "mongo":
	default:
		return &ValidationError{Field: "store.driver", Reason: fmt.Sprintf("unknown driver %q", c.Store.Driver)}
	}
	return nil
}

// LoadConfig reads a YAML config file on top of DefaultConfig. Unknown
// keys are rejected.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("jobs: read config %s: %w", path, err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes YAML config bytes on top of DefaultConfig.
func ParseConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("jobs: decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
