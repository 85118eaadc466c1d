package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the lifecycle part of a backend. The Dispatcher only opens
// and closes it; engine.Build asserts the full store.Store.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is a background component with a start/stop lifecycle.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher holds the configuration, logger and store of one engine and
// sequences the start and stop of its background components: the
// recurrence scheduler and the worker pool.
//
// Build one with New, then hand it to engine.Build.
type Dispatcher struct {
	config Config
	logger *slog.Logger
	store  Storer

	mu         sync.Mutex
	extensions shutdownEmitter
	pool       runner
	scheduler  runner
	started    bool
}

// New creates a Dispatcher. The resulting configuration is validated.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) Logger() *slog.Logger { return d.logger }
func (d *Dispatcher) Store() Storer        { return d.store }

// Config returns a copy of the configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool, SetScheduler and SetExtensions are called by engine.Build.
func (d *Dispatcher) SetPool(p runner)                { d.pool = p }
func (d *Dispatcher) SetScheduler(s runner)           { d.scheduler = s }
func (d *Dispatcher) SetExtensions(e shutdownEmitter) { d.extensions = e }

// Start starts the scheduler, then the pool, so recurrences that are due
// at startup are enqueued before slots begin leasing. Starting a running
// Dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return fmt.Errorf("%w: dispatcher has no worker pool, use engine.Build", ErrNoStore)
	}
	if d.started {
		return nil
	}
	if d.scheduler != nil {
		if err := d.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	if err := d.pool.Start(ctx); err != nil {
		if d.scheduler != nil {
			_ = d.scheduler.Stop(ctx)
		}
		return fmt.Errorf("start pool: %w", err)
	}
	d.started = true
	d.logger.Info("job engine started",
		slog.Int("concurrency", d.config.Concurrency),
		slog.String("store", d.config.Store.Driver),
	)
	return nil
}

// Stop stops the scheduler, drains the pool within ctx (or the configured
// ShutdownTimeout), emits the shutdown hook and closes the store. Errors
// of the individual steps are logged and joined.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.started {
		if d.scheduler != nil {
			if err := d.scheduler.Stop(ctx); err != nil {
				d.logger.Error("scheduler stop failed", slog.String("error", err.Error()))
				errs = append(errs, err)
			}
		}
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Options
// ──────────────────────────────────────────────────

func configure(fn func(*Config)) Option {
	return func(d *Dispatcher) error {
		fn(&d.config)
		return nil
	}
}

// WithConfig replaces the whole configuration, e.g. one from LoadConfig.
func WithConfig(cfg Config) Option { return configure(func(c *Config) { *c = cfg }) }

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) Option { return configure(func(c *Config) { c.Concurrency = n }) }

// WithPollInterval sets how long idle slots wait between lease attempts.
func WithPollInterval(d time.Duration) Option {
	return configure(func(c *Config) { c.PollInterval = d })
}

// WithSchedulerInterval sets the recurrence scheduler tick.
func WithSchedulerInterval(d time.Duration) Option {
	return configure(func(c *Config) { c.SchedulerInterval = d })
}

// WithShutdownTimeout bounds how long Stop waits for in-flight handlers
// when its context has no deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return configure(func(c *Config) { c.ShutdownTimeout = d })
}

// WithDefaultMaxAttempts sets the attempt ceiling of jobs enqueued
// without one.
func WithDefaultMaxAttempts(n int) Option {
	return configure(func(c *Config) { c.DefaultMaxAttempts = n })
}

// WithDefaultTimeout sets the budget of handlers registered without one.
func WithDefaultTimeout(d time.Duration) Option {
	return configure(func(c *Config) { c.DefaultTimeout = d })
}

// WithBackoff sets the retry delay: min(maxDelay, base*2^(n-1)) spread by
// +-jitter.
func WithBackoff(base, maxDelay time.Duration, jitter float64) Option {
	return configure(func(c *Config) {
		c.BackoffBase = base
		c.BackoffCap = maxDelay
		c.BackoffJitter = jitter
	})
}

// WithRecurrenceFile makes the engine load and watch a YAML file of
// recurrence definitions.
func WithRecurrenceFile(path string) Option {
	return configure(func(c *Config) { c.RecurrenceFile = path })
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if l == nil {
			return &ValidationError{Field: "logger", Reason: "must not be nil"}
		}
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. engine.Build requires it to be
// a full store.Store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
