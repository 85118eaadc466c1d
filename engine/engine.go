package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/backoff"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/dlq"
	"github.com/MickLesk/syncspace-sub002/event"
	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	mw "github.com/MickLesk/syncspace-sub002/middleware"
	"github.com/MickLesk/syncspace-sub002/observability"
	"github.com/MickLesk/syncspace-sub002/queue"
	"github.com/MickLesk/syncspace-sub002/store"
	"github.com/MickLesk/syncspace-sub002/stream"
	"github.com/MickLesk/syncspace-sub002/worker"
)

const instrumentationName = "github.com/MickLesk/syncspace-sub002"

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *jobs.Dispatcher
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	queue      *queue.Queue
	pool       *worker.Pool
	scheduler  *cron.Scheduler
	limiter    *queue.Limiter
	dlq        *dlq.Service
	bus        *event.Bus
	broker     *stream.Broker
	bo         backoff.Strategy
	mws        []mw.Middleware
	sinks      []event.Sink
	now        func() time.Time
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchGroup  *errgroup.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default stack, closest to the handler.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set, exponential
// backoff with jitter is built from the config's backoff fields.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithLimits sets per-job-type rate limits and concurrency caps. Types
// not listed have no limits.
func WithLimits(limits ...queue.Limit) Option {
	return func(eng *Engine) {
		for _, l := range limits {
			eng.limiter.SetLimit(l)
		}
	}
}

// WithEventSink adds a sink that receives one event per job transition.
func WithEventSink(s event.Sink) Option {
	return func(eng *Engine) {
		eng.sinks = append(eng.sinks, s)
	}
}

// WithClock overrides the time source of the queue and scheduler.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement store.Store.
func Build(d *jobs.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	config := d.Config()

	if d.Store() == nil {
		return nil, jobs.ErrNoStore
	}
	s, ok := d.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("jobs: store %T does not implement store.Store", d.Store())
	}

	eng := &Engine{
		d:          d,
		store:      s,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		limiter:    queue.NewLimiter(),
		now:        time.Now,
		logger:     logger,
	}
	eng.registry.SetDefaultTimeout(config.DefaultTimeout)

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.NewExponentialWithJitter(config.BackoffBase, config.BackoffCap, config.BackoffJitter)
	}

	// Live fan-out rides on the event bus; the broker also hears
	// recurrence fires and shutdown directly.
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)
	eng.bus = event.NewBus(append([]event.Sink{eng.broker}, eng.sinks...)...)
	eng.extensions.Register(eng.bus)

	var (
		tracingMw mw.Middleware
		metricsMw mw.Middleware
		obsExt    *observability.MetricsExtension
	)
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.queue = queue.New(s, eng.registry,
		queue.WithBackoff(eng.bo),
		queue.WithExtensions(eng.extensions),
		queue.WithLogger(logger),
		queue.WithClock(eng.now),
		queue.WithDefaultMaxAttempts(config.DefaultMaxAttempts),
	)

	eng.dlq = dlq.NewService(eng.queue)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger, eng.registry.TimeoutOf),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.queue, logger, worker.WithMiddleware(allMws...))
	eng.pool = worker.NewPool(eng.queue, executor, logger,
		worker.WithConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithSweepInterval(config.SweepInterval),
		worker.WithLeaseGrace(config.LeaseGrace),
		worker.WithShutdownTimeout(config.ShutdownTimeout),
		worker.WithLimiter(eng.limiter),
	)

	eng.scheduler = cron.NewScheduler(s, eng.queue, eng.pool.WorkerID(), logger,
		cron.WithTickInterval(config.SchedulerInterval),
		cron.WithLockTTL(config.SchedulerLockTTL),
		cron.WithEmitter(eng.extensions),
		cron.WithClock(eng.now),
	)

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetScheduler(eng.scheduler)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// ──────────────────────────────────────────────────
// Handler registration
// ──────────────────────────────────────────────────

// Register registers a typed job definition with the engine.
func Register[T, R any](eng *Engine, def *job.Definition[T, R]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// RegisterFunc registers a raw handler working on JSON bytes. A zero
// timeout uses the configured default.
func (eng *Engine) RegisterFunc(jobType string, fn job.HandlerFunc, timeout time.Duration, defaults ...job.Option) error {
	return eng.registry.Register(jobType, fn, timeout, defaults...)
}

// ──────────────────────────────────────────────────
// Producer API
// ──────────────────────────────────────────────────

// Enqueue marshals payload to JSON and enqueues a job of jobType.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.Nil, &jobs.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return eng.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. Options start
// from the defaults registered with the job type.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	jobOpts := job.DefaultOptions()
	if h, ok := eng.registry.Get(jobType); ok {
		jobOpts = h.Defaults
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	j := &job.Job{
		Type:         jobType,
		Payload:      payload,
		Priority:     jobOpts.Priority,
		MaxAttempts:  jobOpts.MaxAttempts,
		ScheduledAt:  jobOpts.ScheduledAt,
		RecurrenceID: jobOpts.RecurrenceID,
	}
	if j.ScheduledAt.IsZero() && jobOpts.Delay > 0 {
		j.ScheduledAt = eng.now().UTC().Add(jobOpts.Delay)
	}
	return eng.queue.Enqueue(ctx, j)
}

// Cancel cancels a Pending or Retrying job. Running and terminal jobs
// yield an error matching jobs.ErrInvalidState.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	_, err := eng.queue.Cancel(ctx, jobID)
	return err
}

// Abort signals the handler of a Running job to stop. The attempt then
// ends as permanently Failed with jobs.ErrInterrupted in its error, or
// completes if the handler finished first. A handler that ignores the
// signal is abandoned once its timeout elapses.
//
// Pending and Retrying jobs are stopped with Cancel instead; for them
// and for terminal jobs Abort returns an error matching
// jobs.ErrInvalidState. A Running job leased by another process yields
// jobs.ErrNotRunningHere.
func (eng *Engine) Abort(ctx context.Context, jobID id.JobID) error {
	j, err := eng.queue.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != job.StatusRunning {
		return &jobs.InvalidStateError{JobID: jobID.String(), From: string(j.Status), To: string(job.StatusFailed)}
	}
	if !eng.pool.Interrupt(jobID) {
		return jobs.ErrNotRunningHere
	}
	eng.logger.Info("job abort requested",
		slog.String("job_id", jobID.String()),
		slog.String("job_type", j.Type),
	)
	return nil
}

// GetStatus returns the producer view of a job.
func (eng *Engine) GetStatus(ctx context.Context, jobID id.JobID) (job.View, error) {
	j, err := eng.queue.Get(ctx, jobID)
	if err != nil {
		return job.View{}, err
	}
	return j.View(), nil
}

// List returns views of the jobs matching f.
func (eng *Engine) List(ctx context.Context, f job.Filter) ([]job.View, error) {
	list, err := eng.queue.List(ctx, f)
	if err != nil {
		return nil, err
	}
	views := make([]job.View, 0, len(list))
	for _, j := range list {
		views = append(views, j.View())
	}
	return views, nil
}

// Replay enqueues a fresh copy of a Failed job and returns its ID.
func (eng *Engine) Replay(ctx context.Context, jobID id.JobID) (id.JobID, error) {
	return eng.dlq.Replay(ctx, jobID)
}

// ──────────────────────────────────────────────────
// Recurrences
// ──────────────────────────────────────────────────

// AddRecurrence upserts a recurrence definition by name. The job type
// must be registered. On return def carries its persisted ID.
func (eng *Engine) AddRecurrence(ctx context.Context, def *cron.Definition) error {
	if !eng.registry.Has(def.JobType) {
		return &jobs.ValidationError{Field: "job_type", Reason: fmt.Sprintf("%q is not registered", def.JobType)}
	}
	if err := eng.scheduler.Apply(ctx, def); err != nil {
		return err
	}
	eng.logRecurrence("recurrence registered", def)
	return nil
}

// RemoveRecurrence deletes a recurrence. Jobs it already enqueued are
// kept.
func (eng *Engine) RemoveRecurrence(ctx context.Context, recID id.RecurrenceID) error {
	def, err := eng.store.GetRecurrence(ctx, recID)
	if err != nil {
		return err
	}
	if err := eng.scheduler.Remove(ctx, recID); err != nil {
		return err
	}
	eng.logRecurrence("recurrence removed", def)
	return nil
}

// SetRecurrenceEnabled enables or disables a recurrence.
func (eng *Engine) SetRecurrenceEnabled(ctx context.Context, recID id.RecurrenceID, enabled bool) error {
	return eng.scheduler.SetEnabled(ctx, recID, enabled)
}

// Recurrences lists all recurrence definitions ordered by ID.
func (eng *Engine) Recurrences(ctx context.Context) ([]*cron.Definition, error) {
	return eng.store.ListRecurrences(ctx)
}

// applyDefinitions makes the file-owned recurrences match defs.
func (eng *Engine) applyDefinitions(ctx context.Context, defs []*cron.Definition) error {
	for _, d := range defs {
		if !eng.registry.Has(d.JobType) {
			return fmt.Errorf("recurrence %q: %w", d.Name,
				&jobs.ValidationError{Field: "job_type", Reason: fmt.Sprintf("%q is not registered", d.JobType)})
		}
	}
	removed, err := eng.scheduler.Sync(ctx, cron.SourceFile, defs)
	for _, d := range removed {
		eng.logRecurrence("recurrence removed", d)
	}
	if err != nil {
		return err
	}
	for _, d := range defs {
		eng.logRecurrence("recurrence registered", d)
	}
	return nil
}

func (eng *Engine) logRecurrence(msg string, d *cron.Definition) {
	eng.logger.Info(msg,
		slog.String("recurrence_id", d.ID.String()),
		slog.String("name", d.Name),
		slog.String("schedule", d.Schedule),
		slog.String("job_type", d.JobType),
	)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start begins job processing. When a recurrence file is configured it
// is applied first and then watched for changes.
func (eng *Engine) Start(ctx context.Context) error {
	if path := eng.d.Config().RecurrenceFile; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("jobs: read recurrence file: %w", err)
		}
		defs, err := cron.ParseDefinitions(raw)
		if err != nil {
			return err
		}
		if err := eng.applyDefinitions(ctx, defs); err != nil {
			return err
		}
		eng.startWatch(path, raw)
	}
	return eng.d.Start(ctx)
}

func (eng *Engine) startWatch(path string, applied []byte) {
	eng.watchMu.Lock()
	defer eng.watchMu.Unlock()
	if eng.watchGroup != nil {
		return
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(watchCtx)
	g.Go(func() error {
		return cron.WatchDefinitions(gctx, path, eng.applyDefinitions, eng.logger, cron.WithApplied(applied))
	})
	eng.watchCancel = cancel
	eng.watchGroup = g
}

// Stop stops the recurrence file watcher, the scheduler and the pool,
// then closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.watchMu.Lock()
	g, cancel := eng.watchGroup, eng.watchCancel
	eng.watchGroup, eng.watchCancel = nil, nil
	eng.watchMu.Unlock()

	if g != nil {
		cancel()
		if err := g.Wait(); err != nil {
			eng.logger.Warn("recurrence watcher stopped with error", slog.String("error", err.Error()))
		}
	}
	return eng.d.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Queue returns the job queue.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the recurrence scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Limiter returns the per-type limiter.
func (eng *Engine) Limiter() *queue.Limiter { return eng.limiter }

// DeadLetters returns the failed-job service.
func (eng *Engine) DeadLetters() *dlq.Service { return eng.dlq }

// Stream returns the live event broker.
func (eng *Engine) Stream() *stream.Broker { return eng.broker }

// Store returns the persistence backend.
func (eng *Engine) Store() store.Store { return eng.store }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *jobs.Dispatcher { return eng.d }
