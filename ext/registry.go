package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// named pairs a hook with the name of the extension that provides it.
type named[H any] struct {
	ext  string
	hook H
}

// subscribe appends e to list when e implements H.
func subscribe[H any](list []named[H], e Extension) []named[H] {
	if h, ok := e.(H); ok {
		list = append(list, named[H]{ext: e.Name(), hook: h})
	}
	return list
}

// Registry holds extensions and fans lifecycle events out to those that
// implement the matching hook. Hook lists are built at registration time
// so an emit only visits interested extensions.
//
// Register everything before the engine starts; emits are not
// synchronized against concurrent registration.
type Registry struct {
	logger     *slog.Logger
	extensions []Extension

	enqueued   []named[JobEnqueued]
	started    []named[JobStarted]
	completed  []named[JobCompleted]
	failed     []named[JobFailed]
	retrying   []named[JobRetrying]
	cancelled  []named[JobCancelled]
	recovered  []named[JobRecovered]
	recurrence []named[RecurrenceFired]
	shutdown   []named[Shutdown]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds e. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.enqueued = subscribe(r.enqueued, e)
	r.started = subscribe(r.started, e)
	r.completed = subscribe(r.completed, e)
	r.failed = subscribe(r.failed, e)
	r.retrying = subscribe(r.retrying, e)
	r.cancelled = subscribe(r.cancelled, e)
	r.recovered = subscribe(r.recovered, e)
	r.recurrence = subscribe(r.recurrence, e)
	r.shutdown = subscribe(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// emit calls fn for every hook in list. Errors and panics are logged and
// swallowed: a misbehaving observer never affects a job transition.
func emit[H any](r *Registry, event string, list []named[H], fn func(H) error) {
	for _, n := range list {
		if err := safeCall(n.hook, fn); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", event),
				slog.String("extension", n.ext),
				slog.String("error", err.Error()),
			)
		}
	}
}

func safeCall[H any](hook H, fn func(H) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return fn(hook)
}

// ──────────────────────────────────────────────────
// Job events
// ──────────────────────────────────────────────────

func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	emit(r, "OnJobEnqueued", r.enqueued, func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, j) })
}

func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, "OnJobStarted", r.started, func(h JobStarted) error { return h.OnJobStarted(ctx, j) })
}

func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, "OnJobCompleted", r.completed, func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, cause error) {
	emit(r, "OnJobFailed", r.failed, func(h JobFailed) error { return h.OnJobFailed(ctx, j, cause) })
}

func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	emit(r, "OnJobRetrying", r.retrying, func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, attempt, nextRunAt) })
}

func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	emit(r, "OnJobCancelled", r.cancelled, func(h JobCancelled) error { return h.OnJobCancelled(ctx, j) })
}

// EmitJobRecovered reports a job reclaimed by the lease-expiry sweep.
// The status hook matching the job's new state is emitted separately.
func (r *Registry) EmitJobRecovered(ctx context.Context, j *job.Job, cause error) {
	emit(r, "OnJobRecovered", r.recovered, func(h JobRecovered) error { return h.OnJobRecovered(ctx, j, cause) })
}

// ──────────────────────────────────────────────────
// Scheduler and engine events
// ──────────────────────────────────────────────────

func (r *Registry) EmitRecurrenceFired(ctx context.Context, recID id.RecurrenceID, jobID id.JobID) {
	emit(r, "OnRecurrenceFired", r.recurrence, func(h RecurrenceFired) error { return h.OnRecurrenceFired(ctx, recID, jobID) })
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error { return h.OnShutdown(ctx) })
}
