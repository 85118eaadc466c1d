package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/backoff"
	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// sweepBatch bounds how many expired leases one RecoverExpired call
// reclaims.
const sweepBatch = 100

// Queue is the single entry point for job mutations. It validates input,
// applies the retry policy, delegates each transition to one atomic store
// operation and emits a lifecycle event for every transition.
type Queue struct {
	store              job.Store
	registry           *job.Registry
	backoff            backoff.Strategy
	extensions         *ext.Registry
	logger             *slog.Logger
	now                func() time.Time
	defaultMaxAttempts int
	wake               chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.backoff = s }
}

// WithExtensions sets the registry notified on every transition.
func WithExtensions(r *ext.Registry) Option {
	return func(q *Queue) { q.extensions = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source. Tests use it to make backoff and
// eligibility deterministic.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithDefaultMaxAttempts sets the attempt ceiling for jobs that specify
// none.
func WithDefaultMaxAttempts(n int) Option {
	return func(q *Queue) { q.defaultMaxAttempts = n }
}

// New creates a Queue over store. registry decides which job types may be
// enqueued.
func New(store job.Store, registry *job.Registry, opts ...Option) *Queue {
	q := &Queue{
		store:              store,
		registry:           registry,
		backoff:            backoff.DefaultStrategy(),
		defaultMaxAttempts: 3,
		now:                time.Now,
		wake:               make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.extensions == nil {
		q.extensions = ext.NewRegistry(q.logger)
	}
	return q
}

// Registry returns the handler registry used for enqueue validation.
func (q *Queue) Registry() *job.Registry { return q.registry }

// Store returns the underlying job store.
func (q *Queue) Store() job.Store { return q.store }

// Wake returns the channel idle worker slots wait on. It carries at most
// one pending signal.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Notify raises the wake signal without blocking.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) clock() time.Time { return q.now().UTC() }

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

// Enqueue validates j and persists it in Pending state. Zero fields are
// defaulted: ID, MaxAttempts (engine default) and ScheduledAt (now).
func (q *Queue) Enqueue(ctx context.Context, j *job.Job) (id.JobID, error) {
	return q.enqueue(ctx, j, true)
}

// Resubmit enqueues j like Enqueue but does not require a handler for
// its type in this process. It serves jobs whose type was validated when
// they were first enqueued, such as dead letter replays from a process
// that runs no handlers.
func (q *Queue) Resubmit(ctx context.Context, j *job.Job) (id.JobID, error) {
	return q.enqueue(ctx, j, false)
}

func (q *Queue) enqueue(ctx context.Context, j *job.Job, requireHandler bool) (id.JobID, error) {
	if err := q.prepare(j, requireHandler); err != nil {
		return id.Nil, err
	}

	if err := q.store.EnqueueJob(ctx, j); err != nil {
		return id.Nil, err
	}

	q.extensions.EmitJobEnqueued(ctx, j)
	q.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("priority", j.Priority.String()),
	)
	if !j.ScheduledAt.After(j.CreatedAt) {
		q.Notify()
	}
	return j.ID, nil
}

func (q *Queue) prepare(j *job.Job, requireHandler bool) error {
	if j.Type == "" {
		return &jobs.ValidationError{Field: "job_type", Reason: "must not be empty"}
	}
	if requireHandler && !q.registry.Has(j.Type) {
		return &jobs.ValidationError{Field: "job_type", Reason: fmt.Sprintf("%q is not registered", j.Type)}
	}
	if !j.Priority.Valid() {
		return &jobs.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %d", int(j.Priority))}
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = q.defaultMaxAttempts
	}
	if j.MaxAttempts < 1 {
		return &jobs.ValidationError{Field: "max_attempts", Reason: "must be at least 1"}
	}

	now := q.clock()
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	j.Status = job.StatusPending
	j.Attempts = 0
	j.StartedAt = nil
	j.CompletedAt = nil
	j.LastError = ""
	j.Result = nil
	j.WorkerID = id.Nil
	j.LeaseID = id.Nil
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = now
	} else {
		j.ScheduledAt = j.ScheduledAt.UTC()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Lease and outcomes
// ──────────────────────────────────────────────────

// Lease claims the best eligible job among types for workerID. It returns
// (nil, nil) when nothing is eligible.
func (q *Queue) Lease(ctx context.Context, workerID id.WorkerID, types []string) (*job.Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	j, err := q.store.LeaseJob(ctx, job.LeaseRequest{
		WorkerID: workerID,
		LeaseID:  id.NewLeaseID(),
		Types:    types,
		Now:      q.clock(),
	})
	if err != nil || j == nil {
		return nil, err
	}
	q.extensions.EmitJobStarted(ctx, j)
	return j, nil
}

// Complete records a successful attempt for a leased job.
func (q *Queue) Complete(ctx context.Context, j *job.Job, result []byte) (*job.Job, error) {
	now := q.clock()
	updated, err := q.store.CompleteJob(ctx, j.ID, j.LeaseID, result, now)
	if err != nil {
		q.logOutcomeError("complete", j, err)
		return nil, err
	}

	var elapsed time.Duration
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	q.extensions.EmitJobCompleted(ctx, updated, elapsed)
	return updated, nil
}

// Fail records a failed attempt for a leased job. A fatal cause or an
// exhausted attempt budget moves the job to Failed; otherwise it moves to
// Retrying with ScheduledAt = now + backoff(attempts).
func (q *Queue) Fail(ctx context.Context, j *job.Job, cause error) (*job.Job, error) {
	updated, err := q.fail(ctx, j, cause)
	if err != nil {
		q.logOutcomeError("fail", j, err)
		return nil, err
	}
	q.emitFailure(ctx, updated, cause)
	return updated, nil
}

func (q *Queue) fail(ctx context.Context, j *job.Job, cause error) (*job.Job, error) {
	now := q.clock()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return q.store.FailJob(ctx, j.ID, j.LeaseID, job.Failure{
		Error:   msg,
		Fatal:   jobs.IsFatal(cause),
		RetryAt: now.Add(q.backoff.Delay(j.Attempts)),
		At:      now,
	})
}

func (q *Queue) emitFailure(ctx context.Context, j *job.Job, cause error) {
	switch j.Status {
	case job.StatusRetrying:
		q.extensions.EmitJobRetrying(ctx, j, j.Attempts, j.ScheduledAt)
		q.logger.Warn("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.Attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Time("next_run_at", j.ScheduledAt),
			slog.String("error", j.LastError),
		)
	case job.StatusFailed:
		q.extensions.EmitJobFailed(ctx, j, cause)
		q.logger.Warn("job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempts", j.Attempts),
			slog.String("error", j.LastError),
		)
	}
}

func (q *Queue) logOutcomeError(op string, j *job.Job, err error) {
	if errors.Is(err, jobs.ErrLeaseLost) {
		q.logger.Warn("late outcome discarded",
			slog.String("op", op),
			slog.String("job_id", j.ID.String()),
			slog.String("lease_id", j.LeaseID.String()),
		)
		return
	}
	q.logger.Error("failed to record job outcome",
		slog.String("op", op),
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
}

// ──────────────────────────────────────────────────
// Producer operations
// ──────────────────────────────────────────────────

// Cancel moves a Pending or Retrying job to Cancelled. Running and
// terminal jobs yield an *jobs.InvalidStateError.
func (q *Queue) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := q.store.CancelJob(ctx, jobID, q.clock())
	if err != nil {
		return nil, err
	}
	q.extensions.EmitJobCancelled(ctx, j)
	return j, nil
}

// Get returns a job by ID.
func (q *Queue) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// List returns jobs matching f ordered by creation time.
func (q *Queue) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	return q.store.ListJobs(ctx, f)
}

// HasActive reports whether the recurrence has a Pending, Running or
// Retrying instance.
func (q *Queue) HasActive(ctx context.Context, recID id.RecurrenceID) (bool, error) {
	return q.store.HasActiveJob(ctx, recID)
}

// ──────────────────────────────────────────────────
// Lease-expiry recovery
// ──────────────────────────────────────────────────

// RecoverExpired reclaims Running jobs whose lease outlived maxTimeout,
// the longest handler budget plus grace. Each one goes through the fail
// path with a *jobs.LeaseExpiredError, landing in Retrying or Failed.
// It returns the number of jobs recovered.
func (q *Queue) RecoverExpired(ctx context.Context, maxTimeout time.Duration) (int, error) {
	now := q.clock()
	expired, err := q.store.ListExpiredLeases(ctx, now.Add(-maxTimeout), sweepBatch)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, j := range expired {
		cause := &jobs.LeaseExpiredError{JobID: j.ID.String()}
		if j.StartedAt != nil {
			cause.StartedAt = *j.StartedAt
			cause.Deadline = j.StartedAt.Add(maxTimeout)
		}

		updated, err := q.fail(ctx, j, cause)
		if errors.Is(err, jobs.ErrLeaseLost) || errors.Is(err, jobs.ErrInvalidState) {
			// The worker reported back between list and fail.
			continue
		}
		if err != nil {
			q.logger.Error("recover expired lease",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		recovered++
		q.extensions.EmitJobRecovered(ctx, updated, cause)
		q.logger.Info("recovered expired lease",
			slog.String("job_id", updated.ID.String()),
			slog.String("job_type", updated.Type),
			slog.String("worker_id", j.WorkerID.String()),
			slog.String("status", string(updated.Status)),
		)
		q.emitFailure(ctx, updated, cause)
	}
	if recovered > 0 {
		q.Notify()
	}
	return recovered, nil
}
