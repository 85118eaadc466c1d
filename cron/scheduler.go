package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Enqueuer is the slice of the job queue the scheduler uses.
// queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job) (id.JobID, error)
	HasActive(ctx context.Context, recID id.RecurrenceID) (bool, error)
}

// Emitter emits recurrence lifecycle events.
// ext.Registry satisfies this interface via EmitRecurrenceFired.
type Emitter interface {
	EmitRecurrenceFired(ctx context.Context, recID id.RecurrenceID, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due definitions.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL of the scheduler lock.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithEmitter sets the emitter notified after each enqueue.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler turns recurrence definitions into job enqueues. Only the
// holder of the scheduler lock ticks, so one process per deployment
// writes recurrence state.
type Scheduler struct {
	store   Store
	queue   Enqueuer
	emitter Emitter
	holder  string
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	// parsed caches parsed schedule expressions.
	parsedMu sync.RWMutex
	parsed   map[string]Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler. holder identifies this process in the
// scheduler lock.
func NewScheduler(store Store, q Enqueuer, holder id.WorkerID, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		queue:        q,
		holder:       holder.String(),
		logger:       logger,
		now:          time.Now,
		tickInterval: time.Second,
		lockTTL:      30 * time.Second,
		parsed:       make(map[string]Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("recurrence scheduler started",
		slog.String("holder", s.holder),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the current tick.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("recurrence scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Tick(context.Background()); err != nil {
				s.logger.Error("recurrence tick error", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick evaluates every enabled definition once, in ID order, and returns
// the number of jobs enqueued. A definition is due when its next fire time
// after the last enqueue has passed. A due definition with an active
// instance is skipped without touching its last enqueue time, so the
// first tick after that instance ends enqueues exactly one job.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	ok, err := s.store.AcquireSchedulerLock(ctx, s.holder, s.lockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	defs, err := s.store.ListRecurrences(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	fired := 0
	for _, d := range defs {
		if !d.Enabled {
			continue
		}
		if s.fire(ctx, d, now) {
			fired++
		}
	}
	return fired, nil
}

func (s *Scheduler) fire(ctx context.Context, d *Definition, now time.Time) bool {
	sched, err := s.schedule(d.Schedule)
	if err != nil {
		s.logger.Error("parse recurrence schedule",
			slog.String("recurrence", d.Name),
			slog.String("schedule", d.Schedule),
			slog.String("error", err.Error()),
		)
		return false
	}
	if next := d.NextRun(sched); next.IsZero() || next.After(now) {
		return false
	}

	active, err := s.queue.HasActive(ctx, d.ID)
	if err != nil {
		s.logger.Error("check active recurrence instance",
			slog.String("recurrence", d.Name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if active {
		s.logger.Debug("recurrence instance still active, skipping",
			slog.String("recurrence", d.Name),
		)
		return false
	}

	jobID, err := s.queue.Enqueue(ctx, d.Job())
	if err != nil {
		s.logger.Error("recurrence enqueue error",
			slog.String("recurrence", d.Name),
			slog.String("job_type", d.JobType),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := s.store.MarkRecurrenceEnqueued(ctx, d.ID, now); err != nil {
		s.logger.Error("mark recurrence enqueued",
			slog.String("recurrence", d.Name),
			slog.String("error", err.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitRecurrenceFired(ctx, d.ID, jobID)
	}
	s.logger.Info("recurrence fired",
		slog.String("recurrence", d.Name),
		slog.String("job_type", d.JobType),
		slog.String("job_id", jobID.String()),
	)
	return true
}

// Apply upserts definitions by name. New definitions get an ID and a
// creation time of now, so they first fire at the schedule's next time
// after being added.
func (s *Scheduler) Apply(ctx context.Context, defs ...*Definition) error {
	now := s.now().UTC()
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}

		existing, err := s.store.GetRecurrenceByName(ctx, d.Name)
		switch {
		case errors.Is(err, jobs.ErrRecurrenceNotFound):
			if d.ID.IsNil() {
				d.ID = id.NewRecurrenceID()
			}
			d.CreatedAt = now
			d.UpdatedAt = now
			if err := s.store.SaveRecurrence(ctx, d); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			existing.JobType = d.JobType
			existing.Payload = d.Payload
			existing.Schedule = d.Schedule
			existing.Priority = d.Priority
			existing.MaxAttempts = d.MaxAttempts
			existing.Enabled = d.Enabled
			existing.Source = d.Source
			existing.UpdatedAt = now
			if err := s.store.UpdateRecurrence(ctx, existing); err != nil {
				return err
			}
			*d = *existing
		}
	}
	return nil
}

// Sync makes the definitions owned by source match defs. Each of defs is
// stamped with source and upserted; definitions of that source whose
// name is not in defs are deleted. It returns the deleted definitions.
// Nothing is written when one of defs is invalid.
func (s *Scheduler) Sync(ctx context.Context, source string, defs []*Definition) ([]*Definition, error) {
	if source == "" {
		return nil, &jobs.ValidationError{Field: "source", Reason: "must not be empty"}
	}
	keep := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("recurrence %q: %w", d.Name, err)
		}
		d.Source = source
		keep[d.Name] = struct{}{}
	}
	if err := s.Apply(ctx, defs...); err != nil {
		return nil, err
	}

	existing, err := s.store.ListRecurrences(ctx)
	if err != nil {
		return nil, err
	}
	var removed []*Definition
	for _, d := range existing {
		if d.Source != source {
			continue
		}
		if _, ok := keep[d.Name]; ok {
			continue
		}
		if err := s.Remove(ctx, d.ID); err != nil {
			return removed, err
		}
		removed = append(removed, d)
	}
	return removed, nil
}

// Remove deletes a definition. Jobs it already spawned are kept.
func (s *Scheduler) Remove(ctx context.Context, recID id.RecurrenceID) error {
	return s.store.DeleteRecurrence(ctx, recID)
}

// SetEnabled enables or disables a definition.
func (s *Scheduler) SetEnabled(ctx context.Context, recID id.RecurrenceID, enabled bool) error {
	d, err := s.store.GetRecurrence(ctx, recID)
	if err != nil {
		return err
	}
	d.Enabled = enabled
	d.UpdatedAt = s.now().UTC()
	return s.store.UpdateRecurrence(ctx, d)
}

// schedule caches parsed expressions.
func (s *Scheduler) schedule(expr string) (Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
