// Package storetest is the conformance suite every store backend runs.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/store"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run runs the full conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"GetMissing", testGetMissing},
		{"LeasePriorityBeatsArrival", testLeasePriorityBeatsArrival},
		{"LeaseFIFOWithinPriority", testLeaseFIFOWithinPriority},
		{"LeaseSkipsFutureAndForeignTypes", testLeaseSkipsFutureAndForeignTypes},
		{"LeaseStampsAttempt", testLeaseStampsAttempt},
		{"CompleteRequiresLease", testCompleteRequiresLease},
		{"FailRetriesThenExhausts", testFailRetriesThenExhausts},
		{"FailFatal", testFailFatal},
		{"Cancel", testCancel},
		{"ListJobs", testListJobs},
		{"HasActiveJob", testHasActiveJob},
		{"ListExpiredLeases", testListExpiredLeases},
		{"ConcurrentLeaseExclusive", testConcurrentLeaseExclusive},
		{"Recurrences", testRecurrences},
		{"SchedulerLock", testSchedulerLock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// base is truncated to milliseconds, the coarsest precision a backend
// stores.
func base() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newJob(jobType string, p job.Priority, created, scheduled time.Time) *job.Job {
	j := &job.Job{
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     []byte(`{"path":"/srv/data"}`),
		Priority:    p,
		Status:      job.StatusPending,
		MaxAttempts: 3,
		ScheduledAt: scheduled,
	}
	j.CreatedAt = created
	j.UpdatedAt = created
	return j
}

func enqueue(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		require.NoError(t, s.EnqueueJob(context.Background(), j))
	}
}

func lease(t *testing.T, s store.Store, now time.Time, types ...string) *job.Job {
	t.Helper()
	j, err := s.LeaseJob(context.Background(), job.LeaseRequest{
		WorkerID: id.NewWorkerID(),
		LeaseID:  id.NewLeaseID(),
		Types:    types,
		Now:      now,
	})
	require.NoError(t, err)
	return j
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

func testEnqueueAndGet(t *testing.T, s store.Store) {
	now := base()
	j := newJob("backup", job.PriorityHigh, now, now)
	j.RecurrenceID = id.NewRecurrenceID()
	enqueue(t, s, j)

	got, err := s.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID.String(), got.ID.String())
	require.Equal(t, "backup", got.Type)
	require.JSONEq(t, `{"path":"/srv/data"}`, string(got.Payload))
	require.Equal(t, job.PriorityHigh, got.Priority)
	require.Equal(t, job.StatusPending, got.Status)
	require.Equal(t, 0, got.Attempts)
	require.Equal(t, 3, got.MaxAttempts)
	require.WithinDuration(t, now, got.ScheduledAt, time.Millisecond)
	require.WithinDuration(t, now, got.CreatedAt, time.Millisecond)
	require.Equal(t, j.RecurrenceID.String(), got.RecurrenceID.String())
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)
	require.True(t, got.LeaseID.IsNil())
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	now := base()
	j := newJob("backup", job.PriorityNormal, now, now)
	enqueue(t, s, j)
	require.ErrorIs(t, s.EnqueueJob(context.Background(), j), jobs.ErrJobAlreadyExists)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), id.NewJobID())
	require.ErrorIs(t, err, jobs.ErrJobNotFound)

	_, err = s.CompleteJob(context.Background(), id.NewJobID(), id.NewLeaseID(), nil, base())
	require.ErrorIs(t, err, jobs.ErrJobNotFound)

	_, err = s.CancelJob(context.Background(), id.NewJobID(), base())
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func testLeasePriorityBeatsArrival(t *testing.T, s store.Store) {
	now := base()
	high := newJob("scan", job.PriorityHigh, now.Add(-10*time.Second), now.Add(-10*time.Second))
	critical := newJob("scan", job.PriorityCritical, now, now)
	low := newJob("scan", job.PriorityLow, now.Add(-time.Hour), now.Add(-time.Hour))
	enqueue(t, s, low, high, critical)

	for _, want := range []*job.Job{critical, high, low} {
		got := lease(t, s, now, "scan")
		require.NotNil(t, got)
		require.Equal(t, want.ID.String(), got.ID.String(), "priority %s", want.Priority)
	}
	require.Nil(t, lease(t, s, now, "scan"))
}

func testLeaseFIFOWithinPriority(t *testing.T, s store.Store) {
	now := base()
	first := newJob("index", job.PriorityNormal, now.Add(-2*time.Second), now.Add(-2*time.Second))
	second := newJob("index", job.PriorityNormal, now.Add(-time.Second), now.Add(-2*time.Second))
	earlierSchedule := newJob("index", job.PriorityNormal, now, now.Add(-3*time.Second))
	enqueue(t, s, second, first, earlierSchedule)

	for _, want := range []*job.Job{earlierSchedule, first, second} {
		got := lease(t, s, now, "index")
		require.NotNil(t, got)
		require.Equal(t, want.ID.String(), got.ID.String())
	}
}

func testLeaseSkipsFutureAndForeignTypes(t *testing.T, s store.Store) {
	now := base()
	future := newJob("backup", job.PriorityCritical, now, now.Add(time.Minute))
	foreign := newJob("webhook-dispatch", job.PriorityCritical, now, now)
	enqueue(t, s, future, foreign)

	require.Nil(t, lease(t, s, now, "backup"))
	require.Nil(t, lease(t, s, now))

	got := lease(t, s, now.Add(time.Minute), "backup")
	require.NotNil(t, got)
	require.Equal(t, future.ID.String(), got.ID.String())
}

func testLeaseStampsAttempt(t *testing.T, s store.Store) {
	now := base()
	j := newJob("backup", job.PriorityNormal, now, now)
	enqueue(t, s, j)

	workerID := id.NewWorkerID()
	leaseID := id.NewLeaseID()
	got, err := s.LeaseJob(context.Background(), job.LeaseRequest{
		WorkerID: workerID, LeaseID: leaseID, Types: []string{"backup"}, Now: now,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, job.StatusRunning, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StartedAt)
	require.WithinDuration(t, now, *got.StartedAt, time.Millisecond)
	require.Equal(t, workerID.String(), got.WorkerID.String())
	require.Equal(t, leaseID.String(), got.LeaseID.String())

	stored, err := s.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, stored.Status)
	require.Equal(t, leaseID.String(), stored.LeaseID.String())
}

func testCompleteRequiresLease(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	j := newJob("backup", job.PriorityNormal, now, now)
	enqueue(t, s, j)

	_, err := s.CompleteJob(ctx, j.ID, id.NewLeaseID(), nil, now)
	require.ErrorIs(t, err, jobs.ErrLeaseLost)

	leased := lease(t, s, now, "backup")
	require.NotNil(t, leased)

	_, err = s.CompleteJob(ctx, j.ID, id.NewLeaseID(), nil, now)
	require.ErrorIs(t, err, jobs.ErrLeaseLost)

	done, err := s.CompleteJob(ctx, j.ID, leased.LeaseID, []byte(`{"files":12}`), now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, done.Status)
	require.JSONEq(t, `{"files":12}`, string(done.Result))
	require.NotNil(t, done.CompletedAt)
	require.WithinDuration(t, now.Add(time.Second), *done.CompletedAt, time.Millisecond)
	require.True(t, done.LeaseID.IsNil())

	_, err = s.CompleteJob(ctx, j.ID, leased.LeaseID, nil, now)
	require.ErrorIs(t, err, jobs.ErrLeaseLost)
}

func testFailRetriesThenExhausts(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	j := newJob("scan", job.PriorityNormal, now, now)
	j.MaxAttempts = 2
	enqueue(t, s, j)

	first := lease(t, s, now, "scan")
	require.NotNil(t, first)
	retryAt := now.Add(5 * time.Second)
	retried, err := s.FailJob(ctx, j.ID, first.LeaseID, job.Failure{Error: "clamd unavailable", RetryAt: retryAt, At: now})
	require.NoError(t, err)
	require.Equal(t, job.StatusRetrying, retried.Status)
	require.Equal(t, 1, retried.Attempts)
	require.Equal(t, "clamd unavailable", retried.LastError)
	require.WithinDuration(t, retryAt, retried.ScheduledAt, time.Millisecond)
	require.Nil(t, retried.CompletedAt)

	require.Nil(t, lease(t, s, now, "scan"), "retry must wait for its backoff")

	second := lease(t, s, retryAt, "scan")
	require.NotNil(t, second)
	require.Equal(t, 2, second.Attempts)

	_, err = s.FailJob(ctx, j.ID, first.LeaseID, job.Failure{Error: "stale", At: retryAt})
	require.ErrorIs(t, err, jobs.ErrLeaseLost)

	failed, err := s.FailJob(ctx, j.ID, second.LeaseID, job.Failure{Error: "clamd unavailable", RetryAt: retryAt.Add(time.Minute), At: retryAt})
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, failed.Status)
	require.Equal(t, 2, failed.Attempts)
	require.NotNil(t, failed.CompletedAt)
}

func testFailFatal(t *testing.T, s store.Store) {
	now := base()
	j := newJob("scan", job.PriorityNormal, now, now)
	enqueue(t, s, j)

	leased := lease(t, s, now, "scan")
	require.NotNil(t, leased)
	failed, err := s.FailJob(context.Background(), j.ID, leased.LeaseID, job.Failure{
		Error: "fatal: bad payload", Fatal: true, RetryAt: now.Add(time.Second), At: now,
	})
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, failed.Status)
	require.Equal(t, 1, failed.Attempts)
}

func testCancel(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	pending := newJob("backup", job.PriorityLow, now, now)
	running := newJob("index", job.PriorityLow, now, now)
	enqueue(t, s, pending, running)

	cancelled, err := s.CancelJob(ctx, pending.ID, now)
	require.NoError(t, err)
	require.Equal(t, job.StatusCancelled, cancelled.Status)

	_, err = s.CancelJob(ctx, pending.ID, now)
	require.ErrorIs(t, err, jobs.ErrInvalidState)

	require.NotNil(t, lease(t, s, now, "index"))
	_, err = s.CancelJob(ctx, running.ID, now)
	require.ErrorIs(t, err, jobs.ErrInvalidState)

	got, err := s.GetJob(ctx, running.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, got.Status)

	require.Nil(t, lease(t, s, now, "backup"), "cancelled jobs are never leased")
}

func testListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	rec := id.NewRecurrenceID()
	a := newJob("backup", job.PriorityLow, now.Add(-3*time.Second), now)
	b := newJob("scan", job.PriorityCritical, now.Add(-2*time.Second), now)
	c := newJob("backup", job.PriorityNormal, now.Add(-time.Second), now)
	c.RecurrenceID = rec
	enqueue(t, s, c, a, b)
	_, err := s.CancelJob(ctx, b.ID, now)
	require.NoError(t, err)

	all, err := s.ListJobs(ctx, job.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, a.ID.String(), all[0].ID.String())
	require.Equal(t, b.ID.String(), all[1].ID.String())
	require.Equal(t, c.ID.String(), all[2].ID.String())

	backups, err := s.ListJobs(ctx, job.Filter{Types: []string{"backup"}})
	require.NoError(t, err)
	require.Len(t, backups, 2)

	cancelled, err := s.ListJobs(ctx, job.Filter{Statuses: []job.Status{job.StatusCancelled}})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, b.ID.String(), cancelled[0].ID.String())

	byRec, err := s.ListJobs(ctx, job.Filter{RecurrenceID: rec})
	require.NoError(t, err)
	require.Len(t, byRec, 1)
	require.Equal(t, c.ID.String(), byRec[0].ID.String())

	page, err := s.ListJobs(ctx, job.Filter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, b.ID.String(), page[0].ID.String())
}

func testHasActiveJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	rec := id.NewRecurrenceID()

	active, err := s.HasActiveJob(ctx, rec)
	require.NoError(t, err)
	require.False(t, active)

	j := newJob("backup", job.PriorityNormal, now, now)
	j.RecurrenceID = rec
	enqueue(t, s, j)

	active, err = s.HasActiveJob(ctx, rec)
	require.NoError(t, err)
	require.True(t, active)

	leased := lease(t, s, now, "backup")
	require.NotNil(t, leased)
	active, err = s.HasActiveJob(ctx, rec)
	require.NoError(t, err)
	require.True(t, active)

	_, err = s.CompleteJob(ctx, j.ID, leased.LeaseID, nil, now)
	require.NoError(t, err)
	active, err = s.HasActiveJob(ctx, rec)
	require.NoError(t, err)
	require.False(t, active)
}

func testListExpiredLeases(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	queued := now.Add(-2 * time.Hour)
	old := newJob("backup", job.PriorityHigh, queued, queued)
	fresh := newJob("backup", job.PriorityNormal, queued, queued)
	waiting := newJob("backup", job.PriorityLow, queued, queued)
	enqueue(t, s, old, fresh, waiting)

	require.NotNil(t, lease(t, s, now.Add(-time.Hour), "backup"))
	require.NotNil(t, lease(t, s, now, "backup"))

	expired, err := s.ListExpiredLeases(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, old.ID.String(), expired[0].ID.String())
	require.Equal(t, job.StatusRunning, expired[0].Status)
	require.False(t, expired[0].LeaseID.IsNil())
}

func testConcurrentLeaseExclusive(t *testing.T, s store.Store) {
	const total = 40
	now := base()
	for i := range total {
		created := now.Add(-time.Duration(total-i) * time.Millisecond)
		enqueue(t, s, newJob("index", job.Priorities[i%len(job.Priorities)], created, created))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	g, ctx := errgroup.WithContext(context.Background())
	for range 8 {
		g.Go(func() error {
			for {
				j, err := s.LeaseJob(ctx, job.LeaseRequest{
					WorkerID: id.NewWorkerID(),
					LeaseID:  id.NewLeaseID(),
					Types:    []string{"index"},
					Now:      now,
				})
				if err != nil {
					return err
				}
				if j == nil {
					return nil
				}
				mu.Lock()
				seen[j.ID.String()]++
				mu.Unlock()
			}
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, seen, total)
	for jobID, n := range seen {
		require.Equal(t, 1, n, "job %s leased %d times", jobID, n)
	}
}

// ──────────────────────────────────────────────────
// Recurrence store
// ──────────────────────────────────────────────────

func newDefinition(name string, created time.Time) *cron.Definition {
	d := &cron.Definition{
		ID:          id.NewRecurrenceID(),
		Name:        name,
		JobType:     "backup",
		Payload:     []byte(`{"target":"/srv"}`),
		Schedule:    "@every 1m",
		Priority:    job.PriorityHigh,
		MaxAttempts: 2,
		Enabled:     true,
	}
	d.CreatedAt = created
	d.UpdatedAt = created
	return d
}

func testRecurrences(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()

	first := newDefinition("nightly-backup", now)
	second := newDefinition("hourly-index", now)
	second.Source = cron.SourceFile
	require.NoError(t, s.SaveRecurrence(ctx, first))
	require.NoError(t, s.SaveRecurrence(ctx, second))

	dup := newDefinition("nightly-backup", now)
	require.ErrorIs(t, s.SaveRecurrence(ctx, dup), jobs.ErrDuplicateRecurrence)

	got, err := s.GetRecurrence(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "nightly-backup", got.Name)
	require.Equal(t, "backup", got.JobType)
	require.JSONEq(t, `{"target":"/srv"}`, string(got.Payload))
	require.Equal(t, "@every 1m", got.Schedule)
	require.Equal(t, job.PriorityHigh, got.Priority)
	require.Equal(t, 2, got.MaxAttempts)
	require.True(t, got.Enabled)
	require.Nil(t, got.LastEnqueuedAt)
	require.WithinDuration(t, now, got.CreatedAt, time.Millisecond)

	byName, err := s.GetRecurrenceByName(ctx, "hourly-index")
	require.NoError(t, err)
	require.Equal(t, second.ID.String(), byName.ID.String())
	require.Equal(t, cron.SourceFile, byName.Source)
	require.Empty(t, got.Source)

	_, err = s.GetRecurrenceByName(ctx, "missing")
	require.ErrorIs(t, err, jobs.ErrRecurrenceNotFound)

	list, err := s.ListRecurrences(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first.ID.String(), list[0].ID.String(), "ordered by id")
	require.Equal(t, second.ID.String(), list[1].ID.String())

	at := now.Add(time.Minute)
	require.NoError(t, s.MarkRecurrenceEnqueued(ctx, first.ID, at))

	got.Schedule = "0 3 * * *"
	got.Enabled = false
	got.Priority = job.PriorityLow
	got.Source = cron.SourceFile
	require.NoError(t, s.UpdateRecurrence(ctx, got))

	updated, err := s.GetRecurrence(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "0 3 * * *", updated.Schedule)
	require.False(t, updated.Enabled)
	require.Equal(t, job.PriorityLow, updated.Priority)
	require.Equal(t, cron.SourceFile, updated.Source)
	require.NotNil(t, updated.LastEnqueuedAt, "update keeps last enqueue time")
	require.WithinDuration(t, at, *updated.LastEnqueuedAt, time.Millisecond)

	require.NoError(t, s.DeleteRecurrence(ctx, first.ID))
	_, err = s.GetRecurrence(ctx, first.ID)
	require.ErrorIs(t, err, jobs.ErrRecurrenceNotFound)
	require.ErrorIs(t, s.DeleteRecurrence(ctx, first.ID), jobs.ErrRecurrenceNotFound)
	require.ErrorIs(t, s.MarkRecurrenceEnqueued(ctx, first.ID, at), jobs.ErrRecurrenceNotFound)
}

func testSchedulerLock(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.AcquireSchedulerLock(ctx, "wkr_a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireSchedulerLock(ctx, "wkr_b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "lock is held by another holder")

	ok, err = s.AcquireSchedulerLock(ctx, "wkr_a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "holder renews its own lock")
}
