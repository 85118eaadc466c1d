package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/backoff"
	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/queue"
	"github.com/MickLesk/syncspace-sub002/store/memory"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures lifecycle hook calls.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnJobEnqueued(context.Context, *job.Job) error { r.add("enqueued"); return nil }
func (r *recorder) OnJobStarted(context.Context, *job.Job) error  { r.add("started"); return nil }
func (r *recorder) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	r.add("completed")
	return nil
}
func (r *recorder) OnJobFailed(context.Context, *job.Job, error) error { r.add("failed"); return nil }
func (r *recorder) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	r.add("retrying")
	return nil
}
func (r *recorder) OnJobCancelled(context.Context, *job.Job) error { r.add("cancelled"); return nil }
func (r *recorder) OnJobRecovered(context.Context, *job.Job, error) error {
	r.add("recovered")
	return nil
}

type fixture struct {
	q     *queue.Queue
	clock *clock
	rec   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := job.NewRegistry()
	noop := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	require.NoError(t, registry.Register("thumbnail", noop, time.Minute))
	require.NoError(t, registry.Register("index", noop, time.Minute))

	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	exts := ext.NewRegistry(nil)
	exts.Register(rec)

	q := queue.New(memory.New(), registry,
		queue.WithClock(c.Now),
		queue.WithBackoff(backoff.NewConstant(10*time.Second)),
		queue.WithExtensions(exts),
		queue.WithDefaultMaxAttempts(3),
	)
	return &fixture{q: q, clock: c, rec: rec}
}

func (f *fixture) enqueue(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	jobID, err := f.q.Enqueue(context.Background(), j)
	require.NoError(t, err)
	got, err := f.q.Get(context.Background(), jobID)
	require.NoError(t, err)
	return got
}

func (f *fixture) lease(t *testing.T, types ...string) *job.Job {
	t.Helper()
	j, err := f.q.Lease(context.Background(), id.NewWorkerID(), types)
	require.NoError(t, err)
	require.NotNil(t, j, "expected an eligible job")
	return j
}

// ---------------------------------------------------------------------------
// Enqueue
// ---------------------------------------------------------------------------

func TestEnqueue_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		job   *job.Job
		field string
	}{
		{"empty type", &job.Job{}, "job_type"},
		{"unregistered type", &job.Job{Type: "transcode"}, "job_type"},
		{"bad priority", &job.Job{Type: "index", Priority: 7}, "priority"},
		{"negative attempts", &job.Job{Type: "index", MaxAttempts: -1}, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.q.Enqueue(ctx, tt.job)
			var ve *jobs.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	list, err := f.q.List(ctx, job.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list, "rejected jobs are never created")
}

func TestEnqueue_Defaults(t *testing.T) {
	f := newFixture(t)

	j := f.enqueue(t, &job.Job{Type: "thumbnail", Priority: job.PriorityHigh, Payload: []byte(`{"file":"a.png"}`)})
	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, 3, j.MaxAttempts)
	assert.Equal(t, 0, j.Attempts)
	assert.True(t, j.ScheduledAt.Equal(f.clock.Now()))
	assert.Equal(t, []string{"enqueued"}, f.rec.Events())

	select {
	case <-f.q.Wake():
	default:
		t.Fatal("an immediately eligible job raises the wake signal")
	}
}

func TestEnqueue_DelayedDoesNotWake(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, &job.Job{Type: "index", ScheduledAt: f.clock.Now().Add(time.Hour)})

	select {
	case <-f.q.Wake():
		t.Fatal("a delayed job must not wake idle slots")
	default:
	}

	j, err := f.q.Lease(context.Background(), id.NewWorkerID(), []string{"index"})
	require.NoError(t, err)
	assert.Nil(t, j)
}

// ---------------------------------------------------------------------------
// Lease and outcomes
// ---------------------------------------------------------------------------

func TestLease_EmptyTypes(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, &job.Job{Type: "index"})

	j, err := f.q.Lease(context.Background(), id.NewWorkerID(), nil)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t, &job.Job{Type: "thumbnail"})

	leased := f.lease(t, "thumbnail")
	assert.Equal(t, job.StatusRunning, leased.Status)
	assert.Equal(t, 1, leased.Attempts)

	f.clock.Advance(2 * time.Second)
	done, err := f.q.Complete(ctx, leased, []byte(`{"width":128}`))
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.JSONEq(t, `{"width":128}`, string(done.Result))
	assert.Equal(t, []string{"enqueued", "started", "completed"}, f.rec.Events())
}

func TestFail_RetriesThenExhausts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t, &job.Job{Type: "index", MaxAttempts: 2})

	first := f.lease(t, "index")
	retrying, err := f.q.Fail(ctx, first, errors.New("connection reset"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusRetrying, retrying.Status)
	assert.True(t, retrying.ScheduledAt.Equal(f.clock.Now().Add(10*time.Second)))
	assert.Equal(t, "connection reset", retrying.LastError)

	none, err := f.q.Lease(ctx, id.NewWorkerID(), []string{"index"})
	require.NoError(t, err)
	assert.Nil(t, none, "job waits out its backoff")

	f.clock.Advance(10 * time.Second)
	second := f.lease(t, "index")
	assert.Equal(t, 2, second.Attempts)

	failed, err := f.q.Fail(ctx, second, errors.New("connection reset"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, failed.Status)
	assert.Equal(t, 2, failed.Attempts)

	assert.Equal(t, []string{"enqueued", "started", "retrying", "started", "failed"}, f.rec.Events())
}

func TestFail_FatalSkipsRetry(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, &job.Job{Type: "index", MaxAttempts: 5})

	leased := f.lease(t, "index")
	failed, err := f.q.Fail(context.Background(), leased, jobs.Fatal(errors.New("corrupt file")))
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.enqueue(t, &job.Job{Type: "index"})
	cancelled, err := f.q.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, cancelled.Status)

	f.enqueue(t, &job.Job{Type: "thumbnail"})
	running := f.lease(t, "thumbnail")
	_, err = f.q.Cancel(ctx, running.ID)
	assert.True(t, errors.Is(err, jobs.ErrInvalidState), "got %v", err)

	_, err = f.q.Cancel(ctx, id.NewJobID())
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
}

// ---------------------------------------------------------------------------
// Lease-expiry recovery
// ---------------------------------------------------------------------------

func TestRecoverExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t, &job.Job{Type: "index"})
	stale := f.lease(t, "index")

	n, err := f.q.RecoverExpired(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "lease still within budget")

	f.clock.Advance(2 * time.Minute)
	n, err = f.q.RecoverExpired(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.q.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRetrying, got.Status)
	assert.Contains(t, got.LastError, "lease")

	// The original worker reports back late: its lease no longer owns the
	// job.
	_, err = f.q.Complete(ctx, stale, nil)
	assert.True(t, errors.Is(err, jobs.ErrLeaseLost), "got %v", err)

	events := f.rec.Events()
	assert.Contains(t, events, "recovered")
	assert.Equal(t, "retrying", events[len(events)-1])
}

func TestNotifyIsNonBlocking(t *testing.T) {
	f := newFixture(t)
	for range 5 {
		f.q.Notify()
	}
	<-f.q.Wake()
	select {
	case <-f.q.Wake():
		t.Fatal("wake signal holds at most one pending notification")
	default:
	}
}
