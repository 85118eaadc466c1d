package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/queue"
	"github.com/MickLesk/syncspace-sub002/worker"
)

func lease(t *testing.T, q *queue.Queue, types ...string) *job.Job {
	t.Helper()
	j, err := q.Lease(context.Background(), id.NewWorkerID(), types)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if j == nil {
		t.Fatal("lease: no eligible job")
	}
	return j
}

func TestExecutor_Success(t *testing.T) {
	h := newHarness(t)
	h.register(t, "checksum", time.Second, func(_ context.Context, payload []byte) ([]byte, error) {
		return append([]byte("sum:"), payload...), nil
	})
	jobID := h.enqueue(t, &job.Job{Type: "checksum", Payload: []byte("abc")})

	if err := h.executor.Execute(context.Background(), lease(t, h.queue, "checksum")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	j, _ := h.queue.Get(context.Background(), jobID)
	if j.Status != job.StatusCompleted || string(j.Result) != "sum:abc" {
		t.Errorf("status %s result %q", j.Status, j.Result)
	}
}

func TestExecutor_WrapsHandlerError(t *testing.T) {
	h := newHarness(t)
	cause := errors.New("connection reset")
	h.register(t, "upload", time.Second, func(context.Context, []byte) ([]byte, error) {
		return nil, cause
	})
	h.enqueue(t, &job.Job{Type: "upload", MaxAttempts: 3})

	err := h.executor.Execute(context.Background(), lease(t, h.queue, "upload"))
	var handlerErr *jobs.HandlerError
	if !errors.As(err, &handlerErr) {
		t.Fatalf("expected *HandlerError, got %T: %v", err, err)
	}
	if handlerErr.JobType != "upload" || !errors.Is(err, cause) {
		t.Errorf("unexpected handler error %+v", handlerErr)
	}
}

func TestExecutor_AbandonsHandlerIgnoringContext(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.register(t, "stuck", 50*time.Millisecond, func(context.Context, []byte) ([]byte, error) {
		<-release
		return nil, nil
	})
	jobID := h.enqueue(t, &job.Job{Type: "stuck", MaxAttempts: 3})

	start := time.Now()
	err := h.executor.Execute(context.Background(), lease(t, h.queue, "stuck"))
	if !errors.Is(err, jobs.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("abandon took %v", elapsed)
	}

	j, _ := h.queue.Get(context.Background(), jobID)
	if j.Status != job.StatusRetrying {
		t.Errorf("Status = %s, want %s", j.Status, job.StatusRetrying)
	}
}

func TestExecutor_CooperativeTimeout(t *testing.T) {
	h := newHarness(t)
	h.register(t, "polite", 20*time.Millisecond, func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h.enqueue(t, &job.Job{Type: "polite"})

	err := h.executor.Execute(context.Background(), lease(t, h.queue, "polite"))
	var timeoutErr *jobs.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if timeoutErr.Timeout != 20*time.Millisecond {
		t.Errorf("Timeout = %v", timeoutErr.Timeout)
	}
}

func TestExecutor_PanicWithoutRecoverMiddleware(t *testing.T) {
	h := newHarness(t)
	h.register(t, "explodes", time.Second, func(context.Context, []byte) ([]byte, error) {
		panic("boom")
	})
	jobID := h.enqueue(t, &job.Job{Type: "explodes", MaxAttempts: 3})

	bare := worker.NewExecutor(h.queue, testLogger())
	err := bare.Execute(context.Background(), lease(t, h.queue, "explodes"))
	if !jobs.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	j, _ := h.queue.Get(context.Background(), jobID)
	if j.Status != job.StatusFailed {
		t.Errorf("Status = %s, want %s", j.Status, job.StatusFailed)
	}
}

func TestExecutor_UnknownTypeFailsJob(t *testing.T) {
	h := newHarness(t)
	h.register(t, "legacy-sync", time.Second, func(context.Context, []byte) ([]byte, error) { return nil, nil })
	jobID := h.enqueue(t, &job.Job{Type: "legacy-sync", MaxAttempts: 3})

	// A second process over the same store without the handler.
	other := queue.New(h.store, job.NewRegistry(), queue.WithLogger(testLogger()))
	exec := worker.NewExecutor(other, testLogger())

	err := exec.Execute(context.Background(), lease(t, h.queue, "legacy-sync"))
	if !errors.Is(err, jobs.ErrUnknownJobType) || !jobs.IsFatal(err) {
		t.Fatalf("expected fatal ErrUnknownJobType, got %v", err)
	}
	j, _ := h.queue.Get(context.Background(), jobID)
	if j.Status != job.StatusFailed || j.Attempts != 1 {
		t.Errorf("status %s attempts %d", j.Status, j.Attempts)
	}
}

func TestExecutor_LateOutcomeAfterRecovery(t *testing.T) {
	h := newHarness(t)
	h.register(t, "audit", time.Second, func(context.Context, []byte) ([]byte, error) { return nil, nil })
	jobID := h.enqueue(t, &job.Job{Type: "audit", MaxAttempts: 3})

	leased := lease(t, h.queue, "audit")
	if _, err := h.queue.Fail(context.Background(), leased, errors.New("reclaimed")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	err := h.executor.Execute(context.Background(), leased)
	if !errors.Is(err, jobs.ErrLeaseLost) && !errors.Is(err, jobs.ErrInvalidState) {
		t.Fatalf("expected a stale lease error, got %v", err)
	}
	j, _ := h.queue.Get(context.Background(), jobID)
	if j.Status != job.StatusRetrying {
		t.Errorf("late outcome changed status to %s", j.Status)
	}
}
