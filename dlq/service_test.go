package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/backoff"
	"github.com/MickLesk/syncspace-sub002/dlq"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/queue"
	"github.com/MickLesk/syncspace-sub002/store/memory"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	reg := job.NewRegistry()
	noop := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	for _, jt := range []string{"send-email", "thumbnail"} {
		if err := reg.Register(jt, noop, time.Second); err != nil {
			t.Fatalf("register %s: %v", jt, err)
		}
	}
	return queue.New(memory.New(), reg, queue.WithBackoff(backoff.NewConstant(0)))
}

// failJob enqueues a job of jobType and drives it to Failed.
func failJob(t *testing.T, q *queue.Queue, jobType string, payload []byte) id.JobID {
	t.Helper()
	ctx := context.Background()
	jobID, err := q.Enqueue(ctx, &job.Job{Type: jobType, Payload: payload, Priority: job.PriorityHigh, MaxAttempts: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	leased, err := q.Lease(ctx, id.NewWorkerID(), []string{jobType})
	if err != nil || leased == nil {
		t.Fatalf("lease: %v %v", leased, err)
	}
	if _, err := q.Fail(ctx, leased, jobs.Fatal(errors.New("smtp rejected recipient"))); err != nil {
		t.Fatalf("fail: %v", err)
	}
	return jobID
}

func TestService_ListFailed(t *testing.T) {
	q := newQueue(t)
	svc := dlq.NewService(q)
	ctx := context.Background()

	emailID := failJob(t, q, "send-email", []byte(`{"to":"alice@example.com"}`))
	failJob(t, q, "thumbnail", nil)
	if _, err := q.Enqueue(ctx, &job.Job{Type: "send-email"}); err != nil {
		t.Fatalf("enqueue pending: %v", err)
	}

	all, err := svc.List(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 dead letters, got %d", len(all))
	}

	emails, err := svc.List(ctx, dlq.ListOpts{JobType: "send-email"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(emails) != 1 || emails[0].ID.String() != emailID.String() {
		t.Fatalf("unexpected send-email dead letters %+v", emails)
	}
	if emails[0].LastError == "" {
		t.Error("dead letter should keep its last error")
	}

	limited, err := svc.List(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Limit 1 returned %d", len(limited))
	}
}

func TestService_Replay(t *testing.T) {
	q := newQueue(t)
	svc := dlq.NewService(q)
	ctx := context.Background()

	payload := []byte(`{"to":"alice@example.com"}`)
	failedID := failJob(t, q, "send-email", payload)

	newID, err := svc.Replay(ctx, failedID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if newID.String() == failedID.String() {
		t.Fatal("replay must create a new job")
	}

	replayed, err := q.Get(ctx, newID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if replayed.Status != job.StatusPending || replayed.Attempts != 0 {
		t.Errorf("replayed job: status %s attempts %d", replayed.Status, replayed.Attempts)
	}
	if replayed.Type != "send-email" || string(replayed.Payload) != string(payload) {
		t.Errorf("replayed job lost its template: %+v", replayed)
	}
	if replayed.Priority != job.PriorityHigh || replayed.MaxAttempts != 2 {
		t.Errorf("priority %s max_attempts %d", replayed.Priority, replayed.MaxAttempts)
	}

	original, _ := q.Get(ctx, failedID)
	if original.Status != job.StatusFailed {
		t.Errorf("original status changed to %s", original.Status)
	}
}

func TestService_ReplayRejectsNonFailed(t *testing.T) {
	q := newQueue(t)
	svc := dlq.NewService(q)
	ctx := context.Background()

	pendingID, err := q.Enqueue(ctx, &job.Job{Type: "thumbnail"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.Replay(ctx, pendingID); !errors.Is(err, jobs.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Replay(ctx, id.NewJobID()); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestService_ReplayWithoutLocalHandler(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	noop := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	if err := reg.Register("send-email", noop, time.Second); err != nil {
		t.Fatalf("register: %v", err)
	}
	workerQueue := queue.New(s, reg, queue.WithBackoff(backoff.NewConstant(0)))
	failedID := failJob(t, workerQueue, "send-email", []byte(`{"to":"bob@example.com"}`))

	// An admin process shares the store but registers no handlers.
	adminQueue := queue.New(s, job.NewRegistry())
	ctx := context.Background()

	if _, err := dlq.NewService(adminQueue).Replay(ctx, failedID); !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("expected ErrValidation without a handler, got %v", err)
	}

	newID, err := dlq.NewService(adminQueue, dlq.TrustStoredType()).Replay(ctx, failedID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	replayed, err := workerQueue.Get(ctx, newID)
	if err != nil {
		t.Fatalf("get replayed: %v", err)
	}
	if replayed.Type != "send-email" || replayed.Status != job.StatusPending {
		t.Errorf("replayed job = %s %s, want pending send-email", replayed.Type, replayed.Status)
	}
	if replayed.Priority != job.PriorityHigh || replayed.MaxAttempts != 2 {
		t.Errorf("priority %s max_attempts %d", replayed.Priority, replayed.MaxAttempts)
	}

	if _, err := adminQueue.Resubmit(ctx, &job.Job{}); !errors.Is(err, jobs.ErrValidation) {
		t.Errorf("empty type: expected ErrValidation, got %v", err)
	}
}
