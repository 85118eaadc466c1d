package event_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MickLesk/syncspace-sub002/backoff"
	"github.com/MickLesk/syncspace-sub002/event"
	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/queue"
	"github.com/MickLesk/syncspace-sub002/store/memory"
)

// collector is a Sink that records events.
type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) Publish(_ context.Context, e event.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *collector) statuses() []job.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]job.Status, len(c.events))
	for i, e := range c.events {
		out[i] = e.Status
	}
	return out
}

func newQueue(t *testing.T, sinks ...event.Sink) *queue.Queue {
	t.Helper()
	registry := job.NewRegistry()
	noop := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	if err := registry.Register("webhook", noop, time.Minute); err != nil {
		t.Fatalf("Register: %v", err)
	}

	exts := ext.NewRegistry(nil)
	exts.Register(event.NewBus(sinks...))
	return queue.New(memory.New(), registry,
		queue.WithExtensions(exts),
		queue.WithBackoff(backoff.NewConstant(0)),
	)
}

func TestBus_EmitsEveryTransition(t *testing.T) {
	ctx := context.Background()
	sink := &collector{}
	q := newQueue(t, sink)

	jobID, err := q.Enqueue(ctx, &job.Job{Type: "webhook", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	worker := id.NewWorkerID()
	first, err := q.Lease(ctx, worker, []string{"webhook"})
	if err != nil || first == nil {
		t.Fatalf("Lease: %v %v", first, err)
	}
	if _, err := q.Fail(ctx, first, errors.New("502 bad gateway")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	second, err := q.Lease(ctx, worker, []string{"webhook"})
	if err != nil || second == nil {
		t.Fatalf("second Lease: %v %v", second, err)
	}
	if _, err := q.Complete(ctx, second, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := []job.Status{
		job.StatusPending, job.StatusRunning, job.StatusRetrying,
		job.StatusRunning, job.StatusCompleted,
	}
	got := sink.statuses()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	retry := sink.events[2]
	if retry.JobID != jobID.String() || retry.JobType != "webhook" {
		t.Errorf("unexpected retry event %+v", retry)
	}
	if retry.Attempts != 1 || retry.Error != "502 bad gateway" {
		t.Errorf("retry event attempts/error = %d/%q", retry.Attempts, retry.Error)
	}
	if sink.events[4].Attempts != 2 {
		t.Errorf("completed event attempts = %d, want 2", sink.events[4].Attempts)
	}
}

func TestBus_CancelEvent(t *testing.T) {
	ctx := context.Background()
	sink := &collector{}
	q := newQueue(t, sink)

	jobID, err := q.Enqueue(ctx, &job.Job{Type: "webhook"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got := sink.statuses()
	if len(got) != 2 || got[1] != job.StatusCancelled {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestBus_SinkErrorDoesNotBreakQueue(t *testing.T) {
	ctx := context.Background()
	failing := event.SinkFunc(func(context.Context, event.Event) error {
		return errors.New("broadcast down")
	})
	sink := &collector{}
	q := newQueue(t, failing, sink)

	if _, err := q.Enqueue(ctx, &job.Job{Type: "webhook"}); err != nil {
		t.Fatalf("Enqueue must not see sink errors: %v", err)
	}
	if got := sink.statuses(); len(got) != 1 {
		t.Fatalf("later sinks still receive events, got %v", got)
	}
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	m := event.MultiSink{
		event.SinkFunc(func(context.Context, event.Event) error { return errA }),
		event.SinkFunc(func(context.Context, event.Event) error { return nil }),
		event.SinkFunc(func(context.Context, event.Event) error { return errB }),
	}

	err := m.Publish(context.Background(), event.Event{})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := event.NewLogSink(logger)

	err := s.Publish(context.Background(), event.Event{
		JobID:    "job_01h455vb4pex5vsknk084sn02q",
		JobType:  "webhook",
		Status:   job.StatusFailed,
		Attempts: 3,
		Error:    "gave up",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"job event", "job_type=webhook", "status=failed", "attempts=3", `error="gave up"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
