package cron_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/queue"
	"github.com/MickLesk/syncspace-sub002/store/memory"
)

// stubEmitter records EmitRecurrenceFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	calls []firedCall
}

type firedCall struct {
	RecurrenceID id.RecurrenceID
	JobID        id.JobID
}

func (e *stubEmitter) EmitRecurrenceFired(_ context.Context, recID id.RecurrenceID, jobID id.JobID) {
	e.mu.Lock()
	e.calls = append(e.calls, firedCall{RecurrenceID: recID, JobID: jobID})
	e.mu.Unlock()
}

func (e *stubEmitter) getCalls() []firedCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]firedCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// clock is a manually advanced time source shared by queue and scheduler.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	sched   *cron.Scheduler
	store   *memory.Store
	queue   *queue.Queue
	emitter *stubEmitter
	clock   *clock
}

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry := job.NewRegistry()
	noop := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	for _, typ := range []string{"backup", "report", "cleanup"} {
		if err := registry.Register(typ, noop, time.Minute); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	c := &clock{now: start}
	s := memory.New()
	q := queue.New(s, registry, queue.WithClock(c.Now))
	emitter := &stubEmitter{}

	sched := cron.NewScheduler(s, q, id.NewWorkerID(), nil,
		cron.WithTickInterval(50*time.Millisecond),
		cron.WithEmitter(emitter),
		cron.WithClock(c.Now),
	)
	return &harness{sched: sched, store: s, queue: q, emitter: emitter, clock: c}
}

func (h *harness) apply(t *testing.T, defs ...*cron.Definition) {
	t.Helper()
	if err := h.sched.Apply(context.Background(), defs...); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func (h *harness) tick(t *testing.T) int {
	t.Helper()
	n, err := h.sched.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return n
}

func everyMinute(name, jobType string) *cron.Definition {
	return &cron.Definition{
		Name:     name,
		JobType:  jobType,
		Schedule: "* * * * *",
		Priority: job.PriorityNormal,
		Enabled:  true,
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestScheduler_FiresWhenDue(t *testing.T) {
	h := newHarness(t)
	def := everyMinute("minutely-report", "report")
	def.Payload = []byte(`{"kind":"usage"}`)
	h.apply(t, def)

	h.clock.Set(start.Add(30 * time.Second))
	if n := h.tick(t); n != 0 {
		t.Fatalf("expected nothing before the first fire time, got %d", n)
	}

	h.clock.Set(start.Add(time.Minute))
	if n := h.tick(t); n != 1 {
		t.Fatalf("expected 1 enqueue at the fire time, got %d", n)
	}

	calls := h.emitter.getCalls()
	if len(calls) != 1 || calls[0].RecurrenceID.String() != def.ID.String() {
		t.Fatalf("unexpected emitter calls %+v", calls)
	}

	j, err := h.queue.Get(context.Background(), calls[0].JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Type != "report" || string(j.Payload) != `{"kind":"usage"}` {
		t.Errorf("job does not carry the template: %s %s", j.Type, j.Payload)
	}
	if j.RecurrenceID.String() != def.ID.String() {
		t.Errorf("RecurrenceID = %s, want %s", j.RecurrenceID, def.ID)
	}

	stored, err := h.store.GetRecurrence(context.Background(), def.ID)
	if err != nil {
		t.Fatalf("GetRecurrence: %v", err)
	}
	if stored.LastEnqueuedAt == nil || !stored.LastEnqueuedAt.Equal(start.Add(time.Minute)) {
		t.Errorf("LastEnqueuedAt = %v", stored.LastEnqueuedAt)
	}
}

func TestScheduler_NoOverlappingInstances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	def := everyMinute("minutely-backup", "backup")
	h.apply(t, def)

	h.clock.Set(start.Add(time.Minute))
	if n := h.tick(t); n != 1 {
		t.Fatalf("first tick: expected 1, got %d", n)
	}

	// Missed fire times while the instance is still pending.
	for _, at := range []time.Duration{2 * time.Minute, 3 * time.Minute} {
		h.clock.Set(start.Add(at))
		if n := h.tick(t); n != 0 {
			t.Fatalf("tick at +%s: expected skip while active, got %d", at, n)
		}
	}

	leased, err := h.queue.Lease(ctx, id.NewWorkerID(), []string{"backup"})
	if err != nil || leased == nil {
		t.Fatalf("Lease: %v %v", leased, err)
	}
	if _, err := h.queue.Complete(ctx, leased, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	h.clock.Set(start.Add(3*time.Minute + 10*time.Second))
	if n := h.tick(t); n != 1 {
		t.Fatalf("after completion: expected exactly 1 catch-up enqueue, got %d", n)
	}
	if n := h.tick(t); n != 0 {
		t.Fatalf("missed fire times must not be replayed, got %d", n)
	}

	list, err := h.queue.List(ctx, job.Filter{RecurrenceID: def.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 instances in total, got %d", len(list))
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	h := newHarness(t)
	def := everyMinute("disabled-cleanup", "cleanup")
	def.Enabled = false
	h.apply(t, def)

	h.clock.Set(start.Add(5 * time.Minute))
	if n := h.tick(t); n != 0 {
		t.Fatalf("disabled definition fired %d times", n)
	}

	if err := h.sched.SetEnabled(context.Background(), def.ID, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if n := h.tick(t); n != 1 {
		t.Fatalf("enabled definition: expected 1, got %d", n)
	}
}

func TestScheduler_FiresInIDOrder(t *testing.T) {
	h := newHarness(t)
	h.apply(t,
		everyMinute("a", "report"),
		everyMinute("b", "backup"),
		everyMinute("c", "cleanup"),
	)

	h.clock.Set(start.Add(time.Minute))
	if n := h.tick(t); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}

	defs, err := h.store.ListRecurrences(context.Background())
	if err != nil {
		t.Fatalf("ListRecurrences: %v", err)
	}
	calls := h.emitter.getCalls()
	for i, d := range defs {
		if calls[i].RecurrenceID.String() != d.ID.String() {
			t.Fatalf("fire %d went to %s, want %s", i, calls[i].RecurrenceID, d.ID)
		}
	}
}

func TestScheduler_LockPreventsDoubleFire(t *testing.T) {
	h := newHarness(t)
	h.apply(t, everyMinute("shared", "report"))

	other := cron.NewScheduler(h.store, h.queue, id.NewWorkerID(), nil, cron.WithClock(h.clock.Now))

	h.clock.Set(start.Add(time.Minute))
	if n := h.tick(t); n != 1 {
		t.Fatalf("lock holder: expected 1, got %d", n)
	}

	h.clock.Set(start.Add(2 * time.Minute))
	n, err := other.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 0 {
		t.Fatalf("non-holder fired %d jobs", n)
	}
}

func TestScheduler_ApplyUpsertsByName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := everyMinute("nightly", "backup")
	h.apply(t, first)

	second := everyMinute("nightly", "backup")
	second.Schedule = "0 3 * * *"
	second.Priority = job.PriorityHigh
	h.apply(t, second)

	if second.ID.String() != first.ID.String() {
		t.Fatalf("upsert changed the ID: %s -> %s", first.ID, second.ID)
	}

	defs, err := h.store.ListRecurrences(ctx)
	if err != nil {
		t.Fatalf("ListRecurrences: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Schedule != "0 3 * * *" || defs[0].Priority != job.PriorityHigh {
		t.Errorf("update not applied: %+v", defs[0])
	}
}

func TestScheduler_ApplyRejectsInvalid(t *testing.T) {
	h := newHarness(t)
	bad := everyMinute("broken", "report")
	bad.Schedule = "every now and then"

	err := h.sched.Apply(context.Background(), bad)
	if !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestScheduler_SyncRemovesDroppedFileDefinitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	manual := everyMinute("ad-hoc-cleanup", "cleanup")
	h.apply(t, manual)

	if _, err := h.sched.Sync(ctx, cron.SourceFile, []*cron.Definition{
		everyMinute("nightly", "backup"),
		everyMinute("hourly", "report"),
	}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	removed, err := h.sched.Sync(ctx, cron.SourceFile, []*cron.Definition{everyMinute("nightly", "backup")})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(removed) != 1 || removed[0].Name != "hourly" {
		t.Fatalf("removed = %+v, want only hourly", removed)
	}

	defs, err := h.store.ListRecurrences(ctx)
	if err != nil {
		t.Fatalf("ListRecurrences: %v", err)
	}
	names := map[string]string{}
	for _, d := range defs {
		names[d.Name] = d.Source
	}
	if len(names) != 2 || names["nightly"] != cron.SourceFile || names["ad-hoc-cleanup"] != "" {
		t.Fatalf("unexpected definitions after sync: %v", names)
	}

	// A removed definition no longer fires.
	h.clock.Set(start.Add(2 * time.Minute))
	if n := h.tick(t); n != 2 {
		t.Fatalf("fired %d, want 2", n)
	}
}

func TestScheduler_SyncRejectsInvalidWithoutWriting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := everyMinute("broken", "report")
	bad.Schedule = "whenever"
	_, err := h.sched.Sync(ctx, cron.SourceFile, []*cron.Definition{everyMinute("nightly", "backup"), bad})
	if !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	defs, _ := h.store.ListRecurrences(ctx)
	if len(defs) != 0 {
		t.Fatalf("invalid sync wrote %d definitions", len(defs))
	}

	if _, err := h.sched.Sync(ctx, "", nil); !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("empty source: expected ErrValidation, got %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if err := h.sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.sched.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"* * * * *", "0 3 * * *", "*/5 * * * *", "@hourly", "@every 30s"}
	for _, expr := range valid {
		if _, err := cron.ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}

	for _, expr := range []string{"", "61 * * * *", "not a schedule"} {
		_, err := cron.ParseSchedule(expr)
		var ve *jobs.ValidationError
		if !errors.As(err, &ve) || ve.Field != "schedule" {
			t.Errorf("ParseSchedule(%q): expected schedule ValidationError, got %v", expr, err)
		}
	}

	s, _ := cron.ParseSchedule("0 3 * * *")
	next := s.Next(start)
	want := time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}
