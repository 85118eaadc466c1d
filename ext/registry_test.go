package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// recorder implements every hook and records "<extension>:<hook>".
type recorder struct {
	name string
	log  *[]string
}

func (e *recorder) Name() string { return e.name }

func (e *recorder) add(hook string) error {
	*e.log = append(*e.log, e.name+":"+hook)
	return nil
}

func (e *recorder) OnJobEnqueued(context.Context, *job.Job) error { return e.add("enqueued") }
func (e *recorder) OnJobStarted(context.Context, *job.Job) error  { return e.add("started") }
func (e *recorder) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.add("completed")
}
func (e *recorder) OnJobFailed(context.Context, *job.Job, error) error { return e.add("failed") }
func (e *recorder) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	return e.add("retrying")
}
func (e *recorder) OnJobCancelled(context.Context, *job.Job) error        { return e.add("cancelled") }
func (e *recorder) OnJobRecovered(context.Context, *job.Job, error) error { return e.add("recovered") }
func (e *recorder) OnRecurrenceFired(context.Context, id.RecurrenceID, id.JobID) error {
	return e.add("recurrence")
}
func (e *recorder) OnShutdown(context.Context) error { return e.add("shutdown") }

// misbehaving fails or panics in its hooks.
type misbehaving struct{}

func (misbehaving) Name() string                                  { return "misbehaving" }
func (misbehaving) OnJobEnqueued(context.Context, *job.Job) error { return errors.New("sink offline") }
func (misbehaving) OnShutdown(context.Context) error              { panic("double close") }

func emitAll(r *ext.Registry) {
	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Type: "thumbnail"}
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobRecovered(ctx, j, errors.New("lease expired"))
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("corrupt image"))
	r.EmitJobCancelled(ctx, j)
	r.EmitRecurrenceFired(ctx, id.NewRecurrenceID(), j.ID)
	r.EmitShutdown(ctx)
}

func TestRegistry_EveryHookReachesImplementors(t *testing.T) {
	var log []string
	r := ext.NewRegistry(nil)
	r.Register(&recorder{name: "audit", log: &log})
	emitAll(r)

	want := "audit:enqueued audit:started audit:retrying audit:recovered audit:completed " +
		"audit:failed audit:cancelled audit:recurrence audit:shutdown"
	if got := strings.Join(log, " "); got != want {
		t.Errorf("hooks fired:\n got %s\nwant %s", got, want)
	}
}

func TestRegistry_OnlyImplementedHooksFire(t *testing.T) {
	var log []string
	r := ext.NewRegistry(nil)
	r.Register(&onlyCompleted{name: "notify", log: &log})
	emitAll(r)

	if len(log) != 1 || log[0] != "notify:completed" {
		t.Errorf("hooks fired = %v", log)
	}
	if names := r.Extensions(); len(names) != 1 || names[0].Name() != "notify" {
		t.Errorf("Extensions = %v", names)
	}
}

type onlyCompleted struct {
	name string
	log  *[]string
}

func (e *onlyCompleted) Name() string { return e.name }
func (e *onlyCompleted) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	*e.log = append(*e.log, e.name+":completed")
	return nil
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	var log []string
	r := ext.NewRegistry(nil)
	r.Register(&recorder{name: "first", log: &log})
	r.Register(&recorder{name: "second", log: &log})

	r.EmitJobCancelled(context.Background(), &job.Job{})
	if strings.Join(log, ",") != "first:cancelled,second:cancelled" {
		t.Errorf("order = %v", log)
	}
}

func TestRegistry_HookFailuresAreLoggedAndSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var log []string
	r := ext.NewRegistry(logger)
	r.Register(misbehaving{})
	r.Register(&recorder{name: "audit", log: &log})

	r.EmitJobEnqueued(context.Background(), &job.Job{})
	r.EmitShutdown(context.Background())

	if strings.Join(log, ",") != "audit:enqueued,audit:shutdown" {
		t.Errorf("later extensions must still be notified, got %v", log)
	}
	out := buf.String()
	for _, want := range []string{"extension=misbehaving", "sink offline", "hook panicked: double close", "hook=OnShutdown"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestRegistry_EmptyIsNoop(t *testing.T) {
	r := ext.NewRegistry(nil)
	emitAll(r)
	if len(r.Extensions()) != 0 {
		t.Fatal("expected no extensions")
	}
}
