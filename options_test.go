package jobs_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobs "github.com/MickLesk/syncspace-sub002"
)

type stepLog struct{ steps []string }

func (l *stepLog) add(s string) { l.steps = append(l.steps, s) }

type fakeRunner struct {
	name     string
	log      *stepLog
	startErr error
	stopErr  error
}

func (r *fakeRunner) Start(context.Context) error {
	r.log.add(r.name + ".start")
	return r.startErr
}

func (r *fakeRunner) Stop(context.Context) error {
	r.log.add(r.name + ".stop")
	return r.stopErr
}

type fakeStore struct{ log *stepLog }

func (fakeStore) Migrate(context.Context) error { return nil }
func (fakeStore) Ping(context.Context) error    { return nil }

func (s fakeStore) Close() error {
	s.log.add("store.close")
	return nil
}

type fakeExtensions struct{ log *stepLog }

func (e fakeExtensions) EmitShutdown(context.Context) { e.log.add("shutdown") }

func newDispatcher(t *testing.T, log *stepLog, pool, sched *fakeRunner) *jobs.Dispatcher {
	t.Helper()
	var buf bytes.Buffer
	d, err := jobs.New(
		jobs.WithStore(fakeStore{log: log}),
		jobs.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	require.NoError(t, err)
	d.SetPool(pool)
	d.SetScheduler(sched)
	d.SetExtensions(fakeExtensions{log: log})
	return d
}

func TestNew_AppliesOptions(t *testing.T) {
	d, err := jobs.New(
		jobs.WithConcurrency(4),
		jobs.WithPollInterval(50*time.Millisecond),
		jobs.WithSchedulerInterval(2*time.Second),
		jobs.WithShutdownTimeout(time.Second),
		jobs.WithDefaultMaxAttempts(7),
		jobs.WithDefaultTimeout(time.Minute),
		jobs.WithBackoff(time.Second, time.Hour, 0.1),
		jobs.WithRecurrenceFile("/etc/jobs/recurrences.yaml"),
	)
	require.NoError(t, err)

	cfg := d.Config()
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 7, cfg.DefaultMaxAttempts)
	assert.Equal(t, time.Minute, cfg.DefaultTimeout)
	assert.Equal(t, time.Hour, cfg.BackoffCap)
	assert.InDelta(t, 0.1, cfg.BackoffJitter, 1e-9)
	assert.Equal(t, "/etc/jobs/recurrences.yaml", cfg.RecurrenceFile)
	assert.Nil(t, d.Store())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := jobs.New(jobs.WithConcurrency(0))
	require.ErrorIs(t, err, jobs.ErrValidation)

	_, err = jobs.New(jobs.WithLogger(nil))
	require.ErrorIs(t, err, jobs.ErrValidation)
}

func TestDispatcher_StartWithoutPool(t *testing.T) {
	d, err := jobs.New()
	require.NoError(t, err)
	require.ErrorIs(t, d.Start(context.Background()), jobs.ErrNoStore)
}

func TestDispatcher_Lifecycle(t *testing.T) {
	log := &stepLog{}
	d := newDispatcher(t, log,
		&fakeRunner{name: "pool", log: log},
		&fakeRunner{name: "scheduler", log: log},
	)
	ctx := context.Background()

	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, []string{
		"scheduler.start", "pool.start",
		"scheduler.stop", "pool.stop", "shutdown", "store.close",
	}, log.steps)
}

func TestDispatcher_PoolStartFailureStopsScheduler(t *testing.T) {
	log := &stepLog{}
	boom := errors.New("no slots")
	d := newDispatcher(t, log,
		&fakeRunner{name: "pool", log: log, startErr: boom},
		&fakeRunner{name: "scheduler", log: log},
	)

	err := d.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"scheduler.start", "pool.start", "scheduler.stop"}, log.steps)
}

func TestDispatcher_StopJoinsErrors(t *testing.T) {
	log := &stepLog{}
	schedErr := errors.New("lock release failed")
	poolErr := errors.New("drain timed out")
	d := newDispatcher(t, log,
		&fakeRunner{name: "pool", log: log, stopErr: poolErr},
		&fakeRunner{name: "scheduler", log: log, stopErr: schedErr},
	)
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	err := d.Stop(ctx)
	require.ErrorIs(t, err, schedErr)
	require.ErrorIs(t, err, poolErr)
	assert.Contains(t, log.steps, "store.close")
}
