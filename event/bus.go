package event

import (
	"context"
	"time"

	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Compile-time checks.
var (
	_ ext.Extension    = (*Bus)(nil)
	_ ext.JobEnqueued  = (*Bus)(nil)
	_ ext.JobStarted   = (*Bus)(nil)
	_ ext.JobCompleted = (*Bus)(nil)
	_ ext.JobFailed    = (*Bus)(nil)
	_ ext.JobRetrying  = (*Bus)(nil)
	_ ext.JobCancelled = (*Bus)(nil)
)

// Bus is an extension that forwards every job transition to a Sink.
// Register it on the engine's ext.Registry; sink errors are returned to
// the registry, which logs them and carries on.
type Bus struct {
	sink Sink
}

// NewBus creates a Bus publishing to sinks. More than one sink is
// wrapped in a MultiSink.
func NewBus(sinks ...Sink) *Bus {
	if len(sinks) == 1 {
		return &Bus{sink: sinks[0]}
	}
	return &Bus{sink: MultiSink(sinks)}
}

// Name implements ext.Extension.
func (b *Bus) Name() string { return "event-bus" }

// Publish sends the event for j's current state.
func (b *Bus) Publish(ctx context.Context, j *job.Job) error {
	return b.sink.Publish(ctx, FromJob(j))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (b *Bus) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return b.Publish(ctx, j)
}

// OnJobStarted implements ext.JobStarted.
func (b *Bus) OnJobStarted(ctx context.Context, j *job.Job) error {
	return b.Publish(ctx, j)
}

// OnJobCompleted implements ext.JobCompleted.
func (b *Bus) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	return b.Publish(ctx, j)
}

// OnJobFailed implements ext.JobFailed.
func (b *Bus) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	return b.Publish(ctx, j)
}

// OnJobRetrying implements ext.JobRetrying.
func (b *Bus) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	return b.Publish(ctx, j)
}

// OnJobCancelled implements ext.JobCancelled.
func (b *Bus) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return b.Publish(ctx, j)
}
