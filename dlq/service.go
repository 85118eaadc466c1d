package dlq

import (
	"context"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/queue"
)

// ListOpts filters dead letters.
type ListOpts struct {
	// JobType restricts the listing to one job type. Empty means all.
	JobType string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Service provides dead letter operations over a queue.
type Service struct {
	queue      *queue.Queue
	storedType bool
}

// Option configures a Service.
type Option func(*Service)

// TrustStoredType lets Replay re-enqueue jobs whose type has no handler
// in this process. Admin tools that only inspect the store use it.
func TrustStoredType() Option {
	return func(s *Service) { s.storedType = true }
}

// NewService creates a dead letter service.
func NewService(q *queue.Queue, opts ...Option) *Service {
	s := &Service{queue: q}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns Failed jobs, oldest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*job.Job, error) {
	f := job.Filter{
		Statuses: []job.Status{job.StatusFailed},
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	if opts.JobType != "" {
		f.Types = []string{opts.JobType}
	}
	return s.queue.List(ctx, f)
}

// Replay enqueues a new pending job from a Failed one and returns the new
// job's ID. The new job runs immediately with a zero attempt count. A job
// that is not Failed yields an error matching jobs.ErrInvalidState. Unless
// the service trusts stored types, the job type must be registered.
func (s *Service) Replay(ctx context.Context, jobID id.JobID) (id.JobID, error) {
	failed, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return id.Nil, err
	}
	if failed.Status != job.StatusFailed {
		return id.Nil, &jobs.InvalidStateError{
			JobID: jobID.String(),
			From:  string(failed.Status),
			To:    string(job.StatusPending),
		}
	}

	replay := &job.Job{
		Type:         failed.Type,
		Payload:      failed.Payload,
		Priority:     failed.Priority,
		MaxAttempts:  failed.MaxAttempts,
		RecurrenceID: failed.RecurrenceID,
	}
	if s.storedType {
		return s.queue.Resubmit(ctx, replay)
	}
	return s.queue.Enqueue(ctx, replay)
}
