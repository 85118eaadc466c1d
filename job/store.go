package job

import (
	"context"
	"time"

	"github.com/MickLesk/syncspace-sub002/id"
)

// Filter selects jobs for List queries. Zero-valued fields match all.
type Filter struct {
	Statuses     []Status
	Types        []string
	RecurrenceID id.RecurrenceID

	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Match reports whether j satisfies the filter's predicates (Limit and
// Offset are applied by the caller).
func (f Filter) Match(j *Job) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, j.Status) {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, j.Type) {
		return false
	}
	if !f.RecurrenceID.IsNil() && f.RecurrenceID.String() != j.RecurrenceID.String() {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already ordered slice.
func (f Filter) Page(list []*Job) []*Job {
	if f.Offset > 0 {
		if f.Offset >= len(list) {
			return []*Job{}
		}
		list = list[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(list) {
		list = list[:f.Limit]
	}
	return list
}

// LeaseRequest asks the store for the next eligible job.
type LeaseRequest struct {
	// WorkerID is recorded as the lease owner.
	WorkerID id.WorkerID

	// LeaseID is the token the caller must present on completion.
	LeaseID id.LeaseID

	// Types restricts the lease to job types the caller can handle. An
	// empty list leases nothing.
	Types []string

	// Now is the eligibility cutoff and the StartedAt stamp.
	Now time.Time
}

// Store defines the persistence contract for jobs. Every mutating method
// is a single atomic step; no caller mutates job records any other way.
type Store interface {
	// EnqueueJob persists a new job in pending state.
	EnqueueJob(ctx context.Context, j *Job) error

	// LeaseJob atomically claims the best eligible job among req.Types,
	// ordered by priority (descending), ScheduledAt, CreatedAt, and marks
	// it Running. Returns (nil, nil) when nothing is eligible.
	LeaseJob(ctx context.Context, req LeaseRequest) (*Job, error)

	// CompleteJob moves a Running job to Completed if leaseID still owns
	// it. Returns the updated job.
	CompleteJob(ctx context.Context, jobID id.JobID, leaseID id.LeaseID, result []byte, now time.Time) (*Job, error)

	// FailJob moves a Running job to Retrying or Failed per Job.Fail if
	// leaseID still owns it. Returns the updated job.
	FailJob(ctx context.Context, jobID id.JobID, leaseID id.LeaseID, f Failure) (*Job, error)

	// CancelJob moves a Pending or Retrying job to Cancelled.
	CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs matching the filter ordered by CreatedAt.
	ListJobs(ctx context.Context, f Filter) ([]*Job, error)

	// HasActiveJob reports whether a Pending, Running or Retrying job
	// exists for the recurrence.
	HasActiveJob(ctx context.Context, recID id.RecurrenceID) (bool, error)

	// ListExpiredLeases returns Running jobs started before cutoff.
	ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StatusStrings converts statuses for driver parameters.
func StatusStrings(list []Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}
