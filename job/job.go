package job

import (
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
)

// Job is a unit of work. Identity, type, payload and priority are fixed at
// creation; the remaining fields are lifecycle state mutated only through
// the store operations.
type Job struct {
	jobs.Entity

	ID           id.JobID        `json:"id"`
	Type         string          `json:"job_type"`
	Payload      []byte          `json:"payload,omitempty"`
	Priority     Priority        `json:"priority"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Result       []byte          `json:"result,omitempty"`
	RecurrenceID id.RecurrenceID `json:"recurrence_id,omitempty"`

	// Lease bookkeeping. Both are Nil unless Status is StatusRunning.
	WorkerID id.WorkerID `json:"worker_id,omitempty"`
	LeaseID  id.LeaseID  `json:"lease_id,omitempty"`
}

// Failure describes a failed attempt handed to Store.FailJob.
type Failure struct {
	// Error is recorded as LastError.
	Error string

	// Fatal skips the retry policy.
	Fatal bool

	// RetryAt becomes ScheduledAt when the job moves to Retrying.
	RetryAt time.Time

	// At stamps UpdatedAt, and CompletedAt when the job moves to Failed.
	At time.Time
}

// Clone returns a deep copy so stores can hand out jobs without sharing
// mutable state.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = cloneBytes(j.Payload)
	cp.Result = cloneBytes(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Eligible reports whether the job may be leased at now.
func (j *Job) Eligible(now time.Time) bool {
	return (j.Status == StatusPending || j.Status == StatusRetrying) && !j.ScheduledAt.After(now)
}

// Before reports whether j should be leased ahead of other: higher
// priority first, then earlier ScheduledAt, then earlier CreatedAt, then
// ID (which is creation-ordered) as the final tie-break.
func (j *Job) Before(other *Job) bool {
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	if !j.ScheduledAt.Equal(other.ScheduledAt) {
		return j.ScheduledAt.Before(other.ScheduledAt)
	}
	if !j.CreatedAt.Equal(other.CreatedAt) {
		return j.CreatedAt.Before(other.CreatedAt)
	}
	return j.ID.Less(other.ID)
}

// Lease moves an eligible job to Running and counts the attempt.
func (j *Job) Lease(workerID id.WorkerID, leaseID id.LeaseID, now time.Time) error {
	if err := CheckTransition(j.ID, j.Status, StatusRunning); err != nil {
		return err
	}
	t := now
	j.Status = StatusRunning
	j.Attempts++
	j.StartedAt = &t
	j.WorkerID = workerID
	j.LeaseID = leaseID
	j.UpdatedAt = now
	return nil
}

// CheckLease verifies that leaseID still owns the job and that the job
// may move to the outcome status to.
func (j *Job) CheckLease(leaseID id.LeaseID, to Status) error {
	if j.LeaseID.IsNil() || j.LeaseID.String() != leaseID.String() {
		return jobs.ErrLeaseLost
	}
	return CheckTransition(j.ID, j.Status, to)
}

// Complete records a successful attempt.
func (j *Job) Complete(leaseID id.LeaseID, result []byte, now time.Time) error {
	if err := j.CheckLease(leaseID, StatusCompleted); err != nil {
		return err
	}
	t := now
	j.Status = StatusCompleted
	j.Result = cloneBytes(result)
	j.CompletedAt = &t
	j.LastError = ""
	j.releaseLease(now)
	return nil
}

// Fail records a failed attempt: Retrying while attempts remain and the
// failure is not fatal, Failed otherwise.
func (j *Job) Fail(leaseID id.LeaseID, f Failure) error {
	if err := j.CheckLease(leaseID, StatusFailed); err != nil {
		return err
	}
	j.LastError = f.Error
	if f.Fatal || j.Attempts >= j.MaxAttempts {
		t := f.At
		j.Status = StatusFailed
		j.CompletedAt = &t
	} else {
		j.Status = StatusRetrying
		j.ScheduledAt = f.RetryAt
	}
	j.releaseLease(f.At)
	return nil
}

// Cancel moves a Pending or Retrying job to Cancelled.
func (j *Job) Cancel(now time.Time) error {
	if err := CheckTransition(j.ID, j.Status, StatusCancelled); err != nil {
		return err
	}
	t := now
	j.Status = StatusCancelled
	j.CompletedAt = &t
	j.UpdatedAt = now
	return nil
}

func (j *Job) releaseLease(now time.Time) {
	j.WorkerID = id.Nil
	j.LeaseID = id.Nil
	j.UpdatedAt = now
}

// View is the read-only projection returned to producers.
type View struct {
	ID           string     `json:"id"`
	Type         string     `json:"job_type"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Result       []byte     `json:"result,omitempty"`
	RecurrenceID string     `json:"recurrence_id,omitempty"`
}

// View projects the job for producers.
func (j *Job) View() View {
	cp := j.Clone()
	return View{
		ID:           cp.ID.String(),
		Type:         cp.Type,
		Priority:     cp.Priority,
		Status:       cp.Status,
		Attempts:     cp.Attempts,
		MaxAttempts:  cp.MaxAttempts,
		CreatedAt:    cp.CreatedAt,
		ScheduledAt:  cp.ScheduledAt,
		StartedAt:    cp.StartedAt,
		CompletedAt:  cp.CompletedAt,
		LastError:    cp.LastError,
		Result:       cp.Result,
		RecurrenceID: cp.RecurrenceID.String(),
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
