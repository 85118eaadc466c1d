package jobs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore = errors.New("jobs: no store configured")

	// Not found errors.
	ErrJobNotFound        = errors.New("jobs: job not found")
	ErrRecurrenceNotFound = errors.New("jobs: recurrence not found")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("jobs: job already exists")
	ErrDuplicateRecurrence = errors.New("jobs: duplicate recurrence")

	// Registry errors.
	ErrUnknownJobType = errors.New("jobs: unknown job type")

	// Taxonomy sentinels, matched by the typed errors below via errors.Is.
	ErrValidation   = errors.New("jobs: validation failed")
	ErrInvalidState = errors.New("jobs: invalid state transition")
	ErrTimeout      = errors.New("jobs: handler timed out")
	ErrLeaseExpired = errors.New("jobs: lease expired")

	// ErrLeaseLost is returned when an outcome is reported with a lease
	// token that no longer owns the job.
	ErrLeaseLost = errors.New("jobs: lease lost")

	// Lifecycle errors.
	ErrPoolStopped = errors.New("jobs: pool stopped")

	// ErrInterrupted is the cancellation cause of a Running job aborted by
	// a producer. An attempt that ends with it fails permanently.
	ErrInterrupted = errors.New("jobs: job interrupted")

	// ErrNotRunningHere is returned when aborting a job that no slot of
	// this process is executing.
	ErrNotRunningHere = errors.New("jobs: job is not running in this process")
)

// ValidationError rejects bad enqueue or configuration input. The job is
// never created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("jobs: invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidStateError rejects a transition the state machine does not allow.
// State is unchanged.
type InvalidStateError struct {
	JobID string
	From  string
	To    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("jobs: job %s cannot move from %s to %s", e.JobID, e.From, e.To)
}

// Is matches ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// HandlerError is a recoverable handler failure. It triggers the retry
// policy.
type HandlerError struct {
	JobType string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.JobType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// HandlerFatalError marks a failure as non-retryable: the job moves to
// Failed regardless of remaining attempts.
type HandlerFatalError struct {
	Err error
}

func (e *HandlerFatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *HandlerFatalError) Unwrap() error { return e.Err }

// Fatal wraps err so that the job fails permanently. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerFatalError{Err: err}
}

// IsFatal reports whether err carries a HandlerFatalError anywhere in its
// chain.
func IsFatal(err error) bool {
	var fe *HandlerFatalError
	return errors.As(err, &fe)
}

// TimeoutError records a handler that exceeded its budget. It counts as a
// HandlerError for retry accounting.
type TimeoutError struct {
	JobType string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("jobs: handler %s exceeded timeout %s", e.JobType, e.Timeout)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// LeaseExpiredError is recorded on jobs recovered by the lease-expiry
// sweep. It is never returned to producers.
type LeaseExpiredError struct {
	JobID     string
	StartedAt time.Time
	Deadline  time.Time
}

func (e *LeaseExpiredError) Error() string {
	return fmt.Sprintf("jobs: lease on %s expired at %s (started %s)",
		e.JobID, e.Deadline.Format(time.RFC3339), e.StartedAt.Format(time.RFC3339))
}

// Is matches ErrLeaseExpired.
func (e *LeaseExpiredError) Is(target error) bool { return target == ErrLeaseExpired }
