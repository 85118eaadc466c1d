package job

import (
	"fmt"
	"strings"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
)

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job waits for its first lease.
	StatusPending Status = "pending"
	// StatusRunning means a worker slot holds a lease on the job.
	StatusRunning Status = "running"
	// StatusRetrying means an attempt failed and another is scheduled.
	StatusRetrying Status = "retrying"
	// StatusCompleted means the handler succeeded. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means attempts are exhausted or the failure was fatal. Terminal.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled before running. Terminal.
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []Status{StatusPending, StatusRunning, StatusRetrying}

var transitions = map[Status][]Status{
	StatusPending:  {StatusRunning, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusRetrying, StatusFailed},
	StatusRetrying: {StatusRunning, StatusCancelled},
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether s is Pending, Running or Retrying.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning || s == StatusRetrying
}

// CheckTransition returns an *jobs.InvalidStateError when from -> to is not
// allowed.
func CheckTransition(jobID id.JobID, from, to Status) error {
	if from.CanTransition(to) {
		return nil
	}
	return &jobs.InvalidStateError{JobID: jobID.String(), From: string(from), To: string(to)}
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusRetrying, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", &jobs.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// ──────────────────────────────────────────────────
// Priority
// ──────────────────────────────────────────────────

// Priority orders eligible jobs. A higher value is always leased first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// Priorities lists all priorities from highest to lowest.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the four defined priorities.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}
	return PriorityNormal, &jobs.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("job: invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(data []byte) error {
	parsed, err := ParsePriority(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
