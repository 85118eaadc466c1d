// Package event turns job transitions into notifications for downstream
// collaborators such as live-client broadcasters.
//
// Delivery is best-effort and at-least-once: a sink may see the same
// transition twice and must be idempotent.
package event

import (
	"time"

	"github.com/MickLesk/syncspace-sub002/job"
)

// Event is the notification emitted on every job transition.
type Event struct {
	JobID        string     `json:"job_id"`
	JobType      string     `json:"job_type"`
	Status       job.Status `json:"status"`
	Attempts     int        `json:"attempts"`
	Timestamp    time.Time  `json:"timestamp"`
	RecurrenceID string     `json:"recurrence_id,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// FromJob builds the event describing j's current state.
func FromJob(j *job.Job) Event {
	e := Event{
		JobID:     j.ID.String(),
		JobType:   j.Type,
		Status:    j.Status,
		Attempts:  j.Attempts,
		Timestamp: j.UpdatedAt,
		Error:     j.LastError,
	}
	if !j.RecurrenceID.IsNil() {
		e.RecurrenceID = j.RecurrenceID.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}
