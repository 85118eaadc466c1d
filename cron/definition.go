package cron

import (
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Definition is a recurring job: a job template plus the schedule that
// decides when the scheduler enqueues a new instance of it.
type Definition struct {
	jobs.Entity

	ID             id.RecurrenceID `json:"id"`
	Name           string          `json:"name"`
	JobType        string          `json:"job_type"`
	Payload        []byte          `json:"payload,omitempty"`
	Schedule       string          `json:"schedule"`
	Priority       job.Priority    `json:"priority"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastEnqueuedAt *time.Time      `json:"last_enqueued_at,omitempty"`

	// Source records who owns the definition. SourceFile marks entries
	// managed by a recurrence file; those are removed when they disappear
	// from the file. Empty means added through the API.
	Source string `json:"source,omitempty"`
}

// SourceFile is the Source of definitions loaded from a recurrence file.
const SourceFile = "file"

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	cp := *d
	if d.Payload != nil {
		cp.Payload = append([]byte(nil), d.Payload...)
	}
	if d.LastEnqueuedAt != nil {
		t := *d.LastEnqueuedAt
		cp.LastEnqueuedAt = &t
	}
	return &cp
}

// Validate checks the fields the scheduler relies on.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &jobs.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if d.JobType == "" {
		return &jobs.ValidationError{Field: "job_type", Reason: "must not be empty"}
	}
	if !d.Priority.Valid() {
		return &jobs.ValidationError{Field: "priority", Reason: "unknown priority"}
	}
	if d.MaxAttempts < 0 {
		return &jobs.ValidationError{Field: "max_attempts", Reason: "must not be negative"}
	}
	_, err := ParseSchedule(d.Schedule)
	return err
}

// NextRun returns the first fire time after the last enqueue, or after
// creation when the definition never fired.
func (d *Definition) NextRun(s Schedule) time.Time {
	base := d.CreatedAt
	if d.LastEnqueuedAt != nil {
		base = *d.LastEnqueuedAt
	}
	return s.Next(base)
}

// Job builds a new job instance from the template.
func (d *Definition) Job() *job.Job {
	j := &job.Job{
		Type:         d.JobType,
		Priority:     d.Priority,
		MaxAttempts:  d.MaxAttempts,
		RecurrenceID: d.ID,
	}
	if d.Payload != nil {
		j.Payload = append([]byte(nil), d.Payload...)
	}
	return j
}
