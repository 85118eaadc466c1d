package mongo

import (
	"fmt"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID           string     `bson:"_id"`
	Type         string     `bson:"job_type"`
	Payload      []byte     `bson:"payload,omitempty"`
	Priority     int        `bson:"priority"`
	Status       string     `bson:"status"`
	Attempts     int        `bson:"attempts"`
	MaxAttempts  int        `bson:"max_attempts"`
	ScheduledAt  time.Time  `bson:"scheduled_at"`
	StartedAt    *time.Time `bson:"started_at,omitempty"`
	CompletedAt  *time.Time `bson:"completed_at,omitempty"`
	LastError    string     `bson:"last_error"`
	Result       []byte     `bson:"result,omitempty"`
	RecurrenceID string     `bson:"recurrence_id,omitempty"`
	WorkerID     string     `bson:"worker_id,omitempty"`
	LeaseID      string     `bson:"lease_id,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`

	// Version increments on every write and guards optimistic updates.
	Version int64 `bson:"version"`
}

func toJobModel(j *job.Job, version int64) *jobModel {
	return &jobModel{
		ID:           j.ID.String(),
		Type:         j.Type,
		Payload:      j.Payload,
		Priority:     int(j.Priority),
		Status:       string(j.Status),
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		ScheduledAt:  j.ScheduledAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		LastError:    j.LastError,
		Result:       j.Result,
		RecurrenceID: optionalID(j.RecurrenceID),
		WorkerID:     optionalID(j.WorkerID),
		LeaseID:      optionalID(j.LeaseID),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		Version:      version,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", m.ID, err)
	}
	j := &job.Job{
		ID:          jID,
		Type:        m.Type,
		Payload:     m.Payload,
		Priority:    job.Priority(m.Priority),
		Status:      job.Status(m.Status),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		ScheduledAt: m.ScheduledAt.UTC(),
		StartedAt:   utcPtr(m.StartedAt),
		CompletedAt: utcPtr(m.CompletedAt),
		LastError:   m.LastError,
		Result:      m.Result,
	}
	j.CreatedAt = m.CreatedAt.UTC()
	j.UpdatedAt = m.UpdatedAt.UTC()

	if j.RecurrenceID, err = id.ParseOptional(m.RecurrenceID, id.PrefixRecurrence); err != nil {
		return nil, err
	}
	if j.WorkerID, err = id.ParseOptional(m.WorkerID, id.PrefixWorker); err != nil {
		return nil, err
	}
	if j.LeaseID, err = id.ParseOptional(m.LeaseID, id.PrefixLease); err != nil {
		return nil, err
	}
	return j, nil
}

// ── Recurrence model ──────────────────────────────────────────────

type recurrenceModel struct {
	ID             string     `bson:"_id"`
	Name           string     `bson:"name"`
	JobType        string     `bson:"job_type"`
	Payload        []byte     `bson:"payload,omitempty"`
	Schedule       string     `bson:"schedule"`
	Priority       int        `bson:"priority"`
	MaxAttempts    int        `bson:"max_attempts"`
	Enabled        bool       `bson:"enabled"`
	LastEnqueuedAt *time.Time `bson:"last_enqueued_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
	Source         string     `bson:"source,omitempty"`
}

func toRecurrenceModel(d *cron.Definition) *recurrenceModel {
	return &recurrenceModel{
		ID:             d.ID.String(),
		Name:           d.Name,
		JobType:        d.JobType,
		Payload:        d.Payload,
		Schedule:       d.Schedule,
		Priority:       int(d.Priority),
		MaxAttempts:    d.MaxAttempts,
		Enabled:        d.Enabled,
		LastEnqueuedAt: d.LastEnqueuedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		Source:         d.Source,
	}
}

func fromRecurrenceModel(m *recurrenceModel) (*cron.Definition, error) {
	rID, err := id.ParseRecurrenceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence id %q: %w", m.ID, err)
	}
	return &cron.Definition{
		Entity: jobs.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             rID,
		Name:           m.Name,
		JobType:        m.JobType,
		Payload:        m.Payload,
		Schedule:       m.Schedule,
		Priority:       job.Priority(m.Priority),
		MaxAttempts:    m.MaxAttempts,
		Enabled:        m.Enabled,
		LastEnqueuedAt: utcPtr(m.LastEnqueuedAt),
		Source:         m.Source,
	}, nil
}

func optionalID(i id.ID) string {
	if i.IsNil() {
		return ""
	}
	return i.String()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
