// Package stream fans job events out to in-process subscribers, such as
// the connection handlers of a live dashboard. A Broker is an event.Sink
// and an ext.Extension at the same time.
package stream

import (
	"encoding/json"
	"time"

	"github.com/MickLesk/syncspace-sub002/job"
)

// EventType identifies the kind of envelope.
type EventType string

const (
	EventJobPending   EventType = "job.pending"
	EventJobRunning   EventType = "job.running"
	EventJobRetrying  EventType = "job.retrying"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"

	EventRecurrenceFired EventType = "recurrence.fired"
)

// jobEventType maps a status to its envelope type.
func jobEventType(s job.Status) EventType {
	return EventType("job." + string(s))
}

// Envelope is what subscribers receive.
type Envelope struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
}

// RecurrenceEventData is the payload of recurrence.fired envelopes.
type RecurrenceEventData struct {
	RecurrenceID string `json:"recurrence_id"`
	JobID        string `json:"job_id"`
}
