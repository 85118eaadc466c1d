package job

import (
	"time"

	"github.com/MickLesk/syncspace-sub002/id"
)

// Options configures a job definition's defaults and individual enqueues.
type Options struct {
	// Priority orders eligible jobs. Defaults to PriorityNormal.
	Priority Priority

	// MaxAttempts is the attempt ceiling. Zero means the engine default.
	MaxAttempts int

	// Timeout is the handler budget. Only meaningful on definitions; zero
	// means the registry default.
	Timeout time.Duration

	// ScheduledAt is the earliest lease time. Zero means immediately.
	ScheduledAt time.Time

	// Delay is added to the enqueue time when ScheduledAt is zero.
	Delay time.Duration

	// RecurrenceID links a job to the recurrence that spawned it.
	RecurrenceID id.RecurrenceID
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority: PriorityNormal,
	}
}

// Option is a functional option for definitions and enqueues.
type Option func(*Options)

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts sets the attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout sets the handler budget for a definition.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithScheduledAt delays eligibility until t.
func WithScheduledAt(t time.Time) Option {
	return func(o *Options) {
		o.ScheduledAt = t
	}
}

// WithDelay delays eligibility by d from enqueue time.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithRecurrence links the job to a recurrence definition.
func WithRecurrence(recID id.RecurrenceID) Option {
	return func(o *Options) {
		o.RecurrenceID = recID
	}
}
