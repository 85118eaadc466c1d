package cron

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	jobs "github.com/MickLesk/syncspace-sub002"
)

// Schedule computes the next fire time after a given time. It is the only
// capability the scheduler needs from a schedule expression.
type Schedule interface {
	Next(time.Time) time.Time
}

// ScheduleFunc adapts a function to Schedule.
type ScheduleFunc func(time.Time) time.Time

// Next calls f(t).
func (f ScheduleFunc) Next(t time.Time) time.Time { return f(t) }

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression. Invalid expressions yield a
// *jobs.ValidationError.
func ParseSchedule(expr string) (Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &jobs.ValidationError{Field: "schedule", Reason: err.Error()}
	}
	return sched, nil
}
