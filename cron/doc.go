// Package cron schedules recurring jobs.
//
// A [Definition] is a job template (type, payload, priority, attempt
// budget) plus a schedule expression. The [Scheduler] evaluates enabled
// definitions on every tick in ID order and enqueues a new job instance
// for each one that is due.
//
// # Schedules
//
// The scheduler only needs a [Schedule], a "next fire time after t"
// capability. [ParseSchedule] provides one for standard 5-field cron
// expressions and descriptors:
//
//	"0 9 * * 1-5"   // weekdays at 09:00
//	"@hourly"
//	"@every 30s"
//
// # No Stacking
//
// At most one instance per definition is active (Pending, Running or
// Retrying) at a time. A due definition whose previous instance is still
// active is skipped; missed fire times collapse into one enqueue once the
// instance finishes.
//
// # Exclusivity
//
// Each tick first takes the scheduler lock through
// [Store.AcquireSchedulerLock], so only one process per deployment
// enqueues recurrences even when several engines share a store.
//
// # Recurrence Files
//
// Definitions can be declared in YAML and loaded with [LoadDefinitions].
// [WatchDefinitions] reapplies the file through [Scheduler.Apply] when it
// changes.
package cron
