// Package observability records engine-wide OpenTelemetry counters from
// the lifecycle hooks: one counter per job transition plus recurrence
// fires, each labelled with the job type.
//
// Per-attempt spans and durations live in the middleware package
// (middleware.Tracing and middleware.Metrics).
package observability
