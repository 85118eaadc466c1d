// Package job defines the job entity, its state machine, typed
// definitions, the handler registry and the store interface.
//
// # Job Entity
//
// A [Job] embeds [jobs.Entity] for timestamps, carries an opaque JSON
// payload, and progresses through a state machine:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//	pending | retrying → cancelled
//
// Completed, Failed and Cancelled are terminal. Every other move is
// rejected with a *jobs.InvalidStateError.
//
// Fields of note:
//   - Priority: Critical > High > Normal > Low
//   - Attempts / MaxAttempts: Attempts counts leases; it never exceeds MaxAttempts
//   - ScheduledAt: earliest time the job may be leased
//   - LeaseID: token that must accompany the outcome of the current attempt
//
// # Defining a Job
//
// Use [NewDefinition] (or [NewTask] when there is no result):
//
//	var ScanUpload = job.NewDefinition("virus-scan",
//	    func(ctx context.Context, in ScanInput) (ScanReport, error) {
//	        return scanner.Scan(ctx, in.Path)
//	    },
//	    job.WithTimeout(2*time.Minute),
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values with a
// per-type timeout. Populate it at startup:
//
//	job.RegisterDefinition(registry, ScanUpload)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
