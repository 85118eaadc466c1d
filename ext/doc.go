// Package ext defines the extension system for the job engine.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, forwarding events to live clients, writing audit
// logs. Each lifecycle hook is a separate interface so extensions opt in
// only to the events they care about.
//
// # Implementing an Extension
//
//	type AuditExtension struct{}
//
//	func (e *AuditExtension) Name() string { return "audit" }
//
//	func (e *AuditExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: a worker slot leased the job
//   - [JobCompleted]: job finished successfully
//   - [JobRetrying]: job failed and another attempt is scheduled
//   - [JobFailed]: job failed terminally
//   - [JobCancelled]: job was cancelled before running
//   - [JobRecovered]: an expired lease was reclaimed
//
// # Other Hooks
//
//   - [RecurrenceFired]: the scheduler enqueued a recurring job
//   - [Shutdown]: the engine is shutting down gracefully
//
// Hook errors are logged by the [Registry] and never propagated.
package ext
