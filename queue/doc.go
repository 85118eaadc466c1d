// Package queue is the job queue service and its per-type admission
// control.
//
// [Queue] sits between producers, the worker pool and the scheduler on one
// side and a [job.Store] on the other. Every mutation is one atomic store
// operation:
//
//	enqueue  → Pending
//	lease    → Running            (attempts++, lease token stamped)
//	complete → Completed
//	fail     → Retrying | Failed  (backoff, fatal errors, attempt budget)
//	cancel   → Cancelled          (Pending or Retrying only)
//
// and every transition is reported to the [ext.Registry]. Idle workers
// wait on [Queue.Wake], which enqueue and recovery raise.
//
// # Per-Type Limits
//
// Use [Limit] to cap concurrency and lease rate for a job type:
//
//	queue.Limit{
//	    JobType:        "webhook-dispatch",
//	    MaxConcurrency: 5,  // max 5 concurrent deliveries
//	    RateLimit:      10, // max 10 leases/s
//	    RateBurst:      20,
//	}
//
// [Limiter] claims budget before leasing: a type without budget is
// dropped from the capability set the pool leases with, so its jobs are
// never claimed and bounced. It uses a token-bucket rate limiter
// (golang.org/x/time/rate) and an active-count gate.
//
//	res := limiter.Reserve(registry.Types())
//	j, _ := q.Lease(ctx, workerID, res.Types())
//	if j == nil {
//	    res.Cancel()
//	    return
//	}
//	res.Commit(j.Type)
//	defer limiter.Release(j.Type)
package queue
