// Package dlq treats permanently failed jobs as a dead letter queue.
//
// A job that exhausted its attempts, or failed with a fatal error, stays
// in the jobs table in Failed state with its payload and last error. The
// [Service] lists those jobs and replays them: a replay enqueues a fresh
// job with the same type, payload, priority and attempt budget. The
// failed job itself is never modified, since terminal states are final.
//
//	svc := dlq.NewService(q)
//	failed, _ := svc.List(ctx, dlq.ListOpts{JobType: "send-email", Limit: 50})
//	newID, _ := svc.Replay(ctx, failed[0].ID)
package dlq
