// Package jobs is a durable background job engine: a priority-ordered job
// queue, a bounded worker pool that runs jobs with retry and backoff, and a
// recurrence scheduler that enqueues periodic work without stacking runs.
//
// The root package holds configuration, the error taxonomy and the
// Dispatcher lifecycle holder. Subsystems live in their own packages and
// are wired together by the engine package.
//
// # Quick Start
//
//	s := memory.New()
//	d, err := jobs.New(jobs.WithStore(s), jobs.WithConcurrency(4))
//	eng, err := engine.Build(d)
//	engine.Register(eng, job.NewDefinition("thumbnail", renderThumbnail,
//	    job.WithTimeout(30*time.Second)))
//	eng.Start(ctx)
//	jobID, err := engine.Enqueue(ctx, eng, "thumbnail", thumbArgs{FileID: 42},
//	    job.WithPriority(job.PriorityHigh))
//
// # Architecture
//
// Each subsystem (job, cron) defines its own store interface and a single
// backend implements all of them. Backends ship for memory, SQLite,
// PostgreSQL, Redis and MongoDB.
//
// Job lifecycle:
//
//	Pending ──lease──▶ Running ──ok──▶ Completed
//	   │                  │ ├──error, attempts left──▶ Retrying ──lease──▶ Running
//	   │                  │ └──fatal / exhausted──▶ Failed
//	   └──cancel──▶ Cancelled ◀──cancel── Retrying
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package jobs
