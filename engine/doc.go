// Package engine wires the job engine together and is the API that
// producers and handler modules use.
//
// # Building an Engine
//
//	d, err := jobs.New(
//	    jobs.WithStore(pgStore),
//	    jobs.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithLimits(queue.Limit{JobType: "transcode", MaxConcurrency: 2}),
//	    engine.WithEventSink(event.NewLogSink(logger)),
//	)
//
// # Registering Handlers
//
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail, job.WithTimeout(30*time.Second)))
//	eng.RegisterFunc("virus-scan", scanRaw, 2*time.Minute)
//
// # Enqueuing Jobs
//
//	jobID, err := engine.Enqueue(ctx, eng, "send-email", EmailInput{To: "user@example.com"},
//	    job.WithPriority(job.PriorityHigh),
//	    job.WithDelay(5*time.Minute),
//	)
//	view, err := eng.GetStatus(ctx, jobID)
//	err = eng.Cancel(ctx, jobID)
//
// # Recurrences
//
//	eng.AddRecurrence(ctx, &cron.Definition{
//	    Name:     "nightly-backup",
//	    JobType:  "backup",
//	    Schedule: "0 3 * * *",
//	    Enabled:  true,
//	})
//
// Setting Config.RecurrenceFile loads a YAML file of definitions on Start
// and reapplies it whenever it changes.
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: set the retry backoff strategy
//   - [WithLimits]: per-job-type rate limits and concurrency caps
//   - [WithEventSink]: receive one event per job transition
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
