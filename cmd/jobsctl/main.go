// Command jobsctl inspects and manages the job store of a deployment:
// apply migrations, list and inspect jobs, cancel pending work, replay
// failed jobs and show recurrence definitions.
//
//	jobsctl -config jobs.yaml migrate
//	jobsctl -config jobs.yaml list -status failed -type backup -limit 20
//	jobsctl -config jobs.yaml status job_01h455vb4pex5vsknk084sn02q
//	jobsctl -config jobs.yaml cancel job_01h455vb4pex5vsknk084sn02q
//	jobsctl -config jobs.yaml replay job_01h455vb4pex5vsknk084sn02q
//	jobsctl -config jobs.yaml recurrences
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
