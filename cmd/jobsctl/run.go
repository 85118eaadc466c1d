package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/dlq"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/queue"
	"github.com/MickLesk/syncspace-sub002/store"
)

const usage = `usage: jobsctl [-config file] [-v] <command> [args]

commands:
  migrate                                   apply schema migrations
  list [-status s] [-type t] [-limit n]     list jobs, oldest first
  status <job-id>                           show one job as JSON
  cancel <job-id>                           cancel a pending or retrying job
  replay <job-id>                           enqueue a fresh copy of a failed job
  recurrences                               list recurrence definitions
`

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jobsctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := fs.String("config", "", "path to the YAML config file")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := jobs.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := jobs.LoadConfig(*cfgPath)
		if err != nil {
			fmt.Fprintln(stderr, "jobsctl:", err)
			return 1
		}
		cfg = loaded
	}

	s, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		fmt.Fprintln(stderr, "jobsctl: open store:", err)
		return 1
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()

	// jobsctl runs no handlers, so its registry stays empty and replays
	// trust the type stored with the failed job.
	q := queue.New(s, job.NewRegistry(), queue.WithLogger(logger), queue.WithDefaultMaxAttempts(cfg.DefaultMaxAttempts))
	c := &cli{
		store:  s,
		queue:  q,
		dlq:    dlq.NewService(q, dlq.TrustStoredType()),
		stdout: stdout,
		logger: logger,
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "migrate":
		err = c.migrate(ctx)
	case "list":
		err = c.list(ctx, rest, stderr)
	case "status":
		err = c.status(ctx, rest)
	case "cancel":
		err = c.cancel(ctx, rest)
	case "replay":
		err = c.replay(ctx, rest)
	case "recurrences":
		err = c.recurrences(ctx)
	default:
		fmt.Fprintf(stderr, "jobsctl: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	var usageErr *usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usageErr):
		fmt.Fprintln(stderr, "jobsctl:", err)
		return 2
	default:
		fmt.Fprintln(stderr, "jobsctl:", err)
		return 1
	}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

type cli struct {
	store  store.Store
	queue  *queue.Queue
	dlq    *dlq.Service
	stdout io.Writer
	logger *slog.Logger
}

func (c *cli) migrate(ctx context.Context) error {
	if err := c.store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "migrations applied")
	return nil
}

func (c *cli) list(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	status := fs.String("status", "", "filter by status")
	jobType := fs.String("type", "", "filter by job type")
	limit := fs.Int("limit", 50, "maximum number of jobs")
	if err := fs.Parse(args); err != nil {
		return &usageError{msg: err.Error()}
	}

	f := job.Filter{Limit: *limit}
	if *status != "" {
		st, err := job.ParseStatus(*status)
		if err != nil {
			return &usageError{msg: err.Error()}
		}
		f.Statuses = []job.Status{st}
	}
	if *jobType != "" {
		f.Types = []string{*jobType}
	}

	list, err := c.queue.List(ctx, f)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tATTEMPTS\tSCHEDULED\tLAST ERROR")
	for _, j := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.Type, j.Status, j.Priority, j.Attempts, j.MaxAttempts,
			j.ScheduledAt.Format(time.RFC3339), truncate(j.LastError, 60))
	}
	return tw.Flush()
}

func (c *cli) status(ctx context.Context, args []string) error {
	jobID, err := jobArg(args)
	if err != nil {
		return err
	}
	j, err := c.queue.Get(ctx, jobID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(j.View())
}

func (c *cli) cancel(ctx context.Context, args []string) error {
	jobID, err := jobArg(args)
	if err != nil {
		return err
	}
	j, err := c.queue.Cancel(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s %s\n", j.ID, j.Status)
	return nil
}

func (c *cli) replay(ctx context.Context, args []string) error {
	jobID, err := jobArg(args)
	if err != nil {
		return err
	}
	newID, err := c.dlq.Replay(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s replayed as %s\n", jobID, newID)
	return nil
}

func (c *cli) recurrences(ctx context.Context) error {
	defs, err := c.store.ListRecurrences(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tJOB TYPE\tSCHEDULE\tENABLED\tLAST ENQUEUED")
	for _, d := range defs {
		last := "-"
		if d.LastEnqueuedAt != nil {
			last = d.LastEnqueuedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", d.ID, d.Name, d.JobType, d.Schedule, d.Enabled, last)
	}
	return tw.Flush()
}

func jobArg(args []string) (id.JobID, error) {
	if len(args) != 1 {
		return id.Nil, &usageError{msg: "expected exactly one job id"}
	}
	jobID, err := id.ParseJobID(args[0])
	if err != nil {
		return id.Nil, &usageError{msg: err.Error()}
	}
	return jobID, nil
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
