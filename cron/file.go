package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/job"
)

// reloadDelay coalesces the burst of events editors produce for one save.
const reloadDelay = 250 * time.Millisecond

// fileDefinition is one entry of a recurrence file.
type fileDefinition struct {
	Name        string `yaml:"name"`
	JobType     string `yaml:"job_type"`
	Schedule    string `yaml:"schedule"`
	Payload     any    `yaml:"payload"`
	Priority    string `yaml:"priority"`
	MaxAttempts int    `yaml:"max_attempts"`
	Enabled     *bool  `yaml:"enabled"`
}

type recurrenceFile struct {
	Recurrences []fileDefinition `yaml:"recurrences"`
}

// LoadDefinitions reads a YAML recurrence file:
//
//	recurrences:
//	  - name: nightly-backup
//	    job_type: backup
//	    schedule: "0 3 * * *"
//	    priority: high
//	    payload: {target: /srv/data}
//
// Payloads are converted to JSON. Enabled defaults to true.
func LoadDefinitions(path string) ([]*Definition, error) {
	_, defs, err := readDefinitions(path)
	return defs, err
}

func readDefinitions(path string) ([]byte, []*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("jobs/cron: read %s: %w", path, err)
	}
	defs, err := ParseDefinitions(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, defs, nil
}

// ParseDefinitions decodes and validates recurrence file content.
func ParseDefinitions(raw []byte) ([]*Definition, error) {
	var f recurrenceFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("jobs/cron: decode recurrences: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Recurrences))
	defs := make([]*Definition, 0, len(f.Recurrences))
	for i, fd := range f.Recurrences {
		d, err := fd.definition()
		if err != nil {
			return nil, fmt.Errorf("jobs/cron: recurrence %d: %w", i, err)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("jobs/cron: recurrence %q: %w", d.Name, jobs.ErrDuplicateRecurrence)
		}
		seen[d.Name] = struct{}{}
		defs = append(defs, d)
	}
	return defs, nil
}

func (fd fileDefinition) definition() (*Definition, error) {
	d := &Definition{
		Name:        fd.Name,
		JobType:     fd.JobType,
		Schedule:    fd.Schedule,
		Priority:    job.PriorityNormal,
		MaxAttempts: fd.MaxAttempts,
		Enabled:     fd.Enabled == nil || *fd.Enabled,
		Source:      SourceFile,
	}
	if fd.Priority != "" {
		p, err := job.ParsePriority(fd.Priority)
		if err != nil {
			return nil, err
		}
		d.Priority = p
	}
	if fd.Payload != nil {
		payload, err := json.Marshal(fd.Payload)
		if err != nil {
			return nil, &jobs.ValidationError{Field: "payload", Reason: err.Error()}
		}
		d.Payload = payload
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// WatchOption configures WatchDefinitions.
type WatchOption func(*watchState)

type watchState struct {
	mu      sync.Mutex
	applied []byte
}

// WithApplied tells the watcher that raw, the current content of the
// file, has already been applied. Content equal to it is not applied
// again.
func WithApplied(raw []byte) WatchOption {
	return func(w *watchState) { w.applied = append([]byte(nil), raw...) }
}

// WatchDefinitions loads path, hands the definitions to apply, and then
// reapplies them whenever the file content changes. It blocks until ctx
// is done. Reload failures are logged and the previous definitions stay
// in effect.
func WatchDefinitions(ctx context.Context, path string, apply func(context.Context, []*Definition) error, logger *slog.Logger, opts ...WatchOption) error {
	if logger == nil {
		logger = slog.Default()
	}
	state := &watchState{}
	for _, opt := range opts {
		opt(state)
	}

	reload := func() {
		state.mu.Lock()
		defer state.mu.Unlock()

		raw, defs, err := readDefinitions(path)
		if err != nil {
			logger.Warn("recurrence file load failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		if state.applied != nil && bytes.Equal(raw, state.applied) {
			return
		}
		if err := apply(ctx, defs); err != nil {
			logger.Warn("recurrence file rejected",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		state.applied = raw
		logger.Info("recurrence file applied",
			slog.String("path", path),
			slog.Int("definitions", len(defs)),
		)
	}

	// Watch the directory: editors often replace the file by rename,
	// which drops a watch on the file itself.
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("jobs/cron: watch %s: %w", path, err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("jobs/cron: watch %s: %w", path, err)
	}

	// Picks up edits made before the watch was in place.
	reload()

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDelay, reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	file := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("recurrence file watch error",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}
