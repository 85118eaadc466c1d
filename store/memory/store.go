package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store  = (*Store)(nil)
	_ cron.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store. Every method
// runs under one mutex, which makes each operation atomic. Jobs are
// copied in and out so callers never share state with the store.
// Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	recurrences map[string]*cron.Definition

	lockHolder string
	lockUntil  time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		recurrences: make(map[string]*cron.Definition),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobs.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// LeaseJob claims the best eligible job among req.Types.
func (m *Store) LeaseJob(_ context.Context, req job.LeaseRequest) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[string]struct{}, len(req.Types))
	for _, t := range req.Types {
		types[t] = struct{}{}
	}

	var best *job.Job
	for _, j := range m.jobs {
		if _, ok := types[j.Type]; !ok || !j.Eligible(req.Now) {
			continue
		}
		if best == nil || j.Before(best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	if err := best.Lease(req.WorkerID, req.LeaseID, req.Now); err != nil {
		return nil, err
	}
	return best.Clone(), nil
}

// CompleteJob moves a leased job to Completed.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, leaseID id.LeaseID, result []byte, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if err := j.Complete(leaseID, result, now); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// FailJob records a failed attempt on a leased job.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, leaseID id.LeaseID, f job.Failure) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if err := j.Fail(leaseID, f); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// CancelJob moves a Pending or Retrying job to Cancelled.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	if err := j.Cancel(now); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListJobs returns jobs matching the filter ordered by CreatedAt, then ID.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if f.Match(j) {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.Less(result[k].ID)
	})
	return f.Page(result), nil
}

// HasActiveJob reports whether the recurrence has a non-terminal instance.
func (m *Store) HasActiveJob(_ context.Context, recID id.RecurrenceID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := recID.String()
	for _, j := range m.jobs {
		if j.RecurrenceID.String() == key && j.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// ListExpiredLeases returns Running jobs started before cutoff, oldest
// first.
func (m *Store) ListExpiredLeases(_ context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(*result[k].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Recurrence Store
// ──────────────────────────────────────────────────

// SaveRecurrence persists a new definition.
func (m *Store) SaveRecurrence(_ context.Context, d *cron.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.recurrences {
		if existing.Name == d.Name {
			return jobs.ErrDuplicateRecurrence
		}
	}
	key := d.ID.String()
	if _, exists := m.recurrences[key]; exists {
		return jobs.ErrDuplicateRecurrence
	}
	m.recurrences[key] = d.Clone()
	return nil
}

// UpdateRecurrence replaces the mutable fields of a definition.
func (m *Store) UpdateRecurrence(_ context.Context, d *cron.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.recurrences[d.ID.String()]
	if !ok {
		return jobs.ErrRecurrenceNotFound
	}
	updated := d.Clone()
	updated.Name = existing.Name
	updated.CreatedAt = existing.CreatedAt
	updated.LastEnqueuedAt = existing.LastEnqueuedAt
	m.recurrences[d.ID.String()] = updated
	return nil
}

// GetRecurrence retrieves a definition by ID.
func (m *Store) GetRecurrence(_ context.Context, recID id.RecurrenceID) (*cron.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.recurrences[recID.String()]
	if !ok {
		return nil, jobs.ErrRecurrenceNotFound
	}
	return d.Clone(), nil
}

// GetRecurrenceByName retrieves a definition by name.
func (m *Store) GetRecurrenceByName(_ context.Context, name string) (*cron.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.recurrences {
		if d.Name == name {
			return d.Clone(), nil
		}
	}
	return nil, jobs.ErrRecurrenceNotFound
}

// ListRecurrences returns all definitions ordered by ID.
func (m *Store) ListRecurrences(_ context.Context) ([]*cron.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Definition, 0, len(m.recurrences))
	for _, d := range m.recurrences {
		result = append(result, d.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.Less(result[k].ID)
	})
	return result, nil
}

// MarkRecurrenceEnqueued records the latest enqueue time.
func (m *Store) MarkRecurrenceEnqueued(_ context.Context, recID id.RecurrenceID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.recurrences[recID.String()]
	if !ok {
		return jobs.ErrRecurrenceNotFound
	}
	t := at
	d.LastEnqueuedAt = &t
	d.UpdatedAt = at
	return nil
}

// DeleteRecurrence removes a definition.
func (m *Store) DeleteRecurrence(_ context.Context, recID id.RecurrenceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recID.String()
	if _, ok := m.recurrences[key]; !ok {
		return jobs.ErrRecurrenceNotFound
	}
	delete(m.recurrences, key)
	return nil
}

// AcquireSchedulerLock takes or renews the scheduler lock.
func (m *Store) AcquireSchedulerLock(_ context.Context, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// If there's already a holder whose TTL hasn't expired and it's not us, fail.
	if m.lockHolder != "" && m.lockUntil.After(now) && m.lockHolder != holder {
		return false, nil
	}

	m.lockHolder = holder
	m.lockUntil = now.Add(ttl)
	return true, nil
}
