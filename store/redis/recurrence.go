package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/id"
)

// lockScript takes the scheduler lock if free, or extends it when
// ARGV[1] already holds it.
var lockScript = goredis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// SaveRecurrence persists a new definition. The name index is claimed
// with HSETNX first so two savers of one name cannot both succeed.
func (s *Store) SaveRecurrence(ctx context.Context, d *cron.Definition) error {
	rID := d.ID.String()

	exists, err := s.client.Exists(ctx, recurrenceKey(rID)).Result()
	if err != nil {
		return fmt.Errorf("jobs/redis: save recurrence check exists: %w", err)
	}
	if exists > 0 {
		return jobs.ErrDuplicateRecurrence
	}

	ok, err := s.client.HSetNX(ctx, recurrenceNamesKey, d.Name, rID).Result()
	if err != nil {
		return fmt.Errorf("jobs/redis: save recurrence name: %w", err)
	}
	if !ok {
		return jobs.ErrDuplicateRecurrence
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("jobs/redis: marshal recurrence: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recurrenceKey(rID), data, 0)
	pipe.SAdd(ctx, recurrenceIDsKey, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobs/redis: save recurrence: %w", err)
	}
	return nil
}

// UpdateRecurrence replaces the mutable fields of a definition.
func (s *Store) UpdateRecurrence(ctx context.Context, d *cron.Definition) error {
	return s.updateRecurrence(ctx, d.ID, "update recurrence", func(existing *cron.Definition) {
		existing.JobType = d.JobType
		existing.Payload = append([]byte(nil), d.Payload...)
		existing.Schedule = d.Schedule
		existing.Priority = d.Priority
		existing.MaxAttempts = d.MaxAttempts
		existing.Enabled = d.Enabled
		existing.Source = d.Source
		existing.UpdatedAt = d.UpdatedAt
	})
}

// MarkRecurrenceEnqueued records the latest enqueue time.
func (s *Store) MarkRecurrenceEnqueued(ctx context.Context, recID id.RecurrenceID, at time.Time) error {
	return s.updateRecurrence(ctx, recID, "mark recurrence enqueued", func(existing *cron.Definition) {
		t := at
		existing.LastEnqueuedAt = &t
		existing.UpdatedAt = at
	})
}

func (s *Store) updateRecurrence(ctx context.Context, recID id.RecurrenceID, op string, apply func(*cron.Definition)) error {
	key := recurrenceKey(recID.String())

	txf := func(tx *goredis.Tx) error {
		d, err := getRecurrence(ctx, tx, key)
		if err != nil {
			return err
		}
		apply(d)
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("jobs/redis: marshal recurrence: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, jobs.ErrRecurrenceNotFound) {
			return fmt.Errorf("jobs/redis: %s: %w", op, err)
		}
		return err
	}
	return fmt.Errorf("jobs/redis: %s: too many concurrent updates", op)
}

// GetRecurrence retrieves a definition by ID.
func (s *Store) GetRecurrence(ctx context.Context, recID id.RecurrenceID) (*cron.Definition, error) {
	return getRecurrence(ctx, s.client, recurrenceKey(recID.String()))
}

// GetRecurrenceByName retrieves a definition by name.
func (s *Store) GetRecurrenceByName(ctx context.Context, name string) (*cron.Definition, error) {
	rID, err := s.client.HGet(ctx, recurrenceNamesKey, name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, jobs.ErrRecurrenceNotFound
		}
		return nil, fmt.Errorf("jobs/redis: get recurrence by name: %w", err)
	}
	return getRecurrence(ctx, s.client, recurrenceKey(rID))
}

// ListRecurrences returns all definitions ordered by ID.
func (s *Store) ListRecurrences(ctx context.Context) ([]*cron.Definition, error) {
	ids, err := s.client.SMembers(ctx, recurrenceIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobs/redis: list recurrences: %w", err)
	}
	sort.Strings(ids)

	result := make([]*cron.Definition, 0, len(ids))
	for _, rID := range ids {
		d, err := getRecurrence(ctx, s.client, recurrenceKey(rID))
		if errors.Is(err, jobs.ErrRecurrenceNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// DeleteRecurrence removes a definition and its name index entry.
func (s *Store) DeleteRecurrence(ctx context.Context, recID id.RecurrenceID) error {
	d, err := s.GetRecurrence(ctx, recID)
	if err != nil {
		return err
	}

	rID := recID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recurrenceKey(rID))
	pipe.SRem(ctx, recurrenceIDsKey, rID)
	pipe.HDel(ctx, recurrenceNamesKey, d.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobs/redis: delete recurrence: %w", err)
	}
	return nil
}

// AcquireSchedulerLock takes or renews the scheduler lock.
func (s *Store) AcquireSchedulerLock(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	n, err := lockScript.Run(ctx, s.client, []string{schedulerLockKey}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("jobs/redis: acquire scheduler lock: %w", err)
	}
	return n == 1, nil
}

// getter is satisfied by clients and by *goredis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func getRecurrence(ctx context.Context, c getter, key string) (*cron.Definition, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, jobs.ErrRecurrenceNotFound
		}
		return nil, fmt.Errorf("jobs/redis: get recurrence: %w", err)
	}
	var d cron.Definition
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("jobs/redis: unmarshal recurrence: %w", err)
	}
	return &d, nil
}
