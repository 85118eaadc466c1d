package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// leaseScript claims the best ready job. KEYS[1] is the running set and
// KEYS[2:] are ready sets grouped by priority, highest first, ARGV[2]
// keys per group. Within a group the lowest (score, member) wins; the
// first non-empty group ends the search.
var leaseScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local per = tonumber(ARGV[2])
local groups = tonumber(ARGV[3])
local best_key, best_member, best_score
for g = 0, groups - 1 do
  for i = 1, per do
    local key = KEYS[1 + g * per + i]
    local top = redis.call('ZRANGEBYSCORE', key, '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, 1)
    if top[1] then
      local score = tonumber(top[2])
      if not best_member or score < best_score or (score == best_score and top[1] < best_member) then
        best_key, best_member, best_score = key, top[1], score
      end
    end
  end
  if best_member then break end
end
if not best_member then
  return false
end
redis.call('ZREM', best_key, best_member)
local job_id = string.match(best_member, ':(.+)$')
local key = ARGV[7] .. job_id
redis.call('HSET', key, 'status', 'running', 'worker_id', ARGV[4], 'lease_id', ARGV[5],
  'started_at', ARGV[6], 'updated_at', ARGV[6])
redis.call('HINCRBY', key, 'attempts', 1)
redis.call('ZADD', KEYS[1], ARGV[1], job_id)
return redis.call('HGETALL', key)
`)

// EnqueueJob stores the job as a Hash and indexes it.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("jobs/redis: enqueue check exists: %w", err)
		}
		if exists > 0 {
			return jobs.ErrJobAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			pipe.ZAdd(ctx, createdKey, goredis.Z{Score: 0, Member: orderMember(j)})
			reindex(ctx, pipe, nil, j)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, jobs.ErrJobAlreadyExists) {
			return err
		}
		return fmt.Errorf("jobs/redis: enqueue job: %w", err)
	}
	return nil
}

// LeaseJob atomically claims the best eligible job among req.Types.
func (s *Store) LeaseJob(ctx context.Context, req job.LeaseRequest) (*job.Job, error) {
	if len(req.Types) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, 1+len(job.Priorities)*len(req.Types))
	keys = append(keys, runningKey)
	for _, p := range job.Priorities {
		for _, t := range req.Types {
			keys = append(keys, readyKey(t, p))
		}
	}

	res, err := leaseScript.Run(ctx, s.client, keys,
		strconv.FormatInt(req.Now.UnixMicro(), 10),
		len(req.Types),
		len(job.Priorities),
		req.WorkerID.String(),
		req.LeaseID.String(),
		formatTime(req.Now),
		jobKeyPrefix,
	).Slice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs/redis: lease job: %w", err)
	}

	m := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		m[k] = v
	}
	return mapToJob(m)
}

// CompleteJob moves a leased job to Completed.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, leaseID id.LeaseID, result []byte, now time.Time) (*job.Job, error) {
	return s.mutate(ctx, jobID, "complete job", func(j *job.Job) error {
		return j.Complete(leaseID, result, now)
	})
}

// FailJob records a failed attempt on a leased job.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, leaseID id.LeaseID, f job.Failure) (*job.Job, error) {
	return s.mutate(ctx, jobID, "fail job", func(j *job.Job) error {
		return j.Fail(leaseID, f)
	})
}

// CancelJob moves a Pending or Retrying job to Cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	return s.mutate(ctx, jobID, "cancel job", func(j *job.Job) error {
		return j.Cancel(now)
	})
}

// mutate WATCHes the job Hash, applies fn and writes the job and its
// index entries in one MULTI block. A concurrent write to the Hash aborts
// the block and the whole read-apply-write is retried.
func (s *Store) mutate(ctx context.Context, jobID id.JobID, op string, fn func(*job.Job) error) (*job.Job, error) {
	key := jobKey(jobID.String())

	var out *job.Job
	txf := func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("jobs/redis: %s: %w", op, err)
		}
		if len(vals) == 0 {
			return jobs.ErrJobNotFound
		}
		j, err := mapToJob(vals)
		if err != nil {
			return err
		}
		prev := j.Clone()
		if err := fn(j); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			reindex(ctx, pipe, prev, j)
			return nil
		})
		if err != nil {
			return err
		}
		out = j
		return nil
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("jobs/redis: %s: too many concurrent updates", op)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("jobs/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobs.ErrJobNotFound
	}
	return mapToJob(vals)
}

// ListJobs returns jobs matching the filter ordered by created_at, then
// id. Predicates are evaluated client-side over the created index.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	unfiltered := len(f.Statuses) == 0 && len(f.Types) == 0 && f.RecurrenceID.IsNil()

	start, stop := int64(0), int64(-1)
	if unfiltered {
		start = int64(f.Offset)
		if f.Limit > 0 {
			stop = start + int64(f.Limit) - 1
		}
	}

	members, err := s.client.ZRange(ctx, createdKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("jobs/redis: list jobs: %w", err)
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, memberID(m))
	}
	list, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if unfiltered {
		return list, nil
	}

	matched := make([]*job.Job, 0, len(list))
	for _, j := range list {
		if f.Match(j) {
			matched = append(matched, j)
		}
	}
	return f.Page(matched), nil
}

// HasActiveJob reports whether the recurrence has a non-terminal instance.
func (s *Store) HasActiveJob(ctx context.Context, recID id.RecurrenceID) (bool, error) {
	n, err := s.client.SCard(ctx, activeKey(recID.String())).Result()
	if err != nil {
		return false, fmt.Errorf("jobs/redis: has active job: %w", err)
	}
	return n > 0, nil
}

// ListExpiredLeases returns Running jobs started before cutoff, oldest
// first.
func (s *Store) ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, runningKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("jobs/redis: list expired leases: %w", err)
	}

	list, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := list[:0]
	for _, j := range list {
		if j.Status == job.StatusRunning {
			result = append(result, j)
		}
	}
	return result, nil
}

// loadJobs fetches job Hashes in one pipeline, skipping IDs whose Hash is
// gone.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return []*job.Job{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("jobs/redis: load jobs: %w", err)
	}

	list := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, nil
}

// reindex moves the job between the ready, running and recurrence index
// sets to match its new status. prev is nil for a new job.
func reindex(ctx context.Context, pipe goredis.Pipeliner, prev, j *job.Job) {
	jID := j.ID.String()

	if prev != nil {
		switch prev.Status {
		case job.StatusPending, job.StatusRetrying:
			pipe.ZRem(ctx, readyKey(prev.Type, prev.Priority), orderMember(prev))
		case job.StatusRunning:
			pipe.ZRem(ctx, runningKey, jID)
		}
	}

	switch j.Status {
	case job.StatusPending, job.StatusRetrying:
		pipe.ZAdd(ctx, readyKey(j.Type, j.Priority), goredis.Z{
			Score:  float64(j.ScheduledAt.UnixMicro()),
			Member: orderMember(j),
		})
	case job.StatusRunning:
		var started int64
		if j.StartedAt != nil {
			started = j.StartedAt.UnixMicro()
		}
		pipe.ZAdd(ctx, runningKey, goredis.Z{Score: float64(started), Member: jID})
	}

	if !j.RecurrenceID.IsNil() {
		if j.Status.IsActive() {
			pipe.SAdd(ctx, activeKey(j.RecurrenceID.String()), jID)
		} else {
			pipe.SRem(ctx, activeKey(j.RecurrenceID.String()), jID)
		}
	}
}

// orderMember encodes creation time and ID so that lexicographic member
// order matches (created_at, id).
func orderMember(j *job.Job) string {
	return fmt.Sprintf("%020d:%s", j.CreatedAt.UnixNano(), j.ID.String())
}

func memberID(member string) string {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return member[i+1:]
		}
	}
	return member
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs/redis: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalID(i id.ID) string {
	if i.IsNil() {
		return ""
	}
	return i.String()
}

func jobToMap(j *job.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":            j.ID.String(),
		"job_type":      j.Type,
		"payload":       string(j.Payload),
		"priority":      strconv.Itoa(int(j.Priority)),
		"status":        string(j.Status),
		"attempts":      strconv.Itoa(j.Attempts),
		"max_attempts":  strconv.Itoa(j.MaxAttempts),
		"scheduled_at":  formatTime(j.ScheduledAt),
		"started_at":    formatOptionalTime(j.StartedAt),
		"completed_at":  formatOptionalTime(j.CompletedAt),
		"last_error":    j.LastError,
		"result":        string(j.Result),
		"recurrence_id": optionalID(j.RecurrenceID),
		"worker_id":     optionalID(j.WorkerID),
		"lease_id":      optionalID(j.LeaseID),
		"created_at":    formatTime(j.CreatedAt),
		"updated_at":    formatTime(j.UpdatedAt),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobs/redis: parse job id: %w", err)
	}

	j := &job.Job{
		ID:        jID,
		Type:      m["job_type"],
		Status:    job.Status(m["status"]),
		LastError: m["last_error"],
	}
	if v := m["payload"]; v != "" {
		j.Payload = []byte(v)
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}

	priority, err := strconv.Atoi(m["priority"])
	if err != nil {
		return nil, fmt.Errorf("jobs/redis: parse priority: %w", err)
	}
	j.Priority = job.Priority(priority)
	if j.Attempts, err = strconv.Atoi(m["attempts"]); err != nil {
		return nil, fmt.Errorf("jobs/redis: parse attempts: %w", err)
	}
	if j.MaxAttempts, err = strconv.Atoi(m["max_attempts"]); err != nil {
		return nil, fmt.Errorf("jobs/redis: parse max_attempts: %w", err)
	}

	if j.ScheduledAt, err = parseTime(m["scheduled_at"]); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseOptionalTime(m["started_at"]); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseOptionalTime(m["completed_at"]); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(m["created_at"]); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(m["updated_at"]); err != nil {
		return nil, err
	}

	if j.RecurrenceID, err = id.ParseOptional(m["recurrence_id"], id.PrefixRecurrence); err != nil {
		return nil, fmt.Errorf("jobs/redis: %w", err)
	}
	if j.WorkerID, err = id.ParseOptional(m["worker_id"], id.PrefixWorker); err != nil {
		return nil, fmt.Errorf("jobs/redis: %w", err)
	}
	if j.LeaseID, err = id.ParseOptional(m["lease_id"], id.PrefixLease); err != nil {
		return nil, fmt.Errorf("jobs/redis: %w", err)
	}
	return j, nil
}
