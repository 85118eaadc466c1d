package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// maxUpdateRetries bounds optimistic update retries on version conflicts.
const maxUpdateRetries = 16

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j, 0))
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobs/mongo: enqueue job: %w", err)
	}
	return nil
}

// LeaseJob atomically claims the best eligible job among req.Types using
// FindOneAndUpdate, so two callers never receive the same document.
func (s *Store) LeaseJob(ctx context.Context, req job.LeaseRequest) (*job.Job, error) {
	if len(req.Types) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"status":       bson.M{"$in": []string{string(job.StatusPending), string(job.StatusRetrying)}},
		"job_type":     bson.M{"$in": req.Types},
		"scheduled_at": bson.M{"$lte": req.Now},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     string(job.StatusRunning),
			"worker_id":  req.WorkerID.String(),
			"lease_id":   req.LeaseID.String(),
			"started_at": req.Now,
			"updated_at": req.Now,
		},
		"$inc": bson.M{"attempts": 1, "version": 1},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "priority", Value: -1},
			{Key: "scheduled_at", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs/mongo: lease job: %w", err)
	}

	j, err := fromJobModel(&m)
	if err != nil {
		return nil, fmt.Errorf("jobs/mongo: lease convert: %w", err)
	}
	return j, nil
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

// mutate reads the job, applies fn and replaces the document only if its
// version is unchanged. A lost race re-reads and reapplies fn.
func (s *Store) mutate(ctx context.Context, jobID id.JobID, op string, fn func(*job.Job) error) (*job.Job, error) {
	col := s.db.Collection(colJobs)
	key := jobID.String()

	for range maxUpdateRetries {
		var m jobModel
		if err := col.FindOne(ctx, bson.M{"_id": key}).Decode(&m); err != nil {
			if isNoDocuments(err) {
				return nil, jobs.ErrJobNotFound
			}
			return nil, fmt.Errorf("jobs/mongo: %s: %w", op, err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return nil, fmt.Errorf("jobs/mongo: %s: %w", op, err)
		}
		if err := fn(j); err != nil {
			return nil, err
		}

		res, err := col.ReplaceOne(ctx,
			bson.M{"_id": key, "version": m.Version},
			toJobModel(j, m.Version+1),
		)
		if err != nil {
			return nil, fmt.Errorf("jobs/mongo: %s: %w", op, err)
		}
		if res.MatchedCount == 1 {
			return j, nil
		}
	}
	return nil, fmt.Errorf("jobs/mongo: %s: too many concurrent updates", op)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobs/mongo: get job: %w", err)
	}
	j, err := fromJobModel(&m)
	if err != nil {
		return nil, fmt.Errorf("jobs/mongo: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching the filter ordered by created_at, then id.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": job.StatusStrings(f.Statuses)}
	}
	if len(f.Types) > 0 {
		filter["job_type"] = bson.M{"$in": f.Types}
	}
	if !f.RecurrenceID.IsNil() {
		filter["recurrence_id"] = f.RecurrenceID.String()
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	return s.findJobs(ctx, "list jobs", filter, opts)
}

// HasActiveJob reports whether the recurrence has a non-terminal instance.
func (s *Store) HasActiveJob(ctx context.Context, recID id.RecurrenceID) (bool, error) {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx,
		bson.M{
			"recurrence_id": recID.String(),
			"status":        bson.M{"$in": job.StatusStrings(job.ActiveStatuses)},
		},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("jobs/mongo: has active job: %w", err)
	}
	return n > 0, nil
}

// ListExpiredLeases returns Running jobs started before cutoff, oldest
// first.
func (s *Store) ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"status":     string(job.StatusRunning),
		"started_at": bson.M{"$lt": cutoff},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: 1}}).
		SetLimit(int64(limit))

	return s.findJobs(ctx, "list expired leases", filter, opts)
}

func (s *Store) findJobs(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("jobs/mongo: %s: %w", op, err)
	}

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("jobs/mongo: %s decode: %w", op, err)
	}

	result := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("jobs/mongo: %s convert: %w", op, err)
		}
		result = append(result, j)
	}
	return result, nil
}
