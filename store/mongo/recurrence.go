package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/id"
)

// SaveRecurrence persists a new definition. The unique name index turns
// a name conflict into ErrDuplicateRecurrence.
func (s *Store) SaveRecurrence(ctx context.Context, d *cron.Definition) error {
	_, err := s.db.Collection(colRecurrences).InsertOne(ctx, toRecurrenceModel(d))
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrDuplicateRecurrence
		}
		return fmt.Errorf("jobs/mongo: save recurrence: %w", err)
	}
	return nil
}

// UpdateRecurrence replaces the mutable fields of a definition.
func (s *Store) UpdateRecurrence(ctx context.Context, d *cron.Definition) error {
	set := bson.M{
		"job_type":     d.JobType,
		"schedule":     d.Schedule,
		"priority":     int(d.Priority),
		"max_attempts": d.MaxAttempts,
		"enabled":      d.Enabled,
		"updated_at":   d.UpdatedAt,
		"source":       d.Source,
	}
	update := bson.M{"$set": set}
	if len(d.Payload) > 0 {
		set["payload"] = d.Payload
	} else {
		update["$unset"] = bson.M{"payload": ""}
	}
	return s.updateRecurrence(ctx, d.ID, "update recurrence", update)
}

// MarkRecurrenceEnqueued records the latest enqueue time.
func (s *Store) MarkRecurrenceEnqueued(ctx context.Context, recID id.RecurrenceID, at time.Time) error {
	return s.updateRecurrence(ctx, recID, "mark recurrence enqueued", bson.M{
		"$set": bson.M{"last_enqueued_at": at, "updated_at": at},
	})
}

func (s *Store) updateRecurrence(ctx context.Context, recID id.RecurrenceID, op string, update bson.M) error {
	res, err := s.db.Collection(colRecurrences).UpdateOne(ctx, bson.M{"_id": recID.String()}, update)
	if err != nil {
		return fmt.Errorf("jobs/mongo: %s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return jobs.ErrRecurrenceNotFound
	}
	return nil
}

// GetRecurrence retrieves a definition by ID.
func (s *Store) GetRecurrence(ctx context.Context, recID id.RecurrenceID) (*cron.Definition, error) {
	return s.findRecurrence(ctx, bson.M{"_id": recID.String()})
}

// GetRecurrenceByName retrieves a definition by name.
func (s *Store) GetRecurrenceByName(ctx context.Context, name string) (*cron.Definition, error) {
	return s.findRecurrence(ctx, bson.M{"name": name})
}

func (s *Store) findRecurrence(ctx context.Context, filter bson.M) (*cron.Definition, error) {
	var m recurrenceModel
	if err := s.db.Collection(colRecurrences).FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, jobs.ErrRecurrenceNotFound
		}
		return nil, fmt.Errorf("jobs/mongo: get recurrence: %w", err)
	}
	d, err := fromRecurrenceModel(&m)
	if err != nil {
		return nil, fmt.Errorf("jobs/mongo: get recurrence: %w", err)
	}
	return d, nil
}

// ListRecurrences returns all definitions ordered by ID.
func (s *Store) ListRecurrences(ctx context.Context) ([]*cron.Definition, error) {
	cursor, err := s.db.Collection(colRecurrences).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/mongo: list recurrences: %w", err)
	}

	var models []recurrenceModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("jobs/mongo: list recurrences decode: %w", err)
	}

	result := make([]*cron.Definition, 0, len(models))
	for i := range models {
		d, err := fromRecurrenceModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("jobs/mongo: list recurrences convert: %w", err)
		}
		result = append(result, d)
	}
	return result, nil
}

// DeleteRecurrence removes a definition.
func (s *Store) DeleteRecurrence(ctx context.Context, recID id.RecurrenceID) error {
	res, err := s.db.Collection(colRecurrences).DeleteOne(ctx, bson.M{"_id": recID.String()})
	if err != nil {
		return fmt.Errorf("jobs/mongo: delete recurrence: %w", err)
	}
	if res.DeletedCount == 0 {
		return jobs.ErrRecurrenceNotFound
	}
	return nil
}

// AcquireSchedulerLock takes or renews the scheduler lock. The upsert
// only matches a lock that is ours or expired; otherwise it tries to
// insert a second document with the same _id and fails with a duplicate
// key error, which means another holder owns the lock.
func (s *Store) AcquireSchedulerLock(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"_id": "scheduler",
		"$or": bson.A{
			bson.M{"holder": holder},
			bson.M{"locked_until": bson.M{"$lt": now}},
		},
	}
	update := bson.M{"$set": bson.M{"holder": holder, "locked_until": now.Add(ttl)}}

	_, err := s.db.Collection(colLocks).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("jobs/mongo: acquire scheduler lock: %w", err)
	}
	return true, nil
}
