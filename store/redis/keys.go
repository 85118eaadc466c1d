package redis

import (
	"fmt"

	"github.com/MickLesk/syncspace-sub002/job"
)

// Redis key naming conventions. All keys are prefixed with "jobs:" to
// avoid collisions.

const keyPrefix = "jobs:"

// ── Job keys ──

// jobKeyPrefix is prepended to a job ID to form its Hash key.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job Hash: jobs:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// readyKey returns the Sorted Set of leasable jobs for one type and
// priority: jobs:ready:{type}:{priority}
func readyKey(jobType string, p job.Priority) string {
	return fmt.Sprintf("%sready:%s:%d", keyPrefix, jobType, int(p))
}

// runningKey is the Sorted Set of Running jobs scored by start time.
const runningKey = keyPrefix + "running"

// createdKey is the Sorted Set of all jobs. Every member has score 0 so
// the set orders lexicographically by "{created}:{id}".
const createdKey = keyPrefix + "created"

// activeKey returns the Set of non-terminal job IDs for a recurrence.
func activeKey(recID string) string { return keyPrefix + "active:" + recID }

// ── Recurrence keys ──

// recurrenceKey returns the key for a recurrence JSON document.
func recurrenceKey(id string) string { return keyPrefix + "recurrence:" + id }

// recurrenceIDsKey is the Set tracking all recurrence IDs.
const recurrenceIDsKey = keyPrefix + "recurrence_ids"

// recurrenceNamesKey maps recurrence names to IDs for uniqueness.
const recurrenceNamesKey = keyPrefix + "recurrence_names"

// schedulerLockKey holds the scheduler lock holder with a TTL.
const schedulerLockKey = keyPrefix + "scheduler_lock"
