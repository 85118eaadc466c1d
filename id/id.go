// Package id defines TypeID-based identifiers for jobs, recurrences,
// leases and workers.
//
// IDs are K-sortable (UUIDv7-based), globally unique and URL-safe in the
// format "prefix_suffix". Because the suffix sorts by creation time, a
// lexicographic comparison of two IDs with the same prefix follows their
// creation order down to the millisecond.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefixes of the identified entities.
const (
	PrefixJob        Prefix = "job"
	PrefixRecurrence Prefix = "rec"
	PrefixLease      Prefix = "lease"
	PrefixWorker     Prefix = "wkr"
)

// ID is a prefixed TypeID. The zero value is Nil and renders as "".
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the absent ID. Stores persist it as NULL or "".
var Nil ID

// JobID identifies a job.
type JobID = ID

// RecurrenceID identifies a recurrence definition.
type RecurrenceID = ID

// LeaseID is the token stamped on a job each time it is leased.
type LeaseID = ID

// WorkerID identifies a worker pool instance; it is also the holder
// name of the scheduler lock.
type WorkerID = ID

// New generates an ID. An invalid prefix is a programming error and
// panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate with prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() JobID               { return New(PrefixJob) }
func NewRecurrenceID() RecurrenceID { return New(PrefixRecurrence) }
func NewLeaseID() LeaseID           { return New(PrefixLease) }
func NewWorkerID() WorkerID         { return New(PrefixWorker) }

// Parse parses any TypeID string, e.g. "job_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix parses s and rejects IDs of another entity type.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, want)
	}
	return parsed, nil
}

// ParseOptional is ParseWithPrefix with "" mapping to Nil. Stores use it
// for nullable columns such as recurrence_id and worker_id.
func ParseOptional(s string, want Prefix) (ID, error) {
	if s == "" {
		return Nil, nil
	}
	return ParseWithPrefix(s, want)
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

func ParseJobID(s string) (JobID, error)               { return ParseWithPrefix(s, PrefixJob) }
func ParseRecurrenceID(s string) (RecurrenceID, error) { return ParseWithPrefix(s, PrefixRecurrence) }
func ParseLeaseID(s string) (LeaseID, error)           { return ParseWithPrefix(s, PrefixLease) }
func ParseWorkerID(s string) (WorkerID, error)         { return ParseWithPrefix(s, PrefixWorker) }

// ──────────────────────────────────────────────────
// Methods
// ──────────────────────────────────────────────────

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

// Less orders IDs by their string form, which for a shared prefix is
// creation order. Stores use it as the final tie-breaker of the lease
// ordering.
func (i ID) Less(other ID) bool { return i.String() < other.String() }

// MarshalText implements encoding.TextMarshaler; Nil encodes as "".
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler; "" decodes as Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.String(), nil
}

// Scan implements sql.Scanner for TEXT columns. NULL and "" scan as Nil.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
