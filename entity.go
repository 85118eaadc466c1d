package jobs

import "time"

// Entity carries the audit timestamps shared by persisted records: jobs
// and recurrence definitions. Stores stamp both in UTC.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
