package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit defines per-job-type rate limiting and concurrency.
type Limit struct {
	// JobType is the job type the limit applies to.
	JobType string `yaml:"job_type"`

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously in the local worker pool. Zero means no type-specific
	// limit (pool-wide concurrency still applies).
	MaxConcurrency int `yaml:"max_concurrency"`

	// RateLimit is the maximum sustained jobs per second that may be leased
	// for this type. Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int `yaml:"rate_burst"`
}

// typeState tracks runtime state for a single job type.
type typeState struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

// Limiter shapes the capability set a worker pool leases with. A type
// whose concurrency or rate budget is exhausted is left out of the set, so
// its jobs stay eligible for other pools. It is safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewLimiter creates a Limiter with the given limits. Types not listed
// have no limits.
func NewLimiter(limits ...Limit) *Limiter {
	l := &Limiter{types: make(map[string]*typeState, len(limits))}
	for _, lim := range limits {
		l.types[lim.JobType] = newTypeState(lim)
	}
	return l
}

func newTypeState(lim Limit) *typeState {
	ts := &typeState{limit: lim}
	if lim.RateLimit > 0 {
		burst := lim.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(lim.RateLimit), burst)
	}
	return ts
}

// Reserve claims budget for one more job of each of types: a
// concurrency slot for capped types and a rate token for rate-limited
// ones. Types without budget are left out of the reservation. The caller
// leases with Types, then calls Commit with the leased type or Cancel
// when nothing was leased.
func (l *Limiter) Reserve(types []string) *Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	r := &Reservation{l: l, at: now, types: make([]string, 0, len(types))}
	for _, t := range types {
		ts := l.types[t]
		if ts == nil {
			r.types = append(r.types, t)
			continue
		}
		if ts.limit.MaxConcurrency > 0 && ts.active >= ts.limit.MaxConcurrency {
			continue
		}
		var tok *rate.Reservation
		if ts.limiter != nil {
			tok = ts.limiter.ReserveN(now, 1)
			if !tok.OK() || tok.DelayFrom(now) > 0 {
				tok.CancelAt(now)
				continue
			}
		}
		ts.active++
		if r.claims == nil {
			r.claims = make(map[string]*rate.Reservation)
		}
		r.claims[t] = tok
		r.types = append(r.types, t)
	}
	return r
}

// Reservation is budget claimed by Limiter.Reserve for one lease.
type Reservation struct {
	l     *Limiter
	at    time.Time
	types []string
	// claims maps each limited type to its rate token, nil when the type
	// has no rate limit.
	claims map[string]*rate.Reservation
	done   bool
}

// Types returns the job types the reservation covers.
func (r *Reservation) Types() []string { return r.types }

// Commit keeps the claim of jobType and returns all others. The kept
// concurrency slot is freed by Limiter.Release when the job finishes.
func (r *Reservation) Commit(jobType string) { r.finish(jobType) }

// Cancel returns every claim.
func (r *Reservation) Cancel() { r.finish("") }

func (r *Reservation) finish(keep string) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true

	for t, tok := range r.claims {
		if t == keep {
			continue
		}
		// Cancelling at the reservation time hands the token back.
		if tok != nil {
			tok.CancelAt(r.at)
		}
		// Release through the current state so a SetLimit in between
		// keeps the count right.
		if ts := r.l.types[t]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// Release decrements the active job count for the type.
func (l *Limiter) Release(jobType string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetLimit dynamically updates (or creates) a type's limit.
func (l *Limiter) SetLimit(lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.types[lim.JobType]
	ts := newTypeState(lim)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	l.types[lim.JobType] = ts
}

// ActiveCount returns the current number of active jobs for a type.
func (l *Limiter) ActiveCount(jobType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
