// Package backoff computes the delay between a failed attempt and the
// next one. Strategies hold no mutable state and are safe for concurrent
// use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the retry delay after failed attempt n, counted from 1.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval after every attempt.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant { return &Constant{Interval: interval} }

// Delay returns the interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Step times the attempt number, capped at Max.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

// NewLinear creates a linear strategy. A zero max means no cap.
func NewLinear(step, maxDelay time.Duration) *Linear { return &Linear{Step: step, Max: maxDelay} }

// Delay returns min(Step*attempt, Max).
func (l *Linear) Delay(attempt int) time.Duration {
	return capped(l.Step*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential doubles the delay with each attempt:
// min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential strategy. A zero max means no
// cap beyond the largest time.Duration.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns min(Base * 2^(attempt-1), Max).
func (e *Exponential) Delay(attempt int) time.Duration { return doubling(e.Base, e.Max, attempt) }

// ExponentialWithJitter is Exponential spread by a random factor in
// [1-Jitter, 1+Jitter] so that jobs failing together do not retry
// together. The engine's default.
type ExponentialWithJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// rand returns a value in [0, 1). Tests replace it.
	rand func() float64
}

// NewExponentialWithJitter creates a jittered exponential strategy. The
// jitter fraction is clamped to [0, 1].
func NewExponentialWithJitter(base, maxDelay time.Duration, jitter float64) *ExponentialWithJitter {
	return &ExponentialWithJitter{
		Base:   base,
		Max:    maxDelay,
		Jitter: min(max(jitter, 0), 1),
		rand:   rand.Float64,
	}
}

// Delay returns d*(1+u*Jitter) with d the exponential delay and u uniform
// in [-1, 1). The result may exceed Max by the jitter fraction.
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	d := doubling(e.Base, e.Max, attempt)
	if e.Jitter == 0 || d == 0 {
		return d
	}
	draw := rand.Float64
	if e.rand != nil {
		draw = e.rand
	}
	u := draw()*2 - 1 //nolint:gosec // jitter does not need crypto randomness
	return max(time.Duration(float64(d)*(1+u*e.Jitter)), 0)
}

// DefaultStrategy is ExponentialWithJitter(1s, 10m, 0.2).
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(time.Second, 10*time.Minute, 0.2)
}

// doubling computes base * 2^(attempt-1) by repeated doubling so it
// saturates instead of overflowing.
func doubling(base, limit time.Duration, attempt int) time.Duration {
	if limit <= 0 {
		limit = maxDuration
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	return capped(d, limit)
}

const maxDuration = time.Duration(1<<63 - 1)

func capped(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
