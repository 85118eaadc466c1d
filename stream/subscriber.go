package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscriber receives envelopes for the topics it joined. Delivery uses
// credits: each delivered envelope consumes one and the broker skips a
// subscriber that has none left. Envelopes are dropped, never queued,
// when the subscriber is out of credits or its buffer is full.
type Subscriber struct {
	id      string
	ch      chan *Envelope
	credits atomic.Int64
	dropped atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}
	filter func(*Envelope) bool

	closeMu sync.RWMutex
	closed  bool
}

// NewSubscriber creates a subscriber with a buffer of bufferSize envelopes
// and initialCredits credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Envelope, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the delivery channel. It is closed by Close.
func (s *Subscriber) C() <-chan *Envelope { return s.ch }

// Next blocks for the next envelope. It returns false when ctx is done or
// the subscriber is closed.
func (s *Subscriber) Next(ctx context.Context) (*Envelope, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case env, ok := <-s.ch:
		return env, ok
	}
}

// AddCredits grants n more deliveries.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining credits.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns how many envelopes were not delivered.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter installs a predicate; envelopes it rejects are skipped
// without consuming credits.
func (s *Subscriber) SetFilter(fn func(*Envelope) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns the joined topics in no particular order.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send delivers env without blocking and reports whether it did.
func (s *Subscriber) send(env *Envelope) bool {
	s.mu.RLock()
	filter := s.filter
	s.mu.RUnlock()
	if filter != nil && !filter(env) {
		return false
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return false
	}

	for {
		current := s.credits.Load()
		if current <= 0 {
			s.dropped.Add(1)
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}

	select {
	case s.ch <- env:
		return true
	default:
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the delivery channel. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
