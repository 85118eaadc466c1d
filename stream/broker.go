package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MickLesk/syncspace-sub002/event"
	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
)

// Compile-time interface checks.
var (
	_ event.Sink          = (*Broker)(nil)
	_ ext.Extension       = (*Broker)(nil)
	_ ext.RecurrenceFired = (*Broker)(nil)
	_ ext.Shutdown        = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credit grant.
const DefaultCredits int64 = 1000

// Broker fans job events out to subscribers by topic. Use it as an
// event.Sink (usually behind an event.Bus) and register it as an
// extension so recurrence fires and shutdown reach it as well.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subMu       sync.RWMutex
	subscribers map[string]*Subscriber

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the credits new subscribers start with.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		subscribers:    make(map[string]*Subscriber),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on topics. An existing subscriber with
// the same ID is closed and replaced.
func (b *Broker) Subscribe(subscriberID string, topics ...string) (*Subscriber, error) {
	for _, topic := range topics {
		if err := ValidateTopic(topic); err != nil {
			return nil, err
		}
	}

	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)

	b.subMu.Lock()
	old := b.subscribers[subscriberID]
	b.subscribers[subscriberID] = sub
	b.subMu.Unlock()

	if old != nil {
		b.topics.UnsubscribeAll(subscriberID)
		old.Close()
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub, nil
}

// SubscribeTo adds an existing subscriber to more topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) error {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return fmt.Errorf("stream: unknown subscriber %q", subscriberID)
	}
	for _, topic := range topics {
		if err := ValidateTopic(topic); err != nil {
			return err
		}
		b.topics.Subscribe(topic, sub)
	}
	return nil
}

// Unsubscribe removes a subscriber from topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from every topic and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)

	b.subMu.Lock()
	sub, ok := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.subMu.Unlock()

	if ok {
		sub.Close()
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	sub, ok := b.subscribers[subscriberID]
	return sub, ok
}

// BrokerStats is a snapshot of broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns current counters.
func (b *Broker) Stats() BrokerStats {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	var dropped int64
	for _, sub := range b.subscribers {
		dropped += sub.Dropped()
	}
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: len(b.subscribers),
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// Publish implements event.Sink. The envelope goes to the job's own
// topic, its type topic, its recurrence topic if any, and the jobs and
// firehose topics.
func (b *Broker) Publish(_ context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}

	topics := []string{TopicFirehose, TopicJobs, JobTopic(e.JobID), TypeTopic(e.JobType)}
	if e.RecurrenceID != "" {
		topics = append(topics, RecurrenceTopic(e.RecurrenceID))
	}

	b.broadcast(topics, &Envelope{
		Type:      jobEventType(e.Status),
		Timestamp: e.Timestamp,
		Topic:     JobTopic(e.JobID),
		Data:      data,
	})
	return nil
}

// OnRecurrenceFired implements ext.RecurrenceFired.
func (b *Broker) OnRecurrenceFired(_ context.Context, recID id.RecurrenceID, jobID id.JobID) error {
	data, err := json.Marshal(RecurrenceEventData{
		RecurrenceID: recID.String(),
		JobID:        jobID.String(),
	})
	if err != nil {
		return fmt.Errorf("stream: marshal recurrence event: %w", err)
	}

	topic := RecurrenceTopic(recID.String())
	b.broadcast([]string{TopicFirehose, TopicRecurrences, topic}, &Envelope{
		Type:      EventRecurrenceFired,
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Data:      data,
	})
	return nil
}

// OnShutdown implements ext.Shutdown. It closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subMu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.subMu.Unlock()

	for subID, sub := range subs {
		b.topics.UnsubscribeAll(subID)
		sub.Close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}

func (b *Broker) broadcast(topics []string, env *Envelope) {
	delivered := b.topics.Broadcast(topics, env)
	b.totalPublished.Add(int64(delivered))
}
