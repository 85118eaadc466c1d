package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names:
//
//	job:<jobID>          one job
//	type:<jobType>       every job of a type
//	recurrence:<recID>   jobs spawned by one recurrence, plus its fires
//	jobs                 every job event
//	recurrences          every recurrence fire
//	firehose             everything
const (
	TopicJobs        = "jobs"
	TopicRecurrences = "recurrences"
	TopicFirehose    = "firehose"
)

// JobTopic returns the topic of a single job.
func JobTopic(jobID string) string { return "job:" + jobID }

// TypeTopic returns the topic of a job type.
func TypeTopic(jobType string) string { return "type:" + jobType }

// RecurrenceTopic returns the topic of a recurrence definition.
func RecurrenceTopic(recID string) string { return "recurrence:" + recID }

// TopicRegistry maps topics to subscriber sets. It is safe for concurrent
// use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from topic and drops empty topics.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.unsubscribeLocked(topic, subscriberID)
}

// UnsubscribeAll removes a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.topics {
		tr.unsubscribeLocked(topic, subscriberID)
	}
}

func (tr *TopicRegistry) unsubscribeLocked(topic, subscriberID string) {
	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// Broadcast delivers env once to every subscriber of any of topics and
// returns the number of deliveries.
func (tr *TopicRegistry) Broadcast(topics []string, env *Envelope) int {
	tr.mu.RLock()
	targets := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			targets[subID] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.send(env) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of topics with subscribers.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// ValidateTopic rejects topic names subscribers cannot receive anything
// on.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicRecurrences, TopicFirehose:
		return nil
	}

	kind, key, ok := strings.Cut(topic, ":")
	if !ok || kind == "" || key == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "job", "type", "recurrence":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic kind %q", kind)
	}
}
