// Package events is a process-wide publish/subscribe fabric decoupling the
// sync worker from live client connections. Delivery is fire-and-forget to
// the subscribers present at publish time; there is no durability, which is
// fine for a best-effort live view.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Topics for sync job outcomes.
const (
	TopicCommitJobCompleted = "commit.job.completed"
	TopicCommitJobFailed    = "commit.job.failed"
)

// Message is one delivered event.
type Message struct {
	Topic   string
	Payload json.RawMessage
}

const subscriptionBuffer = 16

// Bus is an in-process event bus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Publish marshals v once and delivers it to every current subscriber of the
// topic. Publish never blocks: a subscriber whose buffer is full misses the
// message.
func (b *Bus) Publish(topic string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("Failed to marshal event payload", "topic", topic, "error", err)
		return
	}
	msg := Message{Topic: topic, Payload: raw}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("Dropping event for slow subscriber", "topic", topic)
		}
	}
}

// Subscribe registers interest in the given topics. The returned subscription
// receives messages until Close is called.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		bus:    b,
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Message, subscriptionBuffer),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Subscription is a live stream of matching events.
type Subscription struct {
	bus    *Bus
	topics map[string]struct{}
	ch     chan Message
	once   sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan Message { return s.ch }

// Close detaches the subscription. It is idempotent and safe to call while a
// publish is in flight: the channel is only closed once no publisher can hold
// a reference to it.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		// Publishers send under the bus read lock; once unregistered under the
		// write lock, no send can race this close.
		close(s.ch)
	})
}

func (s *Subscription) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}
