// Package bus provides non-blocking, topic-addressed event distribution
// between the appliance services.
//
// Core philosophy: "Drop events, never block. Liveness > Completeness."
//
// Every event on the bus is a current-state signal (fatigue level, voice
// command, heartbeat), not a transaction log entry. A publisher therefore
// never blocks on a slow subscriber: each subscriber owns a bounded queue
// and, on overflow, the oldest undelivered event is discarded so the most
// recent signal always gets through.
//
// Delivery guarantees:
//   - at-most-once, no replay (a late subscriber misses earlier events)
//   - per-producer publication order is preserved per subscriber
//   - no ordering guarantee across producers
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed          = errors.New("bus: bus is closed")
	ErrSubscriberExists   = errors.New("bus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("bus: subscriber not found")
	ErrNoTopics           = errors.New("bus: at least one topic required")
)

// Event is a single message on the bus.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// SubscriberStats tracks delivery metrics for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	TotalPublished uint64
	Subscribers    map[string]SubscriberStats
}

type subscriber struct {
	id     string
	topics map[string]struct{}
	ch     chan Event
	stats  *SubscriberStats
}

// Bus distributes events from N producers to M subscribers by topic.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	totalPublished uint64
	closed         bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a subscriber for the given topics and returns its
// receive channel. The channel holds at most buffer undelivered events;
// older events are evicted on overflow. The channel is closed by
// Unsubscribe or Close.
func (b *Bus) Subscribe(id string, buffer int, topics ...string) (<-chan Event, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	topicSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		topicSet[t] = struct{}{}
	}

	sub := &subscriber{
		id:     id,
		topics: topicSet,
		ch:     make(chan Event, buffer),
		stats:  &SubscriberStats{},
	}
	b.subscribers[id] = sub
	return sub.ch, nil
}

// Publish delivers the event to every subscriber of its topic. It never
// blocks: if a subscriber's queue is full, the oldest queued event is
// dropped to make room for the new one.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.totalPublished, 1)

	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	for _, sub := range b.subscribers {
		if _, ok := sub.topics[topic]; !ok {
			continue
		}
		sub.deliver(ev)
	}
}

// deliver performs a drop-oldest send. The eviction read may race with the
// subscriber's own receive; either way a slot opens and the second send
// attempt almost always succeeds. If the subscriber refilled the queue in
// between, the new event is counted dropped instead.
func (s *subscriber) deliver(ev Event) {
	select {
	case s.ch <- ev:
		atomic.AddUint64(&s.stats.Sent, 1)
		return
	default:
	}

	select {
	case <-s.ch:
		atomic.AddUint64(&s.stats.Dropped, 1)
	default:
	}

	select {
	case s.ch <- ev:
		atomic.AddUint64(&s.stats.Sent, 1)
	default:
		atomic.AddUint64(&s.stats.Dropped, 1)
	}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	close(sub.ch)
	return nil
}

// Stats returns a snapshot of delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		TotalPublished: atomic.LoadUint64(&b.totalPublished),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		st.Subscribers[id] = SubscriberStats{
			Sent:    atomic.LoadUint64(&sub.stats.Sent),
			Dropped: atomic.LoadUint64(&sub.stats.Dropped),
		}
	}
	return st
}

// Close shuts down the bus and closes all subscriber channels. Publishing
// after Close is a no-op. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
