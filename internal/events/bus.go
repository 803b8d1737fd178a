// Package events provides a typed status-change bus. The health
// monitor and the circuit breakers publish transitions on it; the
// operational status endpoint subscribes for visibility. Publishing
// never blocks: a saturated subscriber drops events.
package events

import (
	"sync"
	"time"
)

// Kind identifies the source of a status event.
type Kind string

const (
	// KindHealth is published by the health monitor on probe status
	// changes.
	KindHealth Kind = "health"

	// KindBreaker is published by circuit breakers on state
	// transitions.
	KindBreaker Kind = "breaker"

	// KindRateLimit is published by the rate limiter on store
	// degradation and recovery.
	KindRateLimit Kind = "ratelimit"
)

// StatusEvent describes a status change for one backend.
type StatusEvent struct {
	Kind      Kind      `json:"kind"`
	Backend   string    `json:"backend"`
	Previous  string    `json:"previous"`
	Current   string    `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives status events. The channel is closed on
// Unsubscribe.
type Subscriber <-chan StatusEvent

// Bus is a fan-out publisher of status events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan StatusEvent]struct{}
	buffer      int
}

// NewBus creates a bus whose subscriber channels hold up to buffer
// undelivered events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{
		subscribers: make(map[chan StatusEvent]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() Subscriber {
	ch := make(chan StatusEvent, b.buffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		if Subscriber(ch) == sub {
			delete(b.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev StatusEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber is saturated; drop rather than stall
			// the publisher.
		}
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
