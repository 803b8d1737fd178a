package gateway

import (
	"sync"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/events"
)

// TransitionLog subscribes to the status bus and retains the most
// recent event per backend and kind for the status endpoint.
type TransitionLog struct {
	bus *events.Bus
	sub events.Subscriber

	mu     sync.RWMutex
	latest map[string]events.StatusEvent

	done chan struct{}
}

// NewTransitionLog starts consuming the bus. Call Stop when done.
func NewTransitionLog(bus *events.Bus) *TransitionLog {
	tl := &TransitionLog{
		bus:    bus,
		sub:    bus.Subscribe(),
		latest: make(map[string]events.StatusEvent),
		done:   make(chan struct{}),
	}
	go tl.consume()
	return tl
}

func (tl *TransitionLog) consume() {
	defer close(tl.done)

	for ev := range tl.sub {
		key := ev.Backend + "|" + string(ev.Kind)
		tl.mu.Lock()
		tl.latest[key] = ev
		tl.mu.Unlock()
	}
}

// Recent returns the retained events.
func (tl *TransitionLog) Recent() []events.StatusEvent {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	out := make([]events.StatusEvent, 0, len(tl.latest))
	for _, ev := range tl.latest {
		out = append(out, ev)
	}
	return out
}

// RecentFor returns the retained events for one backend.
func (tl *TransitionLog) RecentFor(backend string) []events.StatusEvent {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	out := make([]events.StatusEvent, 0, 2)
	for _, ev := range tl.latest {
		if ev.Backend == backend {
			out = append(out, ev)
		}
	}
	return out
}

// Stop unsubscribes and waits for the consumer to drain.
func (tl *TransitionLog) Stop() {
	tl.bus.Unsubscribe(tl.sub)
	<-tl.done
}
