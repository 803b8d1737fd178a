package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls pass
	// through.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are rejected
	// without any network attempt.
	StateOpen

	// StateHalfOpen indicates a single probe call is allowed through
	// to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// bucket counts outcomes for one fixed time slice of the window.
type bucket struct {
	start     time.Time
	successes int64
	failures  int64
}

// Breaker is a circuit breaker for one backend. All state is guarded by
// a single mutex; bucket increments for concurrently completing calls
// serialize on it.
type Breaker struct {
	name   string
	config *Config
	logger *zap.Logger

	// now is the clock; replaceable in tests.
	now func() time.Time

	mu            sync.Mutex
	state         State
	buckets       []bucket
	openedAt      time.Time
	probeInFlight bool

	// gen increments on every state transition. Outcomes are stamped
	// with the generation their call was admitted under; a recorded
	// outcome from an older generation is ignored, so a late
	// completion of a pre-open call can never masquerade as the
	// half-open probe.
	gen uint64
}

// New creates a circuit breaker for the named backend.
func New(name string, config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		name:    name,
		config:  config,
		logger:  logger,
		now:     time.Now,
		state:   StateClosed,
		buckets: make([]bucket, config.BucketCount),
	}
}

// Allow decides whether a call may proceed. It returns the admission
// generation and nil when the call is admitted, and ErrCircuitOpen when
// it must fail fast. The generation must be passed back to
// RecordSuccess or RecordFailure with the call's outcome. While CLOSED
// the windowed error rate is evaluated on every attempt; an
// over-threshold window opens the circuit and rejects the attempt.
func (b *Breaker) Allow() (uint64, error) {
	b.mu.Lock()

	now := b.now()
	var transition *stateChange

	var err error
	switch b.state {
	case StateClosed:
		if b.overThresholdLocked(now) {
			transition = b.transitionLocked(StateOpen, now)
			err = ErrCircuitOpen
		}

	case StateOpen:
		if now.Sub(b.openedAt) >= b.config.ResetTimeout {
			transition = b.transitionLocked(StateHalfOpen, now)
			b.probeInFlight = true
		} else {
			err = ErrCircuitOpen
		}

	case StateHalfOpen:
		if b.probeInFlight {
			err = ErrCircuitOpen
		} else {
			b.probeInFlight = true
		}
	}

	gen := b.gen
	if err != nil {
		recordRejection(b.name)
	}

	b.mu.Unlock()
	b.notify(transition)

	return gen, err
}

// RecordSuccess records a successful call outcome. gen is the value
// returned by the Allow that admitted the call; an outcome from a
// generation the breaker has since transitioned past is dropped, so
// while HALF_OPEN only the probe itself can close the circuit.
func (b *Breaker) RecordSuccess(gen uint64) {
	b.mu.Lock()

	if gen != b.gen {
		b.mu.Unlock()
		return
	}

	now := b.now()
	var transition *stateChange

	switch b.state {
	case StateHalfOpen:
		// Probe succeeded: close the circuit and start from a
		// clean window.
		b.probeInFlight = false
		b.resetWindowLocked()
		transition = b.transitionLocked(StateClosed, now)

	default:
		b.currentBucketLocked(now).successes++
	}

	b.mu.Unlock()
	b.notify(transition)
}

// RecordFailure records a failed call outcome under the same generation
// rules as RecordSuccess. In addition to the attempt-time evaluation in
// Allow, the window is re-evaluated here so the OPEN transition is
// observable as soon as the threshold is crossed.
func (b *Breaker) RecordFailure(gen uint64) {
	b.mu.Lock()

	if gen != b.gen {
		b.mu.Unlock()
		return
	}

	now := b.now()
	var transition *stateChange

	switch b.state {
	case StateHalfOpen:
		// Probe failed: reopen and restart the reset timeout.
		b.probeInFlight = false
		transition = b.transitionLocked(StateOpen, now)

	case StateClosed:
		b.currentBucketLocked(now).failures++
		if b.overThresholdLocked(now) {
			transition = b.transitionLocked(StateOpen, now)
		}
	}

	b.mu.Unlock()
	b.notify(transition)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the backend name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	State     State
	Successes int64
	Failures  int64
	OpenedAt  time.Time
}

// ErrorRate returns the windowed error rate in percent.
func (s Stats) ErrorRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(total) * 100
}

// Stats returns the windowed counters and current state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	successes, failures := b.windowTotalsLocked(b.now())
	return Stats{
		State:     b.state,
		Successes: successes,
		Failures:  failures,
		OpenedAt:  b.openedAt,
	}
}

// stateChange captures a transition for post-unlock notification.
type stateChange struct {
	from State
	to   State
}

// transitionLocked moves the breaker to a new state. Caller holds the
// lock.
func (b *Breaker) transitionLocked(to State, now time.Time) *stateChange {
	from := b.state
	b.state = to
	b.gen++
	if to == StateOpen {
		b.openedAt = now
	}

	recordStateChange(b.name, from, to)

	return &stateChange{from: from, to: to}
}

// notify logs and invokes the state-change callback outside the lock.
func (b *Breaker) notify(tr *stateChange) {
	if tr == nil {
		return
	}

	b.logger.Info("circuit breaker state changed",
		zap.String("backend", b.name),
		zap.String("from", tr.from.String()),
		zap.String("to", tr.to.String()),
	)

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, tr.from, tr.to)
	}
}

// currentBucketLocked returns the bucket covering now, resetting it if
// it still holds counts from a previous rotation of the ring.
func (b *Breaker) currentBucketLocked(now time.Time) *bucket {
	d := b.config.BucketDuration
	aligned := now.Truncate(d)
	idx := int((aligned.UnixNano() / int64(d)) % int64(len(b.buckets)))

	bk := &b.buckets[idx]
	if !bk.start.Equal(aligned) {
		*bk = bucket{start: aligned}
	}
	return bk
}

// windowTotalsLocked sums buckets still inside the window.
func (b *Breaker) windowTotalsLocked(now time.Time) (successes, failures int64) {
	cutoff := now.Add(-b.config.Window())
	for i := range b.buckets {
		bk := &b.buckets[i]
		if bk.start.IsZero() || !bk.start.After(cutoff) {
			continue
		}
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

// overThresholdLocked reports whether the windowed error rate crosses
// the configured threshold with sufficient volume.
func (b *Breaker) overThresholdLocked(now time.Time) bool {
	successes, failures := b.windowTotalsLocked(now)
	total := successes + failures
	if total < int64(b.config.VolumeThreshold) {
		return false
	}
	rate := float64(failures) / float64(total) * 100
	return rate >= b.config.ErrorThresholdPercent
}

// resetWindowLocked clears every bucket.
func (b *Breaker) resetWindowLocked() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}
