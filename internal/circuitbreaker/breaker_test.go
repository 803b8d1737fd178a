package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive the breaker's notion of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, cfg *Config) (*Breaker, *fakeClock) {
	t.Helper()
	b := New("vector-service", cfg, nil)
	clock := newFakeClock()
	b.now = clock.Now
	return b, clock
}

func testConfig() *Config {
	return &Config{
		ErrorThresholdPercent: 50,
		VolumeThreshold:       10,
		BucketCount:           10,
		BucketDuration:        time.Second,
		ResetTimeout:          30 * time.Second,
	}
}

// mustAllow admits a call and returns its generation token.
func mustAllow(t *testing.T, b *Breaker) uint64 {
	t.Helper()
	gen, err := b.Allow()
	require.NoError(t, err)
	return gen
}

// allowErr returns just the admission decision.
func allowErr(b *Breaker) error {
	_, err := b.Allow()
	return err
}

func TestBreaker_StaysClosedUnderVolume(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	// All failures, but below the volume threshold.
	for i := 0; i < 9; i++ {
		b.RecordFailure(mustAllow(t, b))
	}

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, allowErr(b))
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	// 5 successes + 5 failures = 50% over 10 calls.
	for i := 0; i < 5; i++ {
		b.RecordSuccess(mustAllow(t, b))
	}
	for i := 0; i < 5; i++ {
		b.RecordFailure(mustAllow(t, b))
	}

	assert.Equal(t, StateOpen, b.State())

	err := allowErr(b)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestBreaker_StaysClosedBelowErrorRate(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	for i := 0; i < 20; i++ {
		gen := mustAllow(t, b)
		if i%4 == 0 { // 25% failures
			b.RecordFailure(gen)
		} else {
			b.RecordSuccess(gen)
		}
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	tripBreaker(t, b)

	// Just before the reset timeout every call is rejected.
	clock.Advance(29 * time.Second)
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, allowErr(b), ErrCircuitOpen)
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	tripBreaker(t, b)

	clock.Advance(30 * time.Second)

	// Exactly one probe is admitted.
	mustAllow(t, b)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, allowErr(b), ErrCircuitOpen)
	assert.ErrorIs(t, allowErr(b), ErrCircuitOpen)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	tripBreaker(t, b)

	clock.Advance(30 * time.Second)
	b.RecordSuccess(mustAllow(t, b))

	assert.Equal(t, StateClosed, b.State())

	// The window was cleared: old failures no longer count.
	stats := b.Stats()
	assert.Zero(t, stats.Failures)
	assert.NoError(t, allowErr(b))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())
	tripBreaker(t, b)

	clock.Advance(30 * time.Second)
	b.RecordFailure(mustAllow(t, b))

	assert.Equal(t, StateOpen, b.State())

	// The reset timeout restarted from the probe failure.
	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, allowErr(b), ErrCircuitOpen)

	clock.Advance(time.Second)
	assert.NoError(t, allowErr(b))
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_StaleSuccessCannotCloseHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())

	// A slow call is admitted while the circuit is still closed.
	staleGen := mustAllow(t, b)

	tripBreaker(t, b)
	clock.Advance(30 * time.Second)

	probeGen := mustAllow(t, b)
	require.Equal(t, StateHalfOpen, b.State())

	// The slow call completes now. Its outcome is from an older
	// generation and must not stand in for the probe.
	b.RecordSuccess(staleGen)
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess(probeGen)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StaleFailureCannotReopenHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())

	staleGen := mustAllow(t, b)

	tripBreaker(t, b)
	clock.Advance(30 * time.Second)

	probeGen := mustAllow(t, b)
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure(staleGen)
	assert.Equal(t, StateHalfOpen, b.State())

	// The probe itself still decides.
	b.RecordSuccess(probeGen)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_WindowExpiresOldFailures(t *testing.T) {
	b, clock := newTestBreaker(t, testConfig())

	// Fill the window with failures, one short of the threshold
	// volume.
	for i := 0; i < 9; i++ {
		b.RecordFailure(mustAllow(t, b))
	}

	// Move past the whole window; those failures age out.
	clock.Advance(11 * time.Second)

	for i := 0; i < 9; i++ {
		b.RecordSuccess(mustAllow(t, b))
	}
	b.RecordFailure(mustAllow(t, b))

	// 1 failure over 10 recent calls: well under 50%.
	assert.Equal(t, StateClosed, b.State())
	stats := b.Stats()
	assert.Equal(t, int64(9), stats.Successes)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	cfg := testConfig()

	var mu sync.Mutex
	var transitions []string
	cfg.OnStateChange = func(name string, from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	}

	b := New("content-discovery", cfg, nil)
	clock := newFakeClock()
	b.now = clock.Now

	tripBreaker(t, b)
	clock.Advance(30 * time.Second)
	b.RecordSuccess(mustAllow(t, b))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestBreaker_ConcurrentOutcomeRecording(t *testing.T) {
	cfg := testConfig()
	cfg.VolumeThreshold = 10000 // keep it closed
	b, _ := newTestBreaker(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				gen, err := b.Allow()
				if err != nil {
					continue
				}
				if n%2 == 0 {
					b.RecordSuccess(gen)
				} else {
					b.RecordFailure(gen)
				}
			}
		}(i)
	}
	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, int64(500), stats.Successes)
	assert.Equal(t, int64(500), stats.Failures)
}

func TestBreaker_LateFailureWhileOpenIsIgnored(t *testing.T) {
	b, _ := newTestBreaker(t, testConfig())

	// A call admitted before the trip completes late.
	lateGen := mustAllow(t, b)
	tripBreaker(t, b)

	b.RecordFailure(lateGen)
	assert.Equal(t, StateOpen, b.State())
}

func TestRegistry_FixedSet(t *testing.T) {
	r := NewRegistry([]string{"vector-service", "content-discovery"}, testConfig(), nil)

	require.NotNil(t, r.Get("vector-service"))
	require.NotNil(t, r.Get("content-discovery"))
	assert.Nil(t, r.Get("unknown"))

	// Breakers are independent.
	tripBreaker(t, r.Get("vector-service"))
	assert.Equal(t, StateOpen, r.Get("vector-service").State())
	assert.Equal(t, StateClosed, r.Get("content-discovery").State())
}

// tripBreaker drives the breaker to OPEN with all-failing traffic.
func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < 10; i++ {
		gen, err := b.Allow()
		if err != nil {
			break
		}
		b.RecordFailure(gen)
	}
	require.Equal(t, StateOpen, b.State())
}
