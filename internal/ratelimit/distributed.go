package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/events"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit/store"
)

// ErrStoreUnavailable wraps shared-store failures inside the guard. It
// never reaches callers: the limiter degrades to the local fallback
// instead.
var ErrStoreUnavailable = errors.New("rate limit counter store unavailable")

// Limiter mode labels used in logs and status events.
const (
	modeStore    = "store-backed"
	modeFallback = "local-fallback"
)

// DistributedLimiterConfig holds configuration for the distributed
// limiter.
type DistributedLimiterConfig struct {
	// MaxRequests is the per-window quota.
	MaxRequests int

	// Window is the fixed window duration.
	Window time.Duration

	// Store is the shared counter store.
	Store store.Store

	// Logger for degradation and recovery events.
	Logger *zap.Logger

	// Bus optionally receives store degradation/recovery events.
	Bus *events.Bus

	// StoreFailureThreshold is the number of consecutive store
	// failures that trips the store guard.
	StoreFailureThreshold uint32

	// StoreRetryTimeout is how long the guard stays tripped before
	// probing the store again.
	StoreRetryTimeout time.Duration
}

// DistributedLimiter counts in the shared store and falls back to a
// process-local fixed window with the same thresholds when the store is
// unreachable, trading cross-instance accuracy for availability.
// Counts accumulated during a fallback period are discarded once the
// store recovers; the store's counters were aging out under their own
// TTLs the whole time.
type DistributedLimiter struct {
	primary  *FixedWindowLimiter
	fallback *FixedWindowLimiter
	guard    *gobreaker.CircuitBreaker
	logger   *zap.Logger
	bus      *events.Bus

	// degraded tracks fallback mode for transition logging.
	degraded atomic.Bool
}

// NewDistributedLimiter creates a distributed fixed-window limiter.
func NewDistributedLimiter(cfg DistributedLimiterConfig) *DistributedLimiter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	failureThreshold := cfg.StoreFailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 3
	}
	retryTimeout := cfg.StoreRetryTimeout
	if retryTimeout == 0 {
		retryTimeout = 5 * time.Second
	}

	l := &DistributedLimiter{
		primary:  NewFixedWindowLimiter(cfg.Store, cfg.MaxRequests, cfg.Window, logger),
		fallback: NewFixedWindowLimiter(store.NewMemoryStore(), cfg.MaxRequests, cfg.Window, logger),
		logger:   logger,
		bus:      cfg.Bus,
	}

	l.guard = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: 1,
		Timeout:     retryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		// A caller that hung up is not a store failure; only real
		// store errors count toward tripping the guard.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	})

	return l
}

// Allow implements Limiter. Store errors are absorbed: the check is
// retried against the local fallback and the request is never failed
// because the store was down. Context errors belong to the caller and
// are returned as-is without degrading the limiter.
func (l *DistributedLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	value, err := l.guard.Execute(func() (interface{}, error) {
		result, err := l.primary.Allow(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return result, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		l.markDegraded(err)
		return l.fallback.Allow(ctx, key)
	}

	l.markRecovered()
	return value.(*Result), nil
}

// UpdateLimits applies hot-reloaded thresholds to both counting paths.
func (l *DistributedLimiter) UpdateLimits(limit int, window time.Duration) {
	l.primary.UpdateLimits(limit, window)
	l.fallback.UpdateLimits(limit, window)
}

// Degraded reports whether the limiter is currently in fallback mode.
func (l *DistributedLimiter) Degraded() bool {
	return l.degraded.Load()
}

// markDegraded flips into fallback mode, logging on the transition.
func (l *DistributedLimiter) markDegraded(cause error) {
	if l.degraded.Swap(true) {
		return
	}

	recordFallbackTransition(true)
	l.logger.Warn("rate limit store unreachable, using local fallback counters",
		zap.Error(cause),
	)
	l.publish(modeStore, modeFallback)
}

// markRecovered flips back to store-backed mode. Fallback-period counts
// are discarded.
func (l *DistributedLimiter) markRecovered() {
	if !l.degraded.Swap(false) {
		return
	}

	recordFallbackTransition(false)
	l.logger.Info("rate limit store recovered, resuming shared counters")
	l.publish(modeFallback, modeStore)
}

func (l *DistributedLimiter) publish(from, to string) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.StatusEvent{
		Kind:     events.KindRateLimit,
		Backend:  "ratelimit-store",
		Previous: from,
		Current:  to,
	})
}
