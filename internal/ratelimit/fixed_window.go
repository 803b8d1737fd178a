package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/ratelimit/store"
)

// FixedWindowLimiter implements fixed-window counting against a Store.
// The counter key is created with a TTL equal to the window on the
// first request and expires with it; a request after expiry starts a
// fresh window. Increments are atomic at the store layer.
type FixedWindowLimiter struct {
	store  store.Store
	logger *zap.Logger

	mu     sync.RWMutex
	limit  int
	window time.Duration
}

// NewFixedWindowLimiter creates a limiter over the given store.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FixedWindowLimiter{
		store:  s,
		logger: logger,
		limit:  limit,
		window: window,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	l.mu.RLock()
	limit := l.limit
	window := l.window
	l.mu.RUnlock()

	count, err := l.store.IncrementWithExpiry(ctx, key, 1, window)
	if err != nil {
		return nil, err
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > limit {
		retryAfter, ttlErr := l.store.TTL(ctx, key)
		if ttlErr != nil {
			l.logger.Warn("failed to read counter TTL",
				zap.String("key", key),
				zap.Error(ttlErr),
			)
			retryAfter = window
		}
		if retryAfter <= 0 {
			retryAfter = window
		}

		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retryAfter,
		}, nil
	}

	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

// UpdateLimits applies hot-reloaded thresholds. Counters already in
// flight keep their original TTL; only the admission limit changes
// immediately.
func (l *FixedWindowLimiter) UpdateLimits(limit int, window time.Duration) {
	l.mu.Lock()
	l.limit = limit
	l.window = window
	l.mu.Unlock()
}

// Limits returns the current threshold settings.
func (l *FixedWindowLimiter) Limits() (int, time.Duration) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limit, l.window
}
