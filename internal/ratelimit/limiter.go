// Package ratelimit provides distributed fixed-window rate limiting
// for the gateway. Counters live in a shared Redis store so every
// gateway instance observes the same quota; an in-memory fallback with
// identical window semantics keeps the gateway available when the
// store is unreachable.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key is admitted.
type Limiter interface {
	// Allow checks and consumes one request for the given key.
	Allow(ctx context.Context, key string) (*Result, error)
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests per window.
	Limit int

	// Remaining is the quota left in the current window.
	Remaining int

	// RetryAfter is how long a rejected caller should wait. Zero for
	// admitted requests.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds,
// never less than 1 for rejected requests.
func (r *Result) RetryAfterSeconds() int {
	if r.Allowed || r.RetryAfter <= 0 {
		return 0
	}
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
