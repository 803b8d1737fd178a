// Package store provides counter storage for the distributed rate
// limiter. The Redis implementation is the shared store; the memory
// implementation backs the local fallback.
package store

import (
	"context"
	"time"
)

// Store is the counter interface the limiter depends on. Increments
// must be atomic at the store layer; read-modify-write sequences are
// not acceptable implementations.
type Store interface {
	// IncrementWithExpiry atomically increments the counter at key by
	// delta and sets the expiry when the key is created by this call.
	// It returns the post-increment value.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// TTL returns the remaining time to live of key. Zero means the
	// key does not exist or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes the key.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}
