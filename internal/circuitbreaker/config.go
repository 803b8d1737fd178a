// Package circuitbreaker implements a per-backend circuit breaker with
// a bucketed sliding window. The window bounds memory to O(buckets) per
// backend and keeps the error rate computed over recent traffic only.
package circuitbreaker

import "time"

// Config holds configuration for a circuit breaker.
type Config struct {
	// ErrorThresholdPercent is the windowed error rate (0-100) at
	// which the circuit opens.
	ErrorThresholdPercent float64

	// VolumeThreshold is the minimum number of calls in the window
	// before the error rate is evaluated.
	VolumeThreshold int

	// BucketCount is the number of fixed-duration buckets in the
	// rolling window.
	BucketCount int

	// BucketDuration is the width of each bucket.
	BucketDuration time.Duration

	// ResetTimeout is how long the circuit stays open before a
	// half-open probe is allowed through.
	ResetTimeout time.Duration

	// OnStateChange is called after every state transition. The
	// callback runs outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values: a 10x1s window,
// 50% error threshold over at least 20 calls, 30s reset timeout.
func DefaultConfig() *Config {
	return &Config{
		ErrorThresholdPercent: 50,
		VolumeThreshold:       20,
		BucketCount:           10,
		BucketDuration:        time.Second,
		ResetTimeout:          30 * time.Second,
	}
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	if c.ErrorThresholdPercent <= 0 || c.ErrorThresholdPercent > 100 {
		c.ErrorThresholdPercent = 50
	}
	if c.VolumeThreshold < 1 {
		c.VolumeThreshold = 20
	}
	if c.BucketCount < 1 {
		c.BucketCount = 10
	}
	if c.BucketDuration <= 0 {
		c.BucketDuration = time.Second
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
}

// Window returns the total window span.
func (c *Config) Window() time.Duration {
	return time.Duration(c.BucketCount) * c.BucketDuration
}
