package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks the configuration for errors that would make the
// gateway unsafe to start. It is called by Load after defaults are
// applied.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i := range c.Backends {
		b := &c.Backends[i]
		if err := b.validate(); err != nil {
			return fmt.Errorf("backend %d: %w", i, err)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true
	}

	if err := c.CircuitBreaker.validate(); err != nil {
		return fmt.Errorf("circuitBreaker: %w", err)
	}

	if c.HealthMonitor.ProbeInterval <= 0 {
		return fmt.Errorf("healthMonitor: probeInterval must be positive")
	}
	if c.HealthMonitor.ProbeTimeout <= 0 {
		return fmt.Errorf("healthMonitor: probeTimeout must be positive")
	}

	if err := c.RateLimit.validate(); err != nil {
		return fmt.Errorf("rateLimit: %w", err)
	}

	return nil
}

func (b *BackendConfig) validate() error {
	if b.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if b.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if b.PoolSize < 1 {
		return fmt.Errorf("poolSize must be at least 1, got %d", b.PoolSize)
	}
	if b.CallTimeout <= 0 {
		return fmt.Errorf("callTimeout must be positive")
	}
	if b.MethodBase != "" && !strings.HasPrefix(b.MethodBase, "/") {
		return fmt.Errorf("methodBase must start with /, got %q", b.MethodBase)
	}
	if b.RoutePrefix != "" && !strings.HasPrefix(b.RoutePrefix, "/") {
		return fmt.Errorf("routePrefix must start with /, got %q", b.RoutePrefix)
	}
	return nil
}

func (cb *CircuitBreakerConfig) validate() error {
	if cb.ErrorThresholdPercent <= 0 || cb.ErrorThresholdPercent > 100 {
		return fmt.Errorf("errorThresholdPercent must be in (0, 100], got %v",
			cb.ErrorThresholdPercent)
	}
	if cb.VolumeThreshold < 1 {
		return fmt.Errorf("volumeThreshold must be at least 1")
	}
	if cb.BucketCount < 1 {
		return fmt.Errorf("bucketCount must be at least 1")
	}
	if cb.BucketDuration <= 0 {
		return fmt.Errorf("bucketDuration must be positive")
	}
	if cb.ResetTimeout <= 0 {
		return fmt.Errorf("resetTimeout must be positive")
	}
	return nil
}

func (rl *RateLimitConfig) validate() error {
	if !rl.Enabled {
		return nil
	}
	if rl.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if rl.MaxRequests < 1 {
		return fmt.Errorf("maxRequests must be at least 1")
	}
	for _, entry := range rl.Allowlist {
		if !strings.Contains(entry, "/") {
			if net.ParseIP(entry) == nil {
				return fmt.Errorf("allowlist entry %q is not a valid IP", entry)
			}
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("allowlist entry %q is not a valid CIDR: %w", entry, err)
		}
	}
	return nil
}
