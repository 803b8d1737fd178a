// Package config provides configuration management for the Personal
// Researcher gateway. Configuration is loaded from a YAML file once at
// startup; backend descriptors are immutable for the process lifetime,
// while rate-limit thresholds may be hot-reloaded through the watcher.
package config

import "time"

// Config is the root configuration for the gateway.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Backends       []BackendConfig      `yaml:"backends"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
	HealthMonitor  HealthMonitorConfig  `yaml:"healthMonitor"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRate   float64 `yaml:"sampleRate"`
	ServiceName  string  `yaml:"serviceName"`
}

// BackendConfig describes one gRPC backend service. Descriptors are
// resolved into the dispatcher arena once at startup and never mutated.
type BackendConfig struct {
	// Name is the logical service name (e.g. "vector-service").
	Name string `yaml:"name"`

	// Address is the host:port of the backend.
	Address string `yaml:"address"`

	// PoolSize is the number of connections held for this backend.
	PoolSize int `yaml:"poolSize"`

	// CallTimeout is the per-call deadline applied to every dispatch.
	CallTimeout Duration `yaml:"callTimeout"`

	// RoutePrefix is the HTTP path prefix routed to this backend.
	RoutePrefix string `yaml:"routePrefix"`

	// MethodBase is the fully qualified gRPC service prefix used when
	// forwarding (e.g. "/vector.VectorService/").
	MethodBase string `yaml:"methodBase"`
}

// CircuitBreakerConfig holds per-backend breaker settings.
type CircuitBreakerConfig struct {
	// ErrorThresholdPercent is the windowed error rate (0-100) that
	// opens the circuit.
	ErrorThresholdPercent float64 `yaml:"errorThresholdPercent"`

	// VolumeThreshold is the minimum number of windowed calls before
	// the error rate is evaluated.
	VolumeThreshold int `yaml:"volumeThreshold"`

	// BucketCount is the number of buckets in the rolling window.
	BucketCount int `yaml:"bucketCount"`

	// BucketDuration is the width of each window bucket.
	BucketDuration Duration `yaml:"bucketDuration"`

	// ResetTimeout is how long the circuit stays open before a
	// half-open probe is allowed.
	ResetTimeout Duration `yaml:"resetTimeout"`
}

// HealthMonitorConfig holds background probe settings.
type HealthMonitorConfig struct {
	ProbeInterval Duration `yaml:"probeInterval"`
	ProbeTimeout  Duration `yaml:"probeTimeout"`
}

// RateLimitConfig holds distributed rate limiter settings.
type RateLimitConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Window      Duration `yaml:"window"`
	MaxRequests int      `yaml:"maxRequests"`

	// SkipPathPrefixes are path prefixes never counted or throttled.
	SkipPathPrefixes []string `yaml:"skipPathPrefixes"`

	// Allowlist contains exact addresses or CIDR ranges exempt from
	// limiting.
	Allowlist []string `yaml:"allowlist"`

	// ServiceToken is the pre-shared token that exempts
	// service-to-service callers.
	ServiceToken string `yaml:"serviceToken"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds the shared counter store settings.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	KeyPrefix    string   `yaml:"keyPrefix"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// Default values applied by Load for fields left unset.
const (
	DefaultServerAddress   = ":8080"
	DefaultMetricsAddress  = ":9090"
	DefaultMetricsPath     = "/metrics"
	DefaultPoolSize        = 5
	DefaultCallTimeout     = 5 * time.Second
	DefaultBucketCount     = 10
	DefaultBucketDuration  = time.Second
	DefaultResetTimeout    = 30 * time.Second
	DefaultVolumeThreshold = 20
	DefaultErrorThreshold  = 50.0
	DefaultProbeInterval   = 30 * time.Second
	DefaultProbeTimeout    = 2 * time.Second
	DefaultWindow          = time.Minute
	DefaultMaxRequests     = 100
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRedisKeyPrefix  = "ratelimit:"
)

// applyDefaults fills zero-valued fields with defaults.
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "personalresearcher-gateway"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}

	for i := range c.Backends {
		if c.Backends[i].PoolSize == 0 {
			c.Backends[i].PoolSize = DefaultPoolSize
		}
		if c.Backends[i].CallTimeout == 0 {
			c.Backends[i].CallTimeout = Duration(DefaultCallTimeout)
		}
	}

	cb := &c.CircuitBreaker
	if cb.ErrorThresholdPercent == 0 {
		cb.ErrorThresholdPercent = DefaultErrorThreshold
	}
	if cb.VolumeThreshold == 0 {
		cb.VolumeThreshold = DefaultVolumeThreshold
	}
	if cb.BucketCount == 0 {
		cb.BucketCount = DefaultBucketCount
	}
	if cb.BucketDuration == 0 {
		cb.BucketDuration = Duration(DefaultBucketDuration)
	}
	if cb.ResetTimeout == 0 {
		cb.ResetTimeout = Duration(DefaultResetTimeout)
	}

	if c.HealthMonitor.ProbeInterval == 0 {
		c.HealthMonitor.ProbeInterval = Duration(DefaultProbeInterval)
	}
	if c.HealthMonitor.ProbeTimeout == 0 {
		c.HealthMonitor.ProbeTimeout = Duration(DefaultProbeTimeout)
	}

	rl := &c.RateLimit
	if rl.Window == 0 {
		rl.Window = Duration(DefaultWindow)
	}
	if rl.MaxRequests == 0 {
		rl.MaxRequests = DefaultMaxRequests
	}
	if rl.Redis.KeyPrefix == "" {
		rl.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
}
