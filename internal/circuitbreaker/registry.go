package circuitbreaker

import (
	"go.uber.org/zap"
)

// Registry holds one breaker per backend. The set of backends is fixed
// at startup, so lookups are read-only and need no locking; one
// backend's open circuit never affects another's breaker.
type Registry struct {
	breakers map[string]*Breaker
}

// NewRegistry builds breakers for the given backend names.
func NewRegistry(names []string, config *Config, logger *zap.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}

	breakers := make(map[string]*Breaker, len(names))
	for _, name := range names {
		// Each breaker gets its own config copy so window state
		// and callbacks never alias across backends.
		cfg := *config
		breakers[name] = New(name, &cfg, logger)
	}
	return &Registry{breakers: breakers}
}

// Get returns the breaker for a backend, or nil if not registered.
func (r *Registry) Get(name string) *Breaker {
	return r.breakers[name]
}
