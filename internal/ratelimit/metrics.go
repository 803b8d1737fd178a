package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limiter activity.
var (
	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	rateLimitFallbackTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "fallback_transitions_total",
			Help:      "Transitions between store-backed and local-fallback counting",
		},
		[]string{"direction"},
	)

	rateLimitDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "degraded",
			Help:      "Whether the limiter is using local fallback counters (1) or the shared store (0)",
		},
	)
)

// RecordRejection counts a throttled request; called by the middleware.
func RecordRejection(path string) {
	rateLimitRejectionsTotal.WithLabelValues(path).Inc()
}

// recordFallbackTransition tracks degradation flips.
func recordFallbackTransition(degraded bool) {
	if degraded {
		rateLimitDegraded.Set(1)
		rateLimitFallbackTransitionsTotal.WithLabelValues("to_fallback").Inc()
	} else {
		rateLimitDegraded.Set(0)
		rateLimitFallbackTransitionsTotal.WithLabelValues("to_store").Inc()
	}
}
