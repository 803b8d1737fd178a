package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for circuit breaker activity.
var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "circuitbreaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "circuitbreaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"backend", "from", "to"},
	)

	breakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "circuitbreaker",
			Name:      "rejections_total",
			Help:      "Total number of calls rejected while the circuit was open",
		},
		[]string{"backend"},
	)
)

// recordStateChange updates transition metrics.
func recordStateChange(backend string, from, to State) {
	breakerState.WithLabelValues(backend).Set(float64(to))
	breakerTransitionsTotal.WithLabelValues(backend, from.String(), to.String()).Inc()
}

// recordRejection counts a fast-failed call.
func recordRejection(backend string) {
	breakerRejectionsTotal.WithLabelValues(backend).Inc()
}
