package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus mirrors of the in-memory statistics.
var (
	backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total number of calls dispatched to a backend",
		},
		[]string{"backend", "outcome"},
	)

	backendCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of backend calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

// recordCall updates the Prometheus counters for a completed call.
func recordCall(backend string, latency time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	backendRequestsTotal.WithLabelValues(backend, outcome).Inc()
	backendCallDurationSeconds.WithLabelValues(backend).Observe(latency.Seconds())
}
