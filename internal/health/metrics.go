package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "health",
			Name:      "backend_serving",
			Help:      "Whether the last probe reported SERVING (1) or not (0)",
		},
		[]string{"backend"},
	)

	healthProbeRTT = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "health",
			Name:      "probe_rtt_seconds",
			Help:      "Round-trip time of the last health probe",
		},
		[]string{"backend"},
	)
)

func recordProbe(backend string, status Status, rtt time.Duration) {
	serving := 0.0
	if status == StatusServing {
		serving = 1.0
	}
	healthStatus.WithLabelValues(backend).Set(serving)
	healthProbeRTT.WithLabelValues(backend).Set(rtt.Seconds())
}
