package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var poolReplacementsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "dispatch",
		Name:      "pool_replacements_total",
		Help:      "Total number of connection slot replacements per backend",
	},
	[]string{"backend"},
)
