package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewell_alerts_total",
			Help: "Sweep candidates by outcome",
		},
		[]string{"outcome"},
	)
	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livewell_sweep_duration_seconds",
			Help:    "Duration of alert sweeps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	syncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewell_sync_total",
			Help: "Sync pushes by result",
		},
		[]string{"result"},
	)
	metricsOnce sync.Once
)

// RegisterMetrics registers the service collectors with reg once per process.
func RegisterMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(alertsTotal, sweepDuration, syncTotal)
	})
}
