package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	Messages     *prometheus.CounterVec
	Units        *prometheus.CounterVec
	Duplicates   prometheus.Counter
	Reclassified prometheus.Counter
	Retries      *prometheus.CounterVec
	SplitUnits   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dirrepl_messages_total",
			Help: "Replication messages processed, by result",
		}, []string{"result"}),
		Units: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dirrepl_units_applied_total",
			Help: "Units applied to the backend, by dispatched operation",
		}, []string{"op"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "dirrepl_units_duplicate_total",
			Help: "Units skipped because the ledger already holds them",
		}),
		Reclassified: f.NewCounter(prometheus.CounterOpts{
			Name: "dirrepl_units_reclassified_total",
			Help: "Units dispatched under a different operation than received",
		}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dirrepl_backend_retries_total",
			Help: "Backend calls repeated after a retryable failure, by call",
		}, []string{"call"}),
		SplitUnits: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dirrepl_split_units",
			Help:    "Units produced per combined update",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}
