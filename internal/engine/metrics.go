package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Appends       *prometheus.CounterVec   // by operation
	Rejections    *prometheus.CounterVec   // by error code
	Conflicts     prometheus.Counter       // stale expected parents
	Branches      prometheus.Counter       // retained losing branches
	Annotations   *prometheus.CounterVec   // by event: added, resolved
	Anomalies     *prometheus.CounterVec   // by anomaly kind
	AppendLatency *prometheus.HistogramVec // by outcome: ok, error
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diarystore",
			Name:      "appends_total",
			Help:      "Events appended to the log.",
		}, []string{"operation"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diarystore",
			Name:      "rejections_total",
			Help:      "Write requests rejected, by error code.",
		}, []string{"code"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diarystore",
			Name:      "conflicts_total",
			Help:      "Appends rejected because the expected parent was not a tip.",
		}),
		Branches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diarystore",
			Name:      "branches_total",
			Help:      "Losing edits retained as sibling branches.",
		}),
		Annotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diarystore",
			Name:      "annotations_total",
			Help:      "Annotation lifecycle events.",
		}, []string{"event"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diarystore",
			Name:      "integrity_anomalies_total",
			Help:      "Anomalies found by verification, by kind.",
		}, []string{"kind"}),
		AppendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "diarystore",
			Name:      "append_duration_seconds",
			Help:      "Latency of append transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Appends,
			m.Rejections,
			m.Conflicts,
			m.Branches,
			m.Annotations,
			m.Anomalies,
			m.AppendLatency,
		)
	}
	return m
}
