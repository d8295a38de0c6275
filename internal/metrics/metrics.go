// Package metrics exposes Prometheus instruments for the ingestion and
// dispatch paths. All instruments live on a private registry so tests can
// construct isolated instances.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry *prometheus.Registry

	Received      *prometheus.CounterVec
	Rejected      *prometheus.CounterVec
	EnrichDropped *prometheus.CounterVec
	Sent          *prometheus.CounterVec
	SendFailures  *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	RenderSeconds prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookrelay",
			Name:      "received_total",
			Help:      "Webhooks accepted and enqueued, by category.",
		}, []string{"category"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookrelay",
			Name:      "rejected_total",
			Help:      "Webhooks rejected before enqueue, by reason.",
		}, []string{"reason"}),
		EnrichDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookrelay",
			Name:      "enrich_dropped_total",
			Help:      "Records dropped because enrichment failed, by provider.",
		}, []string{"provider"}),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookrelay",
			Name:      "sent_total",
			Help:      "Messages delivered, by strategy mode.",
		}, []string{"mode"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookrelay",
			Name:      "send_failures_total",
			Help:      "Delivery attempts that failed, by strategy mode.",
		}, []string{"mode"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hookrelay",
			Name:      "queue_depth",
			Help:      "Records currently pending in the queue.",
		}),
		RenderSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hookrelay",
			Name:      "render_seconds",
			Help:      "Latency of render service calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	m.registry.MustRegister(
		m.Received,
		m.Rejected,
		m.EnrichDropped,
		m.Sent,
		m.SendFailures,
		m.QueueDepth,
		m.RenderSeconds,
	)
	return m
}

// Registry returns the gatherer backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
