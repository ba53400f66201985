package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the gateway
type Metrics struct {
	ExportsTotal   *prometheus.CounterVec
	ExportDuration prometheus.Histogram
	RetriesTotal   prometheus.Counter
	QueueDepth     prometheus.Gauge
	JobsInFlight   prometheus.Gauge
	EchoLatency    prometheus.Histogram
	WorklistHits   *prometheus.CounterVec
}

// New registers the gateway collectors with the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture_gateway",
			Name:      "exports_total",
			Help:      "Terminal export outcomes by status",
		}, []string{"status"}),
		ExportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "capture_gateway",
			Name:      "export_duration_seconds",
			Help:      "Wall time of a single C-STORE attempt",
			Buckets:   prometheus.DefBuckets,
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "capture_gateway",
			Name:      "export_retries_total",
			Help:      "Export attempts rescheduled after a transient failure",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "capture_gateway",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the export queue",
		}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "capture_gateway",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently uploading",
		}),
		EchoLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "capture_gateway",
			Name:      "echo_latency_seconds",
			Help:      "C-ECHO round trip latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		WorklistHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capture_gateway",
			Name:      "worklist_queries_total",
			Help:      "Worklist queries by data source",
		}, []string{"source"}),
	}
}
