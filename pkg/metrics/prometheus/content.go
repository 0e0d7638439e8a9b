package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittomirror/pkg/metrics"
)

type contentMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	bytesServed            prometheus.Counter
	filesListed            prometheus.Histogram
	queueDepth             prometheus.Gauge
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewContentMetrics creates Prometheus-backed content server metrics on the
// global registry, or a no-op implementation if metrics are disabled.
func NewContentMetrics() metrics.ContentMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopContentMetrics()
	}
	return NewContentMetricsWith(metrics.GetRegistry())
}

// NewContentMetricsWith registers the content server collectors on reg.
func NewContentMetricsWith(reg prometheus.Registerer) metrics.ContentMetrics {
	f := promauto.With(reg)

	return &contentMetrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomirror_content_requests_total",
				Help: "Total number of content requests by operation and status",
			},
			[]string{"op", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittomirror_content_request_duration_milliseconds",
				Help: "Duration of content requests in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"op"},
		),
		bytesServed: f.NewCounter(prometheus.CounterOpts{
			Name: "dittomirror_content_bytes_served_total",
			Help: "Total file bytes streamed to mirrors",
		}),
		filesListed: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dittomirror_content_files_listed",
			Help:    "Number of files advertised per enumeration",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "dittomirror_content_queue_depth",
			Help: "Accepted connections waiting for a handler",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "dittomirror_content_active_connections",
			Help: "Current number of open content connections",
		}),
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "dittomirror_content_connections_accepted_total",
			Help: "Total number of content connections accepted",
		}),
		connectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "dittomirror_content_connections_closed_total",
			Help: "Total number of content connections closed",
		}),
		connectionsForceClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "dittomirror_content_connections_force_closed_total",
			Help: "Connections closed by the shutdown timeout",
		}),
	}
}

func (m *contentMetrics) RecordRequest(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.requestsTotal.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(float64(duration.Milliseconds()))
}

func (m *contentMetrics) RecordBytesServed(bytes int64) {
	m.bytesServed.Add(float64(bytes))
}

func (m *contentMetrics) RecordFilesListed(count int) {
	m.filesListed.Observe(float64(count))
}

func (m *contentMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *contentMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *contentMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *contentMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *contentMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
