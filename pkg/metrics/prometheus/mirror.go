package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittomirror/pkg/metrics"
)

type mirrorMetrics struct {
	sessionsTotal    prometheus.Counter
	sessionDuration  prometheus.Histogram
	sourcesTotal     *prometheus.CounterVec
	matchesTotal     prometheus.Counter
	fetchesTotal     *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	bytesTransferred prometheus.Counter
	queueDepth       prometheus.Gauge
}

// NewMirrorMetrics creates Prometheus-backed mirror server metrics on the
// global registry, or a no-op implementation if metrics are disabled.
func NewMirrorMetrics() metrics.MirrorMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopMirrorMetrics()
	}
	return NewMirrorMetricsWith(metrics.GetRegistry())
}

// NewMirrorMetricsWith registers the mirror server collectors on reg.
func NewMirrorMetricsWith(reg prometheus.Registerer) metrics.MirrorMetrics {
	f := promauto.With(reg)

	return &mirrorMetrics{
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dittomirror_mirror_sessions_total",
			Help: "Total number of completed mirroring sessions",
		}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dittomirror_mirror_session_duration_seconds",
			Help:    "Wall time of mirroring sessions",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		sourcesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomirror_mirror_sources_total",
				Help: "Content servers named by clients, by outcome",
			},
			[]string{"status"},
		),
		matchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dittomirror_mirror_matches_total",
			Help: "Advertised paths that passed the session filter",
		}),
		fetchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomirror_mirror_fetches_total",
				Help: "Download attempts by status",
			},
			[]string{"status"},
		),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "dittomirror_mirror_fetch_duration_milliseconds",
			Help: "Duration of single file downloads in milliseconds",
			Buckets: []float64{
				1,     // 1ms
				10,    // 10ms
				100,   // 100ms
				1000,  // 1s
				10000, // 10s
			},
		}),
		bytesTransferred: f.NewCounter(prometheus.CounterOpts{
			Name: "dittomirror_mirror_bytes_transferred_total",
			Help: "Total file bytes mirrored",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "dittomirror_mirror_queue_depth",
			Help: "Match records waiting for a download worker",
		}),
	}
}

func (m *mirrorMetrics) RecordSession(duration time.Duration, sources, failedSources int) {
	m.sessionsTotal.Inc()
	m.sessionDuration.Observe(duration.Seconds())
	m.sourcesTotal.WithLabelValues("ok").Add(float64(sources - failedSources))
}

func (m *mirrorMetrics) RecordSourceFailure() {
	m.sourcesTotal.WithLabelValues("unreachable").Inc()
}

func (m *mirrorMetrics) RecordMatch() {
	m.matchesTotal.Inc()
}

func (m *mirrorMetrics) RecordFetch(duration time.Duration, bytes int64, err error) {
	if err != nil {
		m.fetchesTotal.WithLabelValues("error").Inc()
		return
	}
	m.fetchesTotal.WithLabelValues("success").Inc()
	m.fetchDuration.Observe(float64(duration.Milliseconds()))
	m.bytesTransferred.Add(float64(bytes))
}

func (m *mirrorMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
