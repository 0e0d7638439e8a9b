// Package metrics provides Prometheus metrics collection for the content and
// mirror servers.
//
// All metrics are optional. Components receive a metrics interface; when
// metrics are disabled they get a no-op implementation, so the hot paths
// never check whether collection is on.
//
// Usage:
//
//	metrics.InitRegistry()
//	contentMetrics := prometheus.NewContentMetrics()
//	srv := content.New(cfg, content.Deps{Metrics: contentMetrics})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Subsequent calls
// are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
