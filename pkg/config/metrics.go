package config

import (
	"github.com/marmos91/dittomirror/pkg/metrics"
	promMetrics "github.com/marmos91/dittomirror/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Content is the collector for the content server (never nil)
	Content metrics.ContentMetrics

	// Mirror is the collector for the mirror server (never nil)
	Mirror metrics.MirrorMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and
// Prometheus-backed collectors are returned together with the HTTP server.
// Otherwise the server is nil and the collectors are no-ops.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Content: metrics.NewNoopContentMetrics(),
			Mirror:  metrics.NewNoopMirrorMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:  server,
		Content: promMetrics.NewContentMetrics(),
		Mirror:  promMetrics.NewMirrorMetrics(),
	}
}
