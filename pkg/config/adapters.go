package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomirror/pkg/adapter/content"
	"github.com/marmos91/dittomirror/pkg/adapter/mirror"
	"github.com/marmos91/dittomirror/pkg/metrics"
	"github.com/marmos91/dittomirror/pkg/requesters"
)

// CreateContentServer builds the content server and its requester
// registry. The caller owns the registry and must Close it after the server
// stops.
func CreateContentServer(ctx context.Context, cfg *Config, m metrics.ContentMetrics) (*content.Server, requesters.Registry, error) {
	reg, err := CreateRequesterRegistry(ctx, &cfg.Content.Requesters)
	if err != nil {
		return nil, nil, err
	}

	c := cfg.Content
	srv := content.New(content.Config{
		Port:            c.Port,
		Root:            c.Root,
		Handlers:        c.Handlers,
		IOTimeout:       c.IOTimeout,
		IdleTimeout:     c.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxFrameSize:    c.MaxFrameSize,
		RateLimit: content.RateLimitConfig{
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
		},
	}, content.Deps{
		Requesters: reg,
		Metrics:    m,
	})
	return srv, reg, nil
}

// CreateMirrorServer builds the mirror server and its output sink.
func CreateMirrorServer(ctx context.Context, cfg *Config, m metrics.MirrorMetrics) (*mirror.Server, error) {
	sink, err := CreateOutputSink(ctx, &cfg.Mirror.Output)
	if err != nil {
		return nil, fmt.Errorf("mirror output: %w", err)
	}

	c := cfg.Mirror
	return mirror.New(mirror.Config{
		Port:            c.Port,
		Workers:         c.Workers,
		QueueCapacity:   c.QueueCapacity,
		Search:          c.Search,
		DialTimeout:     c.DialTimeout,
		IOTimeout:       c.IOTimeout,
		MaxFileSize:     c.MaxFileSize,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		FetchRateLimit: mirror.RateLimitConfig{
			RequestsPerSecond: c.FetchRateLimit.RequestsPerSecond,
			Burst:             c.FetchRateLimit.Burst,
		},
	}, mirror.Deps{
		Sink:    sink,
		Metrics: m,
	}), nil
}
