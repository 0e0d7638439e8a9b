// Package server runs a set of adapters side by side and shuts them down
// together.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/pkg/adapter"
	"github.com/marmos91/dittomirror/pkg/metrics"
)

// DefaultStopTimeout bounds the Stop call issued to each adapter.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve already called")

// DittoServer manages the lifecycle of the adapters of one process and of the
// optional metrics endpoint.
//
// Lifecycle:
//  1. New
//  2. AddAdapter for each adapter, SetMetricsServer if metrics are enabled
//  3. Serve starts everything and blocks
//  4. Cancelling ctx, or any adapter failing, stops all adapters in reverse
//     registration order
//
// Example:
//
//	srv := server.New(cfg.Server.ShutdownTimeout)
//	if err := srv.AddAdapter(mirrorSrv); err != nil {
//	    return err
//	}
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	err := srv.Serve(ctx)
type DittoServer struct {
	stopTimeout time.Duration

	mu       sync.Mutex
	adapters []adapter.Adapter
	metrics  *metrics.Server
	served   bool
}

// New creates a DittoServer. A non-positive stopTimeout selects
// DefaultStopTimeout.
func New(stopTimeout time.Duration) *DittoServer {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &DittoServer{
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers an adapter to be started by Serve.
//
// Protocols must be unique. Fixed ports must be unique; adapters asking for
// an ephemeral port (zero or negative) never conflict.
//
// Panics if a is nil or Serve has already been called.
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port > 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}
	if port > 0 && s.metrics != nil && s.metrics.Port() == port {
		return fmt.Errorf("port %d already in use by the metrics server", port)
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// SetMetricsServer attaches the metrics endpoint. Serve starts it alongside
// the adapters; a metrics failure is logged but does not stop the adapters.
func (s *DittoServer) SetMetricsServer(m *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.served {
		panic("cannot set metrics server after Serve() has been called")
	}
	s.metrics = m
}

// Adapters returns a snapshot of the registered adapters.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve starts every adapter and blocks until ctx is cancelled or one of
// them fails.
//
// Returns:
//   - ctx.Err() after a shutdown triggered by ctx
//   - the first adapter error, wrapped with its protocol, otherwise
//   - nil if every adapter returned on its own without error
func (s *DittoServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metrics
	s.mu.Unlock()

	logger.Info("Starting %d adapter(s)", len(adapters))

	var metricsDone chan struct{}
	metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMetrics()
	if metricsServer != nil {
		metricsDone = make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := metricsServer.Start(metricsCtx); err != nil {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
	}

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case err == nil:
				logger.Info("%s adapter stopped", protocol)
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped: %v", protocol, err)
			default:
				logger.Error("%s adapter failed: %v", protocol, err)
			}
			errChan <- adapterError{protocol: protocol, err: err}
		}(adp)
	}

	var shutdownErr error
	remaining := len(adapters)
wait:
	for remaining > 0 {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
			s.stopAllAdapters(adapters)
			shutdownErr = ctx.Err()
			break wait

		case res := <-errChan:
			remaining--
			if res.err == nil || errors.Is(res.err, context.Canceled) {
				continue
			}
			logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters", res.protocol, res.err)
			s.stopAllAdapters(adapters)
			shutdownErr = fmt.Errorf("%s adapter error: %w", res.protocol, res.err)
			break wait
		}
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	if metricsServer != nil {
		stopMetrics()
		<-metricsDone
	}

	logger.Info("All adapters stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals every adapter in reverse registration order. Each
// Stop shares one stopTimeout budget; errors are logged and the remaining
// adapters are still stopped.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}
