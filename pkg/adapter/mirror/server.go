// Package mirror implements the mirror server: clients name a set of content
// servers and a filter per server, and the mirror server copies every
// matching file into its output sink.
//
// Architecture:
// Control connections are served one at a time, one session each. For every
// source the session coordinator starts a manager that lists the content
// server and pushes matching paths onto a BoundedQueue. A fixed download
// pool, started with the server and shared by all sessions, pops the
// records and fetches the files.
//
// Session boundary:
//  1. All managers have finished
//  2. The queue is drained; each worker that finds it empty parks at the gate
//  3. Once the whole pool is parked, totals are reported
//  4. Queue and totals are reset, then the gate releases the next generation
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed, in-flight work cancelled, gate stopped
//  3. Wait for the session and workers up to ShutdownTimeout, then
//     force-close the control connection
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/internal/queue"
	"github.com/marmos91/dittomirror/internal/ratelimiter"
	"github.com/marmos91/dittomirror/pkg/metrics"
	"github.com/marmos91/dittomirror/pkg/output"
)

var errStopped = errors.New("mirror server stopped")

// Deps are the collaborators injected into the server.
type Deps struct {
	// Sink receives fetched files. Required.
	Sink output.Sink

	Metrics metrics.MirrorMetrics
}

// Server implements adapter.Adapter for the mirror control protocol.
type Server struct {
	config  Config
	mode    MatchMode
	sink    output.Sink
	metrics metrics.MirrorMetrics
	limiter *ratelimiter.Keyed[string]

	queue *queue.BoundedQueue[MatchRecord]
	gate  *gate
	stats sessionStats

	sessionMu sync.Mutex
	workers   sync.WaitGroup
	startOnce sync.Once

	mu       sync.Mutex
	listener net.Listener

	shutdownOnce sync.Once
	shutdown     chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections holds the control connection being served so
	// shutdown can force-close it.
	activeConnections sync.Map
	connCount         atomic.Int32
}

// New creates a stopped mirror server.
//
// Panics if config validation fails or no sink is given.
func New(config Config, deps Deps) *Server {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid mirror config: %v", err))
	}
	if deps.Sink == nil {
		panic("invalid mirror deps: output sink is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopMirrorMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		config:         config,
		mode:           config.MatchMode(),
		sink:           deps.Sink,
		metrics:        deps.Metrics,
		limiter:        ratelimiter.NewKeyed[string](config.FetchRateLimit.RequestsPerSecond, config.FetchRateLimit.Burst, 10*time.Minute),
		queue:          queue.New[MatchRecord](config.QueueCapacity),
		gate:           newGate(),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// start launches the download pool once.
func (s *Server) start() {
	s.startOnce.Do(func() {
		if s.shutdownCtx.Err() != nil {
			return
		}
		for i := 0; i < s.config.Workers; i++ {
			s.workers.Add(1)
			go s.runWorker(i)
		}
		logger.Debug("Started %d download worker(s)", s.config.Workers)
	})
}

// Serve listens for control connections and runs one session per
// connection, one at a time, until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", max(s.config.Port, 0)))
	if err != nil {
		return fmt.Errorf("failed to create mirror listener on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("Mirror server listening on %s (workers=%d queue=%d match=%s sink=%s)",
		listener.Addr(), s.config.Workers, s.config.QueueCapacity, s.mode, s.sink.Name())

	s.start()

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Mirror shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	go s.sweep()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Debug("Error accepting control connection: %v", err)
				continue
			}
			logger.Error("Mirror accept failed: %v", err)
			s.initiateShutdown()
			_ = s.gracefulShutdown()
			return fmt.Errorf("mirror accept: %w", err)
		}

		// Sessions run inline: the next client waits in the listen backlog.
		s.serveControl(conn)
	}
}

func (s *Server) serveControl(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	s.activeConnections.Store(addr, conn)
	s.connCount.Add(1)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in mirror session for %s: %v", addr, r)
		}
		s.release(conn)
	}()

	logger.Debug("Control connection accepted from %s", addr)
	if _, err := s.RunSession(s.shutdownCtx, conn); err != nil {
		logger.Warn("Session for %s ended with error: %v", addr, err)
	}
}

func (s *Server) release(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	if _, loaded := s.activeConnections.LoadAndDelete(addr); !loaded {
		return
	}
	_ = conn.Close()
	s.connCount.Add(-1)
	logger.Debug("Control connection closed from %s", addr)
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Mirror shutdown initiated")
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing mirror listener: %v", err)
			}
		}
		s.mu.Unlock()

		s.cancelRequests()
		s.gate.stop()
	})
}

func (s *Server) waitIdle() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		s.sessionMu.Lock()
		s.sessionMu.Unlock()
		close(done)
	}()
	return done
}

func (s *Server) gracefulShutdown() error {
	logger.Info("Mirror graceful shutdown (timeout: %v)", s.config.ShutdownTimeout)

	select {
	case <-s.waitIdle():
		logger.Info("Mirror graceful shutdown complete")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Mirror shutdown timeout exceeded - forcing closure of %d connection(s)", remaining)
		s.activeConnections.Range(func(_, value any) bool {
			s.release(value.(net.Conn))
			return true
		})
		return fmt.Errorf("mirror shutdown timeout: %d connections force-closed", remaining)
	}
}

// sweep periodically expires idle per-source rate-limit buckets.
func (s *Server) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case now := <-ticker.C:
			s.limiter.Sweep(now)
		}
	}
}

// Stop initiates shutdown and waits for the session and workers until ctx
// is done.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.waitIdle():
		return nil
	case <-ctx.Done():
		logger.Warn("Mirror shutdown context cancelled: %v", ctx.Err())
		return ctx.Err()
	}
}

// Mode returns the match predicate applied to every session.
func (s *Server) Mode() MatchMode {
	return s.mode
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Port() int {
	return s.config.Port
}

func (s *Server) Protocol() string {
	return "MIRROR"
}
