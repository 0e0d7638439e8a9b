// Package content implements the content server: it serves a directory tree
// over the LIST/FETCH protocol.
//
// Architecture:
// One goroutine accepts connections and pushes them onto a BoundedQueue
// whose capacity equals the handler pool size. A fixed pool of handlers,
// started with the server and never resized, pops connections and serves
// them to completion. While the queue is full the accept loop blocks, so
// the kernel backlog absorbs excess clients instead of the process.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed and queue drained (handlers exit once it is empty)
//  3. shutdownCtx cancelled (in-flight exchanges abort at their next I/O)
//  4. Wait for handlers up to ShutdownTimeout, then force-close connections
package content

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/internal/queue"
	"github.com/marmos91/dittomirror/internal/ratelimiter"
	"github.com/marmos91/dittomirror/pkg/metrics"
	"github.com/marmos91/dittomirror/pkg/requesters"
	"github.com/marmos91/dittomirror/pkg/requesters/memory"
)

// Deps are the collaborators injected into the server. Nil fields get
// in-process defaults.
type Deps struct {
	// Requesters records the delay announced by each LIST. Default: an
	// in-memory registry with a 10 minute TTL.
	Requesters requesters.Registry

	Metrics metrics.ContentMetrics
}

// Server implements adapter.Adapter for the content protocol.
type Server struct {
	config     Config
	requesters requesters.Registry
	metrics    metrics.ContentMetrics
	limiter    *ratelimiter.Keyed[int64]

	root  *os.Root
	queue *queue.BoundedQueue[net.Conn]

	mu       sync.Mutex
	listener net.Listener

	handlers     sync.WaitGroup
	shutdownOnce sync.Once
	shutdown     chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for every accepted
	// connection, queued or being served, so shutdown can force-close them.
	activeConnections sync.Map
	connCount         atomic.Int32
}

// New creates a stopped content server.
//
// Panics if config validation fails.
func New(config Config, deps Deps) *Server {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid content config: %v", err))
	}

	if deps.Requesters == nil {
		deps.Requesters = memory.New(10 * time.Minute)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopContentMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		config:         config,
		requesters:     deps.Requesters,
		metrics:        deps.Metrics,
		limiter:        ratelimiter.NewKeyed[int64](config.RateLimit.RequestsPerSecond, config.RateLimit.Burst, 10*time.Minute),
		queue:          queue.New[net.Conn](config.Handlers),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// Serve listens, starts the handler pool and accepts until shutdown.
//
// Returns an error straight away if the root cannot be opened or the
// listener cannot be created; nil after a graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	root, err := os.OpenRoot(s.config.Root)
	if err != nil {
		return fmt.Errorf("failed to open content root %s: %w", s.config.Root, err)
	}
	s.root = root
	defer func() { _ = root.Close() }()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", max(s.config.Port, 0)))
	if err != nil {
		return fmt.Errorf("failed to create content listener on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("Content server listening on %s (root=%s handlers=%d)",
		listener.Addr(), s.config.Root, s.config.Handlers)

	for i := 0; i < s.config.Handlers; i++ {
		s.handlers.Add(1)
		go s.runHandler(i)
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Content shutdown signal received: %v", ctx.Err())
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
				logger.Debug("Error accepting content connection: %v", err)
				continue
			}
			logger.Error("Content accept failed: %v", err)
			s.initiateShutdown()
			_ = s.gracefulShutdown()
			return fmt.Errorf("content accept: %w", err)
		}

		addr := conn.RemoteAddr().String()
		s.activeConnections.Store(addr, conn)
		active := s.connCount.Add(1)
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(active)
		logger.Debug("Content connection accepted from %s (active: %d)", addr, active)

		// Blocks while every handler is busy and the queue is full.
		if err := s.queue.Push(s.shutdownCtx, conn); err != nil {
			logger.Debug("Dropping connection from %s: %v", addr, err)
			s.release(conn)
			continue
		}
		s.metrics.SetQueueDepth(s.queue.Len())
	}
}

// release closes conn and forgets it.
func (s *Server) release(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	if _, loaded := s.activeConnections.LoadAndDelete(addr); !loaded {
		return
	}
	_ = conn.Close()

	active := s.connCount.Add(-1)
	s.metrics.RecordConnectionClosed()
	s.metrics.SetActiveConnections(active)
	logger.Debug("Content connection closed from %s (active: %d)", addr, active)
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Content shutdown initiated")
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing content listener: %v", err)
			}
		}
		s.mu.Unlock()

		s.queue.Drain()
		s.cancelRequests()
	})
}

func (s *Server) waitHandlers() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	return done
}

func (s *Server) gracefulShutdown() error {
	logger.Info("Content graceful shutdown: waiting for %d connection(s) (timeout: %v)",
		s.connCount.Load(), s.config.ShutdownTimeout)

	select {
	case <-s.waitHandlers():
		s.closeQueued()
		logger.Info("Content graceful shutdown complete")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Content shutdown timeout exceeded: %d connection(s) still active - forcing closure", remaining)
		s.forceCloseConnections()
		return fmt.Errorf("content shutdown timeout: %d connections force-closed", remaining)
	}
}

// closeQueued releases connections accepted but never handed to a handler.
func (s *Server) closeQueued() {
	s.activeConnections.Range(func(_, value any) bool {
		s.release(value.(net.Conn))
		return true
	})
}

func (s *Server) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(_, value any) bool {
		s.release(value.(net.Conn))
		s.metrics.RecordConnectionForceClosed()
		closed++
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed %d content connection(s)", closed)
	}
}

// sweep periodically expires idle rate-limit buckets.
func (s *Server) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case now := <-ticker.C:
			if n := s.limiter.Sweep(now); n > 0 {
				logger.Debug("Dropped %d idle rate-limit bucket(s)", n)
			}
		}
	}
}

// Stop initiates shutdown and waits for the handlers until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.waitHandlers():
		return nil
	case <-ctx.Done():
		logger.Warn("Content shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// ActiveConnections returns the number of accepted, unreleased connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
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
	return "CONTENT"
}
