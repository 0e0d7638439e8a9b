package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/internal/protocol"
	"github.com/marmos91/dittomirror/internal/queue"
	"github.com/marmos91/dittomirror/pkg/output"
)

// runWorker is one member of the persistent download pool.
//
// Within a session it pops match records until the coordinator drains the
// queue. It then reports at the gate and sleeps there until the next
// session is released.
func (s *Server) runWorker(id int) {
	defer s.workers.Done()

	gen := s.gate.generation()
	for {
		rec, err := s.queue.Pop(s.shutdownCtx)
		switch {
		case err == nil:
			s.metrics.SetQueueDepth(s.queue.Len())
			s.download(s.shutdownCtx, id, rec)

		case errors.Is(err, queue.ErrDrained):
			next, ok := s.gate.arrive(gen)
			if !ok {
				logger.Debug("Download worker %d stopping", id)
				return
			}
			gen = next

		default:
			logger.Debug("Download worker %d stopping: %v", id, err)
			return
		}
	}
}

// download fetches rec into the sink. Failures are logged and the record
// is dropped without touching the session totals.
func (s *Server) download(ctx context.Context, id int, rec MatchRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in download worker %d for %s: %v", id, rec.Path, r)
		}
	}()

	start := time.Now()
	n, err := s.fetch(ctx, rec)
	s.metrics.RecordFetch(time.Since(start), n, err)
	if err != nil {
		logger.Warn("Worker %d: fetch %s from %s:%d failed: %v", id, rec.Path, rec.Address, rec.Port, err)
		return
	}

	s.stats.add(n)
	logger.Debug("Worker %d: fetched %s from %s:%d (%d bytes)", id, rec.Path, rec.Address, rec.Port, n)
}

func (s *Server) fetch(ctx context.Context, rec MatchRecord) (int64, error) {
	addr := net.JoinHostPort(rec.Address, strconv.Itoa(rec.Port))
	if err := s.limiter.Wait(ctx, addr); err != nil {
		return 0, err
	}

	key, err := output.Key(rec.Address, rec.Port, rec.Path)
	if err != nil {
		return 0, err
	}

	d := net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	f, err := s.sink.Create(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", key, err)
	}

	c := protocol.NewConn(conn, s.config.IOTimeout)
	n, err := protocol.Fetch(ctx, c, rec.Path, rec.RequesterID, protocol.Delay(rec.DelayMillis), f, s.config.MaxFileSize)
	if err != nil {
		_ = f.Abort()
		return 0, err
	}
	if err := f.Commit(ctx); err != nil {
		_ = f.Abort()
		return 0, fmt.Errorf("commit %s: %w", key, err)
	}
	return n, nil
}
