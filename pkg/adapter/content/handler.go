package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/internal/protocol"
	"github.com/marmos91/dittomirror/internal/queue"
	"github.com/marmos91/dittomirror/pkg/requesters"
)

var errNotServable = errors.New("path not servable")

// runHandler is one member of the fixed pool. It exits once the queue has
// been drained for shutdown.
func (s *Server) runHandler(id int) {
	defer s.handlers.Done()

	for {
		conn, err := s.queue.Pop(context.Background())
		if errors.Is(err, queue.ErrDrained) {
			logger.Debug("Content handler %d stopping", id)
			return
		}
		if err != nil {
			logger.Error("Content handler %d: %v", id, err)
			return
		}
		s.metrics.SetQueueDepth(s.queue.Len())
		s.serveConn(s.shutdownCtx, conn)
	}
}

// serveConn runs requests on conn until the peer disconnects, sends a
// malformed request or the server shuts down. It never takes the handler
// down with it.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in content handler for %s: %v", addr, r)
		}
		s.release(conn)
	}()

	c := protocol.NewConn(conn, s.config.IdleTimeout)
	c.SetMaxField(s.config.MaxFrameSize)
	defer c.Watch(ctx)()

	for {
		if ctx.Err() != nil {
			logger.Debug("Content connection from %s closed due to server shutdown", addr)
			return
		}

		c.SetTimeout(s.config.IdleTimeout)
		line, err := c.ReadField()
		if err != nil {
			logConnErr(addr, err)
			return
		}
		c.SetTimeout(s.config.IOTimeout)

		req, err := protocol.ParseRequest(line)
		if err != nil {
			logger.Warn("Content request from %s rejected: %v", addr, err)
			return
		}

		start := time.Now()
		switch req.Op {
		case protocol.OpList:
			err = s.handleList(ctx, c, req)
		case protocol.OpFetch:
			err = s.handleFetch(ctx, c, req)
		}
		s.metrics.RecordRequest(req.Op, time.Since(start), err)

		if err != nil {
			logConnErr(addr, fmt.Errorf("%s: %w", req.Op, err))
			return
		}
	}
}

func logConnErr(addr string, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Content connection from %s closed by client", addr)
	case errors.As(err, &ne) && ne.Timeout():
		logger.Debug("Content connection from %s timed out: %v", addr, err)
	case errors.Is(err, context.Canceled):
		logger.Debug("Content connection from %s cancelled: %v", addr, err)
	default:
		logger.Debug("Content connection from %s: %v", addr, err)
	}
}

// handleList records the requester's delay, then sends the file count and,
// for every file, its length and path, each length acknowledged by the peer.
// Acks arrive at the pace the peer's queue drains and are bounded by ctx
// only.
func (s *Server) handleList(ctx context.Context, c *protocol.Conn, req protocol.Request) error {
	delay := protocol.Delay(req.DelayMillis)
	if err := s.requesters.Register(ctx, req.RequesterID, delay); err != nil {
		logger.Warn("Failed to register requester %d: %v", req.RequesterID, err)
	}

	paths, err := catalog(ctx, s.config.Root)
	if err != nil {
		return err
	}
	s.metrics.RecordFilesListed(len(paths))
	logger.Debug("LIST from requester %d: %d file(s), delay %v", req.RequesterID, len(paths), delay)

	if err := c.WriteInt(int64(len(paths))); err != nil {
		return err
	}
	if err := s.awaitListAck(c); err != nil {
		return err
	}

	for _, p := range paths {
		if err := c.WriteInt(int64(len(p))); err != nil {
			return err
		}
		if err := s.awaitListAck(c); err != nil {
			return err
		}
		if err := c.Write([]byte(p)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) awaitListAck(c *protocol.Conn) error {
	c.SetTimeout(0)
	defer c.SetTimeout(s.config.IOTimeout)
	return c.ExpectOK()
}

// handleFetch waits out the requester's rate limit and announced delay,
// then streams the file: length, peer ack, raw bytes. A path that cannot be
// served gets an ERR reply and the connection stays usable.
func (s *Server) handleFetch(ctx context.Context, c *protocol.Conn, req protocol.Request) error {
	if err := s.limiter.Wait(ctx, req.RequesterID); err != nil {
		return err
	}

	delay, err := s.requesterDelay(ctx, req.RequesterID)
	if err != nil {
		return err
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	f, size, err := open(s.root, req.Path)
	if err != nil {
		logger.Debug("FETCH %s from requester %d refused: %v", req.Path, req.RequesterID, err)
		return c.WriteField(protocol.FormatFetchError(req.Path))
	}
	defer func() { _ = f.Close() }()

	if err := c.WriteField(strconv.FormatInt(size, 10)); err != nil {
		return err
	}
	if err := c.ExpectOK(); err != nil {
		return err
	}

	n, err := c.WriteFrom(f, size)
	s.metrics.RecordBytesServed(n)
	if err != nil {
		return fmt.Errorf("stream %s: %w", req.Path, err)
	}
	logger.Debug("FETCH %s: %d bytes to requester %d", req.Path, n, req.RequesterID)
	return nil
}

func (s *Server) requesterDelay(ctx context.Context, id int64) (time.Duration, error) {
	d, err := requesters.DelayOrZero(ctx, s.requesters, id)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		logger.Warn("Requester %d lookup failed, serving without delay: %v", id, err)
		return 0, nil
	}
	return d, nil
}
