package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/internal/protocol"
	"github.com/marmos91/dittomirror/internal/queue"
)

// manager enumerates one content server for one session and queues the
// paths that pass the source's filter.
type manager struct {
	source      protocol.Source
	requesterID int64
	mode        MatchMode

	conn net.Conn
	c    *protocol.Conn
}

func (s *Server) newManager(src protocol.Source) *manager {
	return &manager{
		source:      src,
		requesterID: int64(uuid.New().ID()),
		mode:        s.mode,
	}
}

// init resolves and connects to the source. A failure here is reported to
// the client as an ERR line for this source only.
func (m *manager) init(ctx context.Context, s *Server) error {
	if m.source.Address == "" || m.source.Port <= 0 {
		return fmt.Errorf("invalid source %s", m.source)
	}

	d := net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(m.source.Address, strconv.Itoa(m.source.Port)))
	if err != nil {
		return err
	}
	m.conn = conn
	m.c = protocol.NewConn(conn, s.config.IOTimeout)
	return nil
}

// run lists the source and pushes every match onto q, blocking while q is
// full. It returns the number of advertised and matched paths.
func (m *manager) run(ctx context.Context, s *Server, q *queue.BoundedQueue[MatchRecord]) (advertised, matched int64, err error) {
	defer m.close()

	advertised, err = protocol.List(ctx, m.c, m.requesterID, m.source.DelayMillis, func(path string) error {
		if !m.mode.Matches(path, m.source.Filter) {
			return nil
		}
		rec := MatchRecord{
			Path:        path,
			Address:     m.source.Address,
			Port:        m.source.Port,
			RequesterID: m.requesterID,
			DelayMillis: protocol.ClampDelay(m.source.DelayMillis),
		}
		if err := q.Push(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warn("Dropping %s from %s: %v", path, m.source, err)
			return nil
		}
		matched++
		s.metrics.RecordMatch()
		s.metrics.SetQueueDepth(q.Len())
		return nil
	})
	return advertised, matched, err
}

func (m *manager) close() {
	if m.conn != nil {
		_ = m.conn.Close()
	}
}

// runManager drives one source through init and run. Init failures are
// handed to failures, which the session coordinator turns into ERR lines.
func (s *Server) runManager(ctx context.Context, src protocol.Source, failures chan<- protocol.Source) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in mirror manager for %s: %v", src, r)
		}
	}()

	m := s.newManager(src)
	if err := m.init(ctx, s); err != nil {
		logger.Warn("Source %s unreachable: %v", src, err)
		s.metrics.RecordSourceFailure()
		failures <- src
		return
	}

	advertised, matched, err := m.run(ctx, s, s.queue)
	switch {
	case err == nil:
		logger.Debug("Source %s: %d advertised, %d matched %s %q",
			src, advertised, matched, m.mode, src.Filter)
	case errors.Is(err, context.Canceled):
		logger.Debug("Source %s listing cancelled after %d match(es)", src, matched)
	default:
		logger.Warn("Source %s listing failed after %d match(es): %v", src, matched, err)
	}
}
