package mirror

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/internal/protocol"
)

// sessionState names the coordinator's steps in debug logs.
type sessionState int

const (
	stateIdle sessionState = iota
	stateAwaitClient
	stateGatherSources
	stateRunSources
	stateSourcesJoined
	stateDrainWorkers
	stateAwaitDrainComplete
	stateReport
	stateResetSyncState
	stateAckBarrier
)

var stateNames = [...]string{
	stateIdle:               "IDLE",
	stateAwaitClient:        "AWAIT_CLIENT",
	stateGatherSources:      "GATHER_SOURCES",
	stateRunSources:         "RUN_SOURCES",
	stateSourcesJoined:      "SOURCES_JOINED",
	stateDrainWorkers:       "DRAIN_WORKERS",
	stateAwaitDrainComplete: "AWAIT_DRAIN_COMPLETE",
	stateReport:             "REPORT",
	stateResetSyncState:     "RESET_SYNC_STATE",
	stateAckBarrier:         "ACK_BARRIER",
}

func (st sessionState) String() string {
	if int(st) < len(stateNames) {
		return stateNames[st]
	}
	return fmt.Sprintf("state(%d)", int(st))
}

type session struct {
	id    string
	state sessionState
}

func (ss *session) enter(st sessionState) {
	ss.state = st
	logger.Debug("Session %s: %s", ss.id, st)
}

// RunSession runs one mirroring session on an accepted control connection:
// it reads the source list, lists every source concurrently, waits for the
// download pool to empty the queue, and replies with the session totals.
// Unreachable sources get an ERR line each as soon as they fail.
//
// Sessions are serialized; a second caller waits for the first to finish.
// The download pool is started on first use if Serve has not started it.
func (s *Server) RunSession(ctx context.Context, conn net.Conn) (Stats, error) {
	s.start()

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	ss := &session{id: uuid.NewString()}
	ss.enter(stateGatherSources)
	start := time.Now()

	c := protocol.NewConn(conn, s.config.IOTimeout)
	defer c.Watch(ctx)()

	sources, err := protocol.ReadSources(c)
	if err != nil {
		return Stats{}, fmt.Errorf("session %s: gather sources: %w", ss.id, err)
	}
	logger.Info("Session %s started: %d source(s) from %s (%s match)",
		ss.id, len(sources), conn.RemoteAddr(), s.mode)

	ss.enter(stateRunSources)
	failed, replyErr := s.runSources(ctx, c, sources)
	ss.enter(stateSourcesJoined)

	ss.enter(stateDrainWorkers)
	s.queue.Drain()

	ss.enter(stateAwaitDrainComplete)
	if err := s.gate.awaitDrained(s.shutdownCtx, s.config.Workers); err != nil {
		return Stats{}, fmt.Errorf("session %s: %w", ss.id, err)
	}

	ss.enter(stateReport)
	stats := s.stats.snapshot()
	if replyErr == nil {
		reply := protocol.FormatStats(stats.Files, stats.Bytes, stats.Mean(), stats.Dispersion())
		replyErr = c.Write([]byte(reply))
	}

	ss.enter(stateResetSyncState)
	if n := s.queue.Reset(); n > 0 {
		logger.Warn("Session %s: %d match record(s) left in the queue", ss.id, n)
	}
	s.stats.reset()

	ss.enter(stateAckBarrier)
	s.gate.release()

	duration := time.Since(start)
	s.metrics.RecordSession(duration, len(sources), failed)
	logger.Info("Session %s finished in %v: %d file(s), %d bytes, %d unreachable source(s)",
		ss.id, duration.Round(time.Millisecond), stats.Files, stats.Bytes, failed)

	ss.enter(stateIdle)
	if replyErr != nil {
		return stats, fmt.Errorf("session %s: reply: %w", ss.id, replyErr)
	}
	return stats, nil
}

// runSources starts one manager per source and waits for all of them,
// writing an ERR line for each source whose init fails. Once a write to the
// client fails no further lines are attempted and that error is returned.
func (s *Server) runSources(ctx context.Context, c *protocol.Conn, sources []protocol.Source) (failed int, replyErr error) {
	failures := make(chan protocol.Source)

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runManager(ctx, src, failures)
		}()
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	for {
		select {
		case src := <-failures:
			failed++
			if replyErr != nil {
				continue
			}
			replyErr = c.Write([]byte(protocol.FormatSourceError(src.Address, src.Port)))
			if replyErr != nil {
				logger.Debug("Failed to report unreachable source %s: %v", src, replyErr)
			}
		case <-joined:
			return failed, replyErr
		}
	}
}
