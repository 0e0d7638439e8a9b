package mirror

import (
	"context"
	"sync"
)

// gate parks drained workers between sessions.
//
// Each session is a generation. A worker that finds the queue drained calls
// arrive with the generation it was working in and sleeps until the
// coordinator calls release, which starts the next generation. Nothing is
// re-created between sessions: the generation number is what tells a
// sleeper that its round is over.
type gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	gen     uint64
	drained int
	stopped bool
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *gate) generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

// arrive reports a drained worker for generation gen and blocks until the
// next generation starts. It returns that generation, or false once the gate
// is stopped.
func (g *gate) arrive(gen uint64) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gen == gen {
		g.drained++
		g.cond.Broadcast()
	}
	for g.gen == gen && !g.stopped {
		g.cond.Wait()
	}
	return g.gen, !g.stopped
}

// awaitDrained blocks until n workers have arrived in the current
// generation, the gate is stopped or ctx ends.
func (g *gate) awaitDrained(ctx context.Context, n int) error {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.drained < n && !g.stopped {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}
	if g.stopped {
		return errStopped
	}
	return nil
}

// release starts the next generation and wakes every parked worker.
func (g *gate) release() {
	g.mu.Lock()
	g.gen++
	g.drained = 0
	g.cond.Broadcast()
	g.mu.Unlock()
}

func (g *gate) stop() {
	g.mu.Lock()
	g.stopped = true
	g.cond.Broadcast()
	g.mu.Unlock()
}
