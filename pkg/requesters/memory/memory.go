package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittomirror/pkg/requesters"
)

type entry struct {
	delay   time.Duration
	expires time.Time
}

// Registry is a map-backed requesters.Registry. Expired entries are removed
// lazily on lookup and by Sweep.
type Registry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]entry
}

// New creates an empty registry. ttl <= 0 keeps entries forever.
func New(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]entry),
	}
}

func (r *Registry) Register(ctx context.Context, id int64, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := entry{delay: delay}
	if r.ttl > 0 {
		e.expires = r.now().Add(r.ttl)
	}

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return nil
}

func (r *Registry) Delay(ctx context.Context, id int64) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return 0, requesters.ErrNotFound
	}
	if !e.expires.IsZero() && r.now().After(e.expires) {
		r.mu.Lock()
		if cur, ok := r.entries[id]; ok && cur.expires.Equal(e.expires) {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		return 0, requesters.ErrNotFound
	}
	return e.delay, nil
}

// Sweep removes expired entries and returns how many were dropped.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Close() error { return nil }

var _ requesters.Registry = (*Registry)(nil)
