// Package requesters tracks the mirrors that have enumerated a content
// server, and the per-file delay each one asked for.
//
// A mirror announces itself with LIST:<requesterId>:<delayMillis>. The
// content server records the delay and applies it to every later FETCH that
// carries the same requester ID. Entries expire after a TTL so IDs from
// finished sessions do not accumulate.
package requesters

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Delay for unknown or expired requesters.
var ErrNotFound = errors.New("requester not found")

// Registry maps requester IDs to their requested delay.
//
// Implementations must be safe for concurrent use by all content handlers.
type Registry interface {
	// Register records (or refreshes) id with the given delay.
	Register(ctx context.Context, id int64, delay time.Duration) error

	// Delay returns the delay recorded for id, or ErrNotFound.
	Delay(ctx context.Context, id int64) (time.Duration, error)

	// Close releases backend resources.
	Close() error
}

// DelayOrZero looks id up and treats a missing entry as no delay. Other
// errors are returned.
func DelayOrZero(ctx context.Context, r Registry, id int64) (time.Duration, error) {
	d, err := r.Delay(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return d, err
}
