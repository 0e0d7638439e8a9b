package requesters_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomirror/pkg/requesters"
	"github.com/marmos91/dittomirror/pkg/requesters/badger"
	"github.com/marmos91/dittomirror/pkg/requesters/memory"
)

// Both backends must behave the same way.
func backends(t *testing.T, ttl time.Duration) map[string]requesters.Registry {
	t.Helper()

	b, err := badger.New(context.Background(), badger.Config{TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return map[string]requesters.Registry{
		"memory": memory.New(ttl),
		"badger": b,
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	ctx := context.Background()

	for name, r := range backends(t, time.Hour) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, r.Register(ctx, 42, 250*time.Millisecond))
			require.NoError(t, r.Register(ctx, -7, 0))

			d, err := r.Delay(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, 250*time.Millisecond, d)

			d, err = r.Delay(ctx, -7)
			require.NoError(t, err)
			assert.Zero(t, d)

			_, err = r.Delay(ctx, 1)
			assert.ErrorIs(t, err, requesters.ErrNotFound)

			// Re-registering refreshes the delay.
			require.NoError(t, r.Register(ctx, 42, time.Second))
			d, err = r.Delay(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, time.Second, d)
		})
	}
}

func TestDelayOrZero(t *testing.T) {
	ctx := context.Background()
	r := memory.New(0)

	d, err := requesters.DelayOrZero(ctx, r, 5)
	require.NoError(t, err)
	assert.Zero(t, d)

	require.NoError(t, r.Register(ctx, 5, 3*time.Millisecond))
	d, err = requesters.DelayOrZero(ctx, r, 5)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Millisecond, d)
}

func TestRegistry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, r := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, r.Register(ctx, 1, 0), context.Canceled)
			_, err := r.Delay(ctx, 1)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}
