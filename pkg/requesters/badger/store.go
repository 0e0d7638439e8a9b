package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/dittomirror/pkg/requesters"
)

const keyPrefix = "req:"

// Config configures the badger-backed registry.
type Config struct {
	// TTL after which a requester entry expires. 0 keeps entries forever.
	TTL time.Duration

	// IndexCacheSizeMB bounds badger's index cache (default 16).
	IndexCacheSizeMB int64
}

// Registry stores requester delays in an in-memory BadgerDB instance and
// relies on badger's per-entry TTL for expiry. Nothing is written to disk.
type Registry struct {
	db  *badger.DB
	ttl time.Duration
}

// New opens an in-memory badger database.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexMB := cfg.IndexCacheSizeMB
	if indexMB <= 0 {
		indexMB = 16
	}

	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithIndexCacheSize(indexMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory BadgerDB: %w", err)
	}

	return &Registry{db: db, ttl: cfg.TTL}, nil
}

func key(id int64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], uint64(id))
	return k
}

func (r *Registry) Register(ctx context.Context, id int64, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val := binary.AppendVarint(nil, delay.Milliseconds())

	return r.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(id), val)
		if r.ttl > 0 {
			e = e.WithTTL(r.ttl)
		}
		return txn.SetEntry(e)
	})
}

func (r *Registry) Delay(ctx context.Context, id int64) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var millis int64
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return requesters.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, n := binary.Varint(val)
			if n <= 0 {
				return fmt.Errorf("corrupt delay for requester %d", id)
			}
			millis = v
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return time.Duration(millis) * time.Millisecond, nil
}

func (r *Registry) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

var _ requesters.Registry = (*Registry)(nil)
