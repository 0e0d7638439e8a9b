// Package output stores the files fetched by the mirror server.
//
// Every fetched file lands under a key of the form
// <address>_<port>/<advertised path>, so two content servers advertising the
// same path never overwrite each other. A file only becomes visible once
// Commit succeeds; an aborted or failed transfer leaves nothing behind.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for keys that are empty after cleaning.
var ErrInvalidPath = errors.New("invalid output path")

// Sink creates output files.
type Sink interface {
	// Create opens a pending file for key. Nothing is visible under key
	// until the returned File is committed.
	Create(ctx context.Context, key string) (File, error)

	// Name identifies the backend in logs.
	Name() string
}

// File is a pending output file.
type File interface {
	io.Writer

	// Commit publishes the file. The File must not be used afterwards.
	Commit(ctx context.Context) error

	// Abort discards the file. Safe to call after Commit, in which case it
	// does nothing.
	Abort() error
}

// Key builds the output key for a file advertised by address:port. The
// advertised path is confined to the source's directory: "..", "." and
// duplicate separators are resolved as if the path were rooted.
func Key(address string, port int, advertised string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+advertised), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, advertised)
	}

	dir := strings.NewReplacer("/", "_", "\\", "_").Replace(address) + "_" + strconv.Itoa(port)
	if dir == "" || dir == "." || dir == ".." {
		return "", fmt.Errorf("%w: source %q", ErrInvalidPath, address)
	}
	return dir + "/" + rel, nil
}

// Write copies r into a new file under key and commits it, aborting on any
// error. It returns the number of bytes written.
func Write(ctx context.Context, s Sink, key string, r io.Reader) (int64, error) {
	f, err := s.Create(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Abort()
		return n, err
	}
	if err := f.Commit(ctx); err != nil {
		_ = f.Abort()
		return n, err
	}
	return n, nil
}
