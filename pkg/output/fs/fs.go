package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittomirror/pkg/output"
)

// Sink writes fetched files below a local root directory.
//
// Each file is written to a temporary sibling and renamed into place on
// Commit, so readers never observe a partially mirrored file.
type Sink struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Sink, error) {
	if root == "" {
		return nil, fmt.Errorf("output root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output root %q: %w", abs, err)
	}
	return &Sink{root: abs}, nil
}

// Root returns the absolute output directory.
func (s *Sink) Root() string { return s.root }

func (s *Sink) Name() string { return "filesystem" }

func (s *Sink) Create(ctx context.Context, key string) (output.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if rel, err := filepath.Rel(s.root, dst); err != nil || rel == "." || !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %q", output.ErrInvalidPath, key)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", key, err)
	}
	return &file{File: tmp, dst: dst}, nil
}

type file struct {
	*os.File
	dst  string
	done bool
}

func (f *file) Commit(ctx context.Context) error {
	if f.done {
		return fmt.Errorf("%s already finished", f.dst)
	}
	f.done = true

	if err := ctx.Err(); err != nil {
		_ = f.File.Close()
		_ = os.Remove(f.Name())
		return err
	}
	if err := f.File.Close(); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("close %s: %w", f.dst, err)
	}
	if err := os.Rename(f.Name(), f.dst); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("rename into %s: %w", f.dst, err)
	}
	return nil
}

func (f *file) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	_ = f.File.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var _ output.Sink = (*Sink)(nil)
