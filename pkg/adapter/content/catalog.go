package content

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/internal/protocol"
)

// catalog enumerates the served tree depth-first in lexical order. Paths are
// slash-separated, relative to the root and start with "/". Only regular
// files are listed; unreadable directories are skipped.
func catalog(ctx context.Context, root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			logger.Warn("Skipping %s: %v", p, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		advertised := "/" + filepath.ToSlash(rel)
		if len(advertised) > protocol.DefaultMaxPath {
			logger.Warn("Skipping %s: path longer than %d bytes", p, protocol.DefaultMaxPath)
			return nil
		}
		paths = append(paths, advertised)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

// open opens an advertised path for streaming. Lookups go through an
// os.Root, so symlinks and ".." cannot reach outside the served tree.
func open(root *os.Root, advertised string) (*os.File, int64, error) {
	rel := strings.TrimPrefix(path.Clean("/"+advertised), "/")
	if rel == "" {
		return nil, 0, fmt.Errorf("%w: %q", errNotServable, advertised)
	}

	f, err := root.Open(rel)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errNotServable, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %v", errNotServable, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", errNotServable, advertised)
	}
	return f, info.Size(), nil
}
