package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomirror/pkg/output"
)

func TestWriteAndCommit(t *testing.T) {
	ctx := context.Background()
	sink, err := New(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	n, err := output.Write(ctx, sink, "host_9000/a/b.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	data, err := os.ReadFile(filepath.Join(sink.Root(), "host_9000", "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAbortLeavesNothing(t *testing.T) {
	ctx := context.Background()
	sink, err := New(t.TempDir())
	require.NoError(t, err)

	f, err := sink.Create(ctx, "h_1/partial.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, f.Abort())

	entries, err := os.ReadDir(filepath.Join(sink.Root(), "h_1"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, f.Abort(), "second abort is a no-op")
}

func TestCreate_RejectsEscapes(t *testing.T) {
	sink, err := New(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside", "a/../../b", ""} {
		_, err := sink.Create(context.Background(), key)
		assert.ErrorIs(t, err, output.ErrInvalidPath, key)
	}
}

func TestOverwriteExisting(t *testing.T) {
	ctx := context.Background()
	sink, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = output.Write(ctx, sink, "h_1/f", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = output.Write(ctx, sink, "h_1/f", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(sink.Root(), "h_1", "f"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}
