package protocol

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe returns both ends of an in-memory full-duplex connection.
func pipe(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return NewConn(a, 0), NewConn(b, 0)
}

func TestReadField_OneWritePerField(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = client.WriteField("hello")
		_ = client.ExpectOK()
		_ = client.WriteInt(1234)
	}()

	f, err := server.ReadField()
	require.NoError(t, err)
	assert.Equal(t, "hello", f)
	require.NoError(t, server.SendOK())

	n, err := server.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)
}

func TestReadField_TooLarge(t *testing.T) {
	c := NewConn(&rwBuffer{r: strings.NewReader(strings.Repeat("x", 64))}, 0)
	c.SetMaxField(16)

	_, err := c.ReadField()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteField_RejectsOversize(t *testing.T) {
	c := NewConn(&rwBuffer{}, 0)
	c.SetMaxField(8)

	assert.ErrorIs(t, c.WriteField("12345678"), ErrFrameTooLarge)
	assert.NoError(t, c.WriteField("1234567"))
}

func TestExpectOK_Mismatch(t *testing.T) {
	c := NewConn(&rwBuffer{r: strings.NewReader("NO")}, 0)
	assert.ErrorIs(t, c.ExpectOK(), ErrUnexpectedAck)
}

func TestReadExact_Bounds(t *testing.T) {
	c := NewConn(&rwBuffer{r: strings.NewReader("abcdef")}, 0)

	_, err := c.ReadExact(10, 5)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	_, err = c.ReadExact(-1, 5)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	b, err := c.ReadExact(4, 5)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(b))

	// Only two bytes left.
	_, err = c.ReadExact(4, 5)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCopyExact_ShortStream(t *testing.T) {
	c := NewConn(&rwBuffer{r: strings.NewReader("0123456789")}, 0)

	var out bytes.Buffer
	n, err := c.CopyExact(&out, 20)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, int64(10), n)
}

func TestWatch_AbortsBlockedRead(t *testing.T) {
	_, server := pipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	stop := server.Watch(ctx)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		_, err := server.ReadField()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("read not aborted by context")
	}
}

func TestSetTimeout_ZeroClearsDeadline(t *testing.T) {
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	c := NewConn(a, 30*time.Millisecond)

	go func() {
		_, _ = b.Write([]byte(Ack))
		time.Sleep(100 * time.Millisecond)
		_, _ = b.Write([]byte(Ack))
	}()

	require.NoError(t, c.ExpectOK())
	c.SetTimeout(0)
	assert.NoError(t, c.ExpectOK())
}

type rwBuffer struct {
	r io.Reader
	w bytes.Buffer
}

func (b *rwBuffer) Read(p []byte) (int, error) {
	if b.r == nil {
		return 0, io.EOF
	}
	return b.r.Read(p)
}

func (b *rwBuffer) Write(p []byte) (int, error) { return b.w.Write(p) }
