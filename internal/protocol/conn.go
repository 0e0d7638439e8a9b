package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// Ack is the two-byte acknowledgement exchanged after every bare field.
	Ack = "OK"

	// DefaultMaxField bounds a single bare field (counts, lengths, addresses,
	// filters, request lines). A field must be strictly shorter.
	DefaultMaxField = 8192

	// DefaultMaxPath bounds an advertised path length.
	DefaultMaxPath = 4096

	copyChunk = 256 * 1024
)

var (
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrUnexpectedAck    = errors.New("unexpected acknowledgement")
	ErrMalformedRequest = errors.New("malformed request")
	ErrRemote           = errors.New("remote error")
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Conn frames the ASCII protocols spoken by the content and mirror servers.
//
// Bare fields carry no delimiter: each one is written with a single Write and
// the peer answers it with Ack before anything else is sent, so one read
// returns exactly one field. The only unacknowledged payloads (path bytes,
// file bytes) are length-prefixed and read exactly.
type Conn struct {
	rw       io.ReadWriter
	r        *bufio.Reader
	buf      []byte
	maxField int
	timeout  time.Duration
	deadline bool
	aborted  atomic.Pointer[error]
}

// NewConn wraps rw. timeout, when positive, is applied as an I/O deadline
// before each read or write if rw supports deadlines.
func NewConn(rw io.ReadWriter, timeout time.Duration) *Conn {
	return &Conn{
		rw:       rw,
		r:        bufio.NewReaderSize(rw, 4096),
		maxField: DefaultMaxField,
		timeout:  timeout,
	}
}

// SetTimeout changes the per-operation I/O deadline. 0 disables it: the next
// operation clears any deadline left by an earlier one and is then bounded
// only by Watch.
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SetMaxField overrides DefaultMaxField.
func (c *Conn) SetMaxField(n int) {
	if n > 1 {
		c.maxField = n
	}
}

// Watch aborts pending and future I/O once ctx is done, provided the
// underlying transport supports deadlines. Call the returned func to stop
// watching.
func (c *Conn) Watch(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		err := context.Cause(ctx)
		c.aborted.Store(&err)
		if d, ok := c.rw.(deadliner); ok {
			_ = d.SetDeadline(time.Unix(1, 0))
		}
	})
}

func (c *Conn) touch() error {
	if err := c.aborted.Load(); err != nil {
		return *err
	}
	d, ok := c.rw.(deadliner)
	if !ok || (c.timeout <= 0 && !c.deadline) {
		return nil
	}
	var t time.Time
	if c.timeout > 0 {
		t = time.Now().Add(c.timeout)
	}
	if err := d.SetDeadline(t); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	c.deadline = c.timeout > 0
	// Lost a race with Watch.
	if err := c.aborted.Load(); err != nil {
		_ = d.SetDeadline(time.Unix(1, 0))
		return *err
	}
	return nil
}

// ReadField reads one bare field.
func (c *Conn) ReadField() (string, error) {
	if err := c.touch(); err != nil {
		return "", err
	}

	if len(c.buf) != c.maxField {
		c.buf = make([]byte, c.maxField)
	}
	buf := c.buf
	for {
		n, err := c.r.Read(buf)
		if n == len(buf) {
			return "", fmt.Errorf("%w: field of %d+ bytes", ErrFrameTooLarge, n)
		}
		if n > 0 {
			return string(buf[:n]), nil
		}
		if err != nil {
			return "", c.cause(err)
		}
	}
}

// ReadInt reads a bare decimal field.
func (c *Conn) ReadInt() (int64, error) {
	field, err := c.ReadField()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected decimal, got %q", ErrMalformedRequest, field)
	}
	return v, nil
}

// WriteField writes s with a single Write.
func (c *Conn) WriteField(s string) error {
	if len(s) >= c.maxField {
		return fmt.Errorf("%w: field of %d bytes", ErrFrameTooLarge, len(s))
	}
	return c.Write([]byte(s))
}

// WriteInt writes v as a bare decimal field.
func (c *Conn) WriteInt(v int64) error {
	return c.WriteField(strconv.FormatInt(v, 10))
}

// Write sends raw bytes.
func (c *Conn) Write(p []byte) error {
	if err := c.touch(); err != nil {
		return err
	}
	if _, err := c.rw.Write(p); err != nil {
		return fmt.Errorf("write: %w", c.cause(err))
	}
	return nil
}

// SendOK acknowledges the last field received.
func (c *Conn) SendOK() error {
	return c.Write([]byte(Ack))
}

// ExpectOK waits for the peer's acknowledgement.
func (c *Conn) ExpectOK() error {
	if err := c.touch(); err != nil {
		return err
	}
	var buf [len(Ack)]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return c.cause(err)
	}
	if string(buf[:]) != Ack {
		return fmt.Errorf("%w: %q", ErrUnexpectedAck, buf[:])
	}
	return nil
}

// ReadExact reads exactly n bytes after checking n against max.
func (c *Conn) ReadExact(n, max int64) ([]byte, error) {
	if n < 0 || n > max {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, n, max)
	}
	if err := c.touch(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, c.cause(err)
	}
	return buf, nil
}

// CopyExact streams exactly n bytes to w, refreshing the deadline per chunk.
func (c *Conn) CopyExact(w io.Writer, n int64) (int64, error) {
	var copied int64
	for copied < n {
		if err := c.touch(); err != nil {
			return copied, err
		}
		step := min(n-copied, copyChunk)
		m, err := io.CopyN(w, c.r, step)
		copied += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return copied, c.cause(err)
		}
	}
	return copied, nil
}

// WriteFrom streams exactly n bytes from r, refreshing the deadline per
// chunk. A reader that ends early yields io.ErrUnexpectedEOF.
func (c *Conn) WriteFrom(r io.Reader, n int64) (int64, error) {
	var sent int64
	for sent < n {
		if err := c.touch(); err != nil {
			return sent, err
		}
		step := min(n-sent, copyChunk)
		m, err := io.CopyN(c.rw, r, step)
		sent += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return sent, c.cause(err)
		}
	}
	return sent, nil
}

// ReadUntil reads up to and including delim. Used for the ';'-terminated
// replies of the control protocol.
func (c *Conn) ReadUntil(delim byte) (string, error) {
	if err := c.touch(); err != nil {
		return "", err
	}
	s, err := c.r.ReadString(delim)
	if err != nil {
		return s, c.cause(err)
	}
	if len(s) > c.maxField {
		return "", fmt.Errorf("%w: reply of %d bytes", ErrFrameTooLarge, len(s))
	}
	return s, nil
}

// cause prefers the watched context's error over the deadline error it
// provoked.
func (c *Conn) cause(err error) error {
	if aborted := c.aborted.Load(); aborted != nil {
		return fmt.Errorf("%w (%v)", *aborted, err)
	}
	return err
}
