package protocol

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// List runs the enumeration exchange on c and calls fn for every advertised
// path, in the order the server sends them. It returns the advertised count.
//
// If fn returns an error the exchange is abandoned and the connection is
// left mid-protocol; the caller must close it.
func List(ctx context.Context, c *Conn, requesterID, delayMillis int64, fn func(path string) error) (int64, error) {
	defer c.Watch(ctx)()

	if err := c.WriteField(FormatList(requesterID, delayMillis)); err != nil {
		return 0, fmt.Errorf("send list request: %w", err)
	}

	count, err := c.ReadInt()
	if err != nil {
		return 0, fmt.Errorf("read file count: %w", err)
	}
	if count < 0 {
		return 0, fmt.Errorf("%w: negative file count %d", ErrMalformedRequest, count)
	}
	if err := c.SendOK(); err != nil {
		return 0, err
	}

	for i := int64(0); i < count; i++ {
		n, err := c.ReadInt()
		if err != nil {
			return i, fmt.Errorf("read path length %d/%d: %w", i+1, count, err)
		}
		if err := c.SendOK(); err != nil {
			return i, err
		}
		path, err := c.ReadExact(n, DefaultMaxPath)
		if err != nil {
			return i, fmt.Errorf("read path %d/%d: %w", i+1, count, err)
		}
		if err := fn(string(path)); err != nil {
			return i, err
		}
	}

	return count, nil
}

// Fetch requests path on c and streams its bytes to w. Files larger than
// maxSize are refused before any content is transferred; the connection is
// then unusable and must be closed.
//
// The server sleeps the requester's delay before answering, so the wait for
// the length reply is extended by delay when c has a timeout.
func Fetch(ctx context.Context, c *Conn, path string, requesterID int64, delay time.Duration, w io.Writer, maxSize int64) (int64, error) {
	defer c.Watch(ctx)()

	if err := c.WriteField(FormatFetch(path, requesterID)); err != nil {
		return 0, fmt.Errorf("send fetch request: %w", err)
	}

	timeout := c.timeout
	if timeout > 0 && delay > 0 {
		c.timeout = timeout + delay
	}
	field, err := c.ReadField()
	c.timeout = timeout
	if err != nil {
		return 0, fmt.Errorf("read file length: %w", err)
	}
	if strings.HasPrefix(field, replyError+fieldSep) {
		return 0, fmt.Errorf("%w: %s", ErrRemote, strings.TrimSuffix(field, replyEnd))
	}

	size, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: bad file length %q", ErrMalformedRequest, field)
	}
	if maxSize > 0 && size > maxSize {
		return 0, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFrameTooLarge, path, size, maxSize)
	}

	if err := c.SendOK(); err != nil {
		return 0, err
	}

	n, err := c.CopyExact(w, size)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}
