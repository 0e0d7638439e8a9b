// Package client talks to a mirror server over the control protocol.
package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittomirror/internal/protocol"
)

type (
	// Source names a content server, the filter applied to its paths and
	// the delay it should add before each fetch.
	Source = protocol.Source

	// SourceError names a content server the mirror server could not reach.
	SourceError = protocol.SourceError

	// Stats are the session totals reported by the mirror server.
	Stats = protocol.Stats
)

// Result is the outcome of one mirroring session.
type Result struct {
	SourceErrors []SourceError
	Stats        Stats
}

// Client runs sessions against one mirror server.
type Client struct {
	// Addr is the mirror server's host:port.
	Addr string

	// DialTimeout bounds the connection attempt. 0 means 10s.
	DialTimeout time.Duration

	// IOTimeout bounds each step of the source exchange. The wait for the
	// final reply is bounded only by the context.
	IOTimeout time.Duration

	// OnSourceError, if set, is called as each ERR line arrives.
	OnSourceError func(SourceError)
}

// Mirror runs one session on the mirror server at addr.
func Mirror(ctx context.Context, addr string, sources []Source) (*Result, error) {
	return (&Client{Addr: addr}).Mirror(ctx, sources)
}

// Mirror sends sources and waits for the session to finish.
func (c *Client) Mirror(ctx context.Context, sources []Source) (*Result, error) {
	dialTimeout := c.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect to mirror server %s: %w", c.Addr, err)
	}
	defer func() { _ = conn.Close() }()

	pc := protocol.NewConn(conn, c.IOTimeout)
	if err := protocol.WriteSources(ctx, pc, sources); err != nil {
		return nil, fmt.Errorf("send sources: %w", err)
	}

	res := &Result{}
	pc.SetTimeout(0)
	stats, err := protocol.ReadReplies(ctx, pc, func(e SourceError) {
		res.SourceErrors = append(res.SourceErrors, e)
		if c.OnSourceError != nil {
			c.OnSourceError(e)
		}
	})
	if err != nil {
		return res, err
	}
	res.Stats = stats
	return res, nil
}

// ParseSource parses `address:port[:filter[:delayMillis]]`. IPv6 addresses
// go in brackets. The filter may itself contain ':'; a trailing field is
// taken as the delay only if it is a number.
func ParseSource(s string) (Source, error) {
	var host, rest string
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return Source{}, fmt.Errorf("source %q: unterminated IPv6 address", s)
		}
		host = s[1:end]
		rest = strings.TrimPrefix(s[end+1:], ":")
	} else {
		var ok bool
		host, rest, ok = strings.Cut(s, ":")
		if !ok {
			return Source{}, fmt.Errorf("source %q: expected address:port", s)
		}
	}
	if host == "" {
		return Source{}, fmt.Errorf("source %q: empty address", s)
	}

	portStr, rest, _ := strings.Cut(rest, ":")
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Source{}, fmt.Errorf("source %q: invalid port %q", s, portStr)
	}

	src := Source{Address: host, Port: port, Filter: rest}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		if delay, err := strconv.ParseInt(rest[i+1:], 10, 64); err == nil && delay >= 0 {
			src.Filter = rest[:i]
			src.DelayMillis = delay
		}
	}
	if src.Filter == "" {
		src.Filter = "/"
	}
	return src, nil
}
