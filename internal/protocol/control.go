package protocol

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MaxSources bounds the source count a client may declare for one session.
const MaxSources = 1024

// Source is one content server named by a mirror client.
type Source struct {
	Address     string
	Port        int
	Filter      string
	DelayMillis int64
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// ReadSources is the mirror server half of the source exchange: a count,
// then four acknowledged fields per source.
//
// A port that does not parse is kept as 0 so the source still gets its own
// ERR line; a delay that does not parse becomes 0 and a huge one is clamped
// to MaxDelayMillis.
func ReadSources(c *Conn) ([]Source, error) {
	count, err := c.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("read source count: %w", err)
	}
	if count < 0 || count > MaxSources {
		return nil, fmt.Errorf("%w: source count %d", ErrMalformedRequest, count)
	}
	if err := c.SendOK(); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, count)
	for i := int64(0); i < count; i++ {
		var fields [4]string
		for j := range fields {
			f, err := c.ReadField()
			if err != nil {
				return nil, fmt.Errorf("read source %d field %d: %w", i+1, j+1, err)
			}
			if err := c.SendOK(); err != nil {
				return nil, err
			}
			fields[j] = strings.TrimSpace(f)
		}

		port, err := strconv.Atoi(fields[1])
		if err != nil || port < 0 || port > 65535 {
			port = 0
		}
		delay, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			delay = 0
		}

		sources = append(sources, Source{
			Address:     fields[0],
			Port:        port,
			Filter:      fields[2],
			DelayMillis: ClampDelay(delay),
		})
	}
	return sources, nil
}

// WriteSources is the client half of the source exchange. Fields are never
// empty on the wire: an empty filter is sent as "/", which every advertised
// path starts with.
func WriteSources(ctx context.Context, c *Conn, sources []Source) error {
	defer c.Watch(ctx)()

	if len(sources) > MaxSources {
		return fmt.Errorf("%d sources exceed the limit of %d", len(sources), MaxSources)
	}

	if err := c.WriteInt(int64(len(sources))); err != nil {
		return err
	}
	if err := c.ExpectOK(); err != nil {
		return fmt.Errorf("source count: %w", err)
	}

	for _, s := range sources {
		if s.Address == "" {
			return fmt.Errorf("%w: empty address", ErrMalformedRequest)
		}
		filter := s.Filter
		if filter == "" {
			filter = "/"
		}
		fields := []string{
			s.Address,
			strconv.Itoa(s.Port),
			filter,
			strconv.FormatInt(s.DelayMillis, 10),
		}
		for _, f := range fields {
			if err := c.WriteField(f); err != nil {
				return fmt.Errorf("source %s: %w", s, err)
			}
			if err := c.ExpectOK(); err != nil {
				return fmt.Errorf("source %s: %w", s, err)
			}
		}
	}
	return nil
}

// ReadReplies reads ';'-terminated replies until the final statistics line.
// onError is called for each ERR line as it arrives.
func ReadReplies(ctx context.Context, c *Conn, onError func(SourceError)) (Stats, error) {
	defer c.Watch(ctx)()

	for {
		line, err := c.ReadUntil(replyEnd[0])
		if err != nil {
			return Stats{}, fmt.Errorf("read reply: %w", err)
		}
		reply, err := ParseReply(line)
		if err != nil {
			return Stats{}, err
		}
		if reply.Err != nil {
			if onError != nil {
				onError(*reply.Err)
			}
			continue
		}
		return *reply.Stats, nil
	}
}
