package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Operation names understood by the content server.
const (
	OpList  = "LIST"
	OpFetch = "FETCH"
)

// MaxDelayMillis caps a requester delay. Larger values are clamped.
const MaxDelayMillis = int64(24 * time.Hour / time.Millisecond)

// ClampDelay bounds a delay to [0, MaxDelayMillis].
func ClampDelay(millis int64) int64 {
	return min(max(millis, 0), MaxDelayMillis)
}

// Delay converts millis to a Duration after clamping.
func Delay(millis int64) time.Duration {
	return time.Duration(ClampDelay(millis)) * time.Millisecond
}

const (
	fieldSep   = ":"
	replyEnd   = ";"
	replyOK    = "OK"
	replyError = "ERR"
)

// Request is a parsed content-server request line.
type Request struct {
	Op          string
	RequesterID int64
	DelayMillis int64  // LIST only
	Path        string // FETCH only
}

// FormatList builds `LIST:<requesterId>:<delayMillis>`.
func FormatList(requesterID, delayMillis int64) string {
	return fmt.Sprintf("%s:%d:%d", OpList, requesterID, delayMillis)
}

// FormatFetch builds `FETCH:<path>:<requesterId>`. The path may itself
// contain ':'; the requester ID is always the last field.
func FormatFetch(path string, requesterID int64) string {
	return fmt.Sprintf("%s:%s:%d", OpFetch, path, requesterID)
}

// ParseRequest parses a LIST or FETCH request line.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\r\n")

	op, rest, ok := strings.Cut(line, fieldSep)
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
	}

	switch op {
	case OpList:
		idStr, delayStr, ok := strings.Cut(rest, fieldSep)
		if !ok {
			return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return Request{}, fmt.Errorf("%w: bad requester id %q", ErrMalformedRequest, idStr)
		}
		delay, err := strconv.ParseInt(delayStr, 10, 64)
		if err != nil || delay < 0 {
			return Request{}, fmt.Errorf("%w: bad delay %q", ErrMalformedRequest, delayStr)
		}
		return Request{Op: OpList, RequesterID: id, DelayMillis: ClampDelay(delay)}, nil

	case OpFetch:
		i := strings.LastIndex(rest, fieldSep)
		if i <= 0 {
			return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
		}
		id, err := strconv.ParseInt(rest[i+1:], 10, 64)
		if err != nil {
			return Request{}, fmt.Errorf("%w: bad requester id %q", ErrMalformedRequest, rest[i+1:])
		}
		return Request{Op: OpFetch, Path: rest[:i], RequesterID: id}, nil

	default:
		return Request{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedRequest, op)
	}
}

// FormatFetchError is the content server's reply to an unservable FETCH.
func FormatFetchError(path string) string {
	return replyError + fieldSep + path + replyEnd
}

// FormatSourceError builds `ERR:<address>:<port>;`.
func FormatSourceError(address string, port int) string {
	return fmt.Sprintf("%s:%s:%d%s", replyError, address, port, replyEnd)
}

// FormatStats builds `OK:<files>:<bytes>:<mean>:<dispersion>;`.
func FormatStats(files, bytes, mean, dispersion int64) string {
	return fmt.Sprintf("%s:%d:%d:%d:%d%s", replyOK, files, bytes, mean, dispersion, replyEnd)
}

// Reply is one ';'-terminated message sent by the mirror server at the end
// of a session.
type Reply struct {
	// Err is set for `ERR:<address>:<port>;`.
	Err *SourceError

	// Stats is set for `OK:...;`.
	Stats *Stats
}

// SourceError names a content server the mirror server could not reach.
type SourceError struct {
	Address string
	Port    int
}

func (e SourceError) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// Stats are the aggregate figures of one mirroring session.
type Stats struct {
	Files      int64
	Bytes      int64
	Mean       int64
	Dispersion int64
}

// ParseReply parses a single reply including its trailing ';'.
func ParseReply(s string) (Reply, error) {
	s = strings.TrimSpace(s)
	body, ok := strings.CutSuffix(s, replyEnd)
	if !ok {
		return Reply{}, fmt.Errorf("%w: unterminated reply %q", ErrMalformedRequest, s)
	}

	kind, rest, _ := strings.Cut(body, fieldSep)
	switch kind {
	case replyError:
		i := strings.LastIndex(rest, fieldSep)
		if i < 0 {
			return Reply{}, fmt.Errorf("%w: %q", ErrMalformedRequest, s)
		}
		port, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad port in %q", ErrMalformedRequest, s)
		}
		return Reply{Err: &SourceError{Address: rest[:i], Port: port}}, nil

	case replyOK:
		parts := strings.Split(rest, fieldSep)
		if len(parts) != 4 {
			return Reply{}, fmt.Errorf("%w: %q", ErrMalformedRequest, s)
		}
		var vals [4]int64
		for i, p := range parts {
			v, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return Reply{}, fmt.Errorf("%w: bad number %q in %q", ErrMalformedRequest, p, s)
			}
			vals[i] = v
		}
		return Reply{Stats: &Stats{Files: vals[0], Bytes: vals[1], Mean: vals[2], Dispersion: vals[3]}}, nil

	default:
		return Reply{}, fmt.Errorf("%w: unknown reply %q", ErrMalformedRequest, s)
	}
}
