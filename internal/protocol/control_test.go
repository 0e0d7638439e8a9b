package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesExchange(t *testing.T) {
	client, server := pipe(t)

	sent := []Source{
		{Address: "127.0.0.1", Port: 9000, Filter: "/docs", DelayMillis: 20},
		{Address: "content.local", Port: 9001, Filter: "", DelayMillis: 0},
	}

	errc := make(chan error, 1)
	go func() { errc <- WriteSources(context.Background(), client, sent) }()

	got, err := ReadSources(server)
	require.NoError(t, err)
	require.NoError(t, <-errc)

	require.Len(t, got, 2)
	assert.Equal(t, sent[0], got[0])
	assert.Equal(t, Source{Address: "content.local", Port: 9001, Filter: "/"}, got[1])
}

func TestReadSources_LenientFields(t *testing.T) {
	client, server := pipe(t)

	go func() {
		fields := []string{"1", "host", "not-a-port", "/x", "soon"}
		for _, f := range fields {
			if client.WriteField(f) != nil || client.ExpectOK() != nil {
				return
			}
		}
	}()

	got, err := ReadSources(server)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Source{Address: "host", Port: 0, Filter: "/x", DelayMillis: 0}, got[0])
}

func TestReadSources_ClampsDelay(t *testing.T) {
	client, server := pipe(t)

	go func() {
		fields := []string{"1", "host", "9000", "/", "9223372036854775807"}
		for _, f := range fields {
			if client.WriteField(f) != nil || client.ExpectOK() != nil {
				return
			}
		}
	}()

	got, err := ReadSources(server)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, MaxDelayMillis, got[0].DelayMillis)
}

func TestReadSources_RejectsBadCount(t *testing.T) {
	client, server := pipe(t)
	go func() { _ = client.WriteField("-3") }()

	_, err := ReadSources(server)
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestReadReplies(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = server.Write([]byte(FormatSourceError("10.1.1.1", 9000)))
		_ = server.Write([]byte(FormatSourceError("10.1.1.2", 9002)))
		_ = server.Write([]byte(FormatStats(2, 400, 200, 14)))
	}()

	var errs []SourceError
	stats, err := ReadReplies(context.Background(), client, func(e SourceError) {
		errs = append(errs, e)
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Bytes: 400, Mean: 200, Dispersion: 14}, stats)
	assert.Equal(t, []SourceError{{"10.1.1.1", 9000}, {"10.1.1.2", 9002}}, errs)
}
