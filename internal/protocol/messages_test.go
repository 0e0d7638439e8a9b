package protocol

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Request
		wantErr bool
	}{
		{
			name: "list",
			line: "LIST:42:250",
			want: Request{Op: OpList, RequesterID: 42, DelayMillis: 250},
		},
		{
			name: "list with trailing newline",
			line: "LIST:1:0\r\n",
			want: Request{Op: OpList, RequesterID: 1},
		},
		{
			name: "fetch",
			line: "FETCH:/a/b.txt:7",
			want: Request{Op: OpFetch, Path: "/a/b.txt", RequesterID: 7},
		},
		{
			name: "fetch path containing colons",
			line: "FETCH:/logs/12:30:00.log:9",
			want: Request{Op: OpFetch, Path: "/logs/12:30:00.log", RequesterID: 9},
		},
		{
			name: "list huge delay clamped",
			line: "LIST:2:9223372036854775807",
			want: Request{Op: OpList, RequesterID: 2, DelayMillis: MaxDelayMillis},
		},
		{name: "no separator", line: "LIST", wantErr: true},
		{name: "list missing delay", line: "LIST:3", wantErr: true},
		{name: "list bad id", line: "LIST:x:1", wantErr: true},
		{name: "list negative delay", line: "LIST:1:-5", wantErr: true},
		{name: "fetch missing id", line: "FETCH:/a", wantErr: true},
		{name: "fetch empty path", line: "FETCH::4", wantErr: true},
		{name: "unknown op", line: "DELETE:/a:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDelay(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Delay(250))
	assert.Zero(t, Delay(-10))
	assert.Equal(t, 24*time.Hour, Delay(math.MaxInt64))
	assert.Positive(t, Delay(math.MaxInt64/1000))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "LIST:5:100", FormatList(5, 100))
	assert.Equal(t, "FETCH:/x/y:5", FormatFetch("/x/y", 5))
	assert.Equal(t, "ERR:/x/y;", FormatFetchError("/x/y"))
	assert.Equal(t, "ERR:10.0.0.1:9000;", FormatSourceError("10.0.0.1", 9000))
	assert.Equal(t, "OK:2:400:200:14;", FormatStats(2, 400, 200, 14))
}

func TestParseReply(t *testing.T) {
	r, err := ParseReply("ERR:host.example:9000;")
	require.NoError(t, err)
	require.NotNil(t, r.Err)
	assert.Nil(t, r.Stats)
	assert.Equal(t, SourceError{Address: "host.example", Port: 9000}, *r.Err)

	r, err = ParseReply("OK:2:400:200:14;")
	require.NoError(t, err)
	require.NotNil(t, r.Stats)
	assert.Equal(t, Stats{Files: 2, Bytes: 400, Mean: 200, Dispersion: 14}, *r.Stats)

	for _, bad := range []string{"OK:1:2:3", "OK:1:2:3;", "ERR:host;", "NOPE;", "OK:a:b:c:d;"} {
		_, err := ParseReply(bad)
		assert.ErrorIs(t, err, ErrMalformedRequest, bad)
	}
}
