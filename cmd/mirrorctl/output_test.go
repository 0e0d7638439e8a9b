package main

import (
	"bytes"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomirror/pkg/client"
)

func TestReadSources(t *testing.T) {
	in := `
# primary mirror
10.0.0.1:9000:/docs:250
[::1]:9001            # everything

localhost:9002:/img
`
	got, err := readSources(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []client.Source{
		{Address: "10.0.0.1", Port: 9000, Filter: "/docs", DelayMillis: 250},
		{Address: "::1", Port: 9001, Filter: "/"},
		{Address: "localhost", Port: 9002, Filter: "/img"},
	}, got)
}

func TestReadSources_ReportsLine(t *testing.T) {
	_, err := readSources(strings.NewReader("a:1\nbroken\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestPrintStats(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printSourceError(&buf, client.SourceError{Address: "10.0.0.9", Port: 9000})
	require.NoError(t, printStats(&buf, &client.Result{
		SourceErrors: []client.SourceError{{Address: "10.0.0.9", Port: 9000}},
		Stats:        client.Stats{Files: 2, Bytes: 400, Mean: 200, Dispersion: 14},
	}))

	out := buf.String()
	assert.Contains(t, out, "ERR 10.0.0.9:9000 unreachable")
	for _, cell := range []string{"400", "200", "14"} {
		assert.Contains(t, out, cell)
	}
}

func TestClientOptions(t *testing.T) {
	fs := flag.NewFlagSet("mirrorctl", flag.ContinueOnError)
	opts := bindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-server", "m:1", "-dial-timeout", "2s"}))

	c := opts.client(io.Discard)
	assert.Equal(t, "m:1", c.Addr)
	assert.Equal(t, 2*time.Second, c.DialTimeout)
	assert.Zero(t, c.IOTimeout, "dial timeout must not bound the exchange")

	fs = flag.NewFlagSet("mirrorctl", flag.ContinueOnError)
	opts = bindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-io-timeout", "3s"}))
	c = opts.client(io.Discard)
	assert.Equal(t, 10*time.Second, c.DialTimeout)
	assert.Equal(t, 3*time.Second, c.IOTimeout)
}
