// Command mirrorctl runs one mirroring session against a mirror server.
//
// Usage:
//
//	mirrorctl -server host:port [-sources file] address:port[:filter[:delay]] ...
//
// Each unreachable source is printed as an ERR line, followed by a table of
// the session totals.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/marmos91/dittomirror/pkg/client"
)

func main() {
	opts := bindFlags(flag.CommandLine)
	sourcesFile := flag.String("sources", "", "File with one source per line (# starts a comment)")
	timeout := flag.Duration("timeout", 0, "Give up on the session after this long (0 = wait forever)")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] address:port[:filter[:delay]] ...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	var sources []client.Source
	if *sourcesFile != "" {
		f, err := os.Open(*sourcesFile)
		if err != nil {
			fatalf("open sources file: %v", err)
		}
		fromFile, err := readSources(f)
		_ = f.Close()
		if err != nil {
			fatalf("%s: %v", *sourcesFile, err)
		}
		sources = append(sources, fromFile...)
	}
	for _, arg := range flag.Args() {
		src, err := client.ParseSource(arg)
		if err != nil {
			fatalf("%v", err)
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if *timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *timeout)
		defer stop()
	}

	res, err := opts.client(os.Stdout).Mirror(ctx, sources)
	if err != nil {
		fatalf("session failed: %v", err)
	}
	if err := printStats(os.Stdout, res); err != nil {
		fatalf("render stats: %v", err)
	}
}

// clientOptions are the flags that shape the connection to the mirror server.
type clientOptions struct {
	server      string
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

func bindFlags(fs *flag.FlagSet) *clientOptions {
	o := &clientOptions{}
	fs.StringVar(&o.server, "server", "127.0.0.1:9100", "Mirror server control address")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for connecting to the mirror server")
	fs.DurationVar(&o.ioTimeout, "io-timeout", 0, "Timeout for each step of sending the sources (0 = none)")
	return o
}

func (o *clientOptions) client(out io.Writer) *client.Client {
	return &client.Client{
		Addr:        o.server,
		DialTimeout: o.dialTimeout,
		IOTimeout:   o.ioTimeout,
		OnSourceError: func(e client.SourceError) {
			printSourceError(out, e)
		},
	}
}

func fatalf(format string, args ...any) {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
