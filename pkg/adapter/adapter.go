// Package adapter defines the contract shared by the network servers that
// pkg/server runs: the content server and the mirror server.
package adapter

import (
	"context"
	"net"
)

// Adapter is a network server with a managed lifecycle.
//
// Lifecycle:
//  1. Creation (content.New, mirror.New)
//  2. Serve(ctx) blocks; listen failures are returned immediately
//  3. Stop(ctx) or ctx cancellation starts a graceful shutdown
//
// Implementations must make Stop safe to call more than once and concurrently
// with Serve.
type Adapter interface {
	// Serve listens and handles connections until ctx is cancelled or Stop
	// is called. It returns nil after a graceful shutdown.
	Serve(ctx context.Context) error

	// Stop initiates shutdown and waits for in-flight work up to ctx's
	// deadline.
	Stop(ctx context.Context) error

	// Protocol names the adapter in logs ("CONTENT", "MIRROR").
	Protocol() string

	// Port returns the configured TCP port (0 means any free port).
	Port() int

	// Addr returns the bound address once Serve is listening, else nil.
	Addr() net.Addr
}
