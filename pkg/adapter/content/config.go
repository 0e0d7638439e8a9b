package content

import (
	"fmt"
	"time"

	"github.com/marmos91/dittomirror/internal/protocol"
)

// Config holds the content server settings.
//
// Zero values are replaced by applyDefaults:
//   - Port: 9000
//   - Handlers: 4
//   - IOTimeout: 30s
//   - IdleTimeout: 5m
//   - ShutdownTimeout: 30s
//   - MaxFrameSize: protocol.DefaultMaxField
type Config struct {
	// Port to listen on. Use -1 to bind any free port (tests).
	Port int `mapstructure:"port" validate:"min=-1,max=65535"`

	// Root is the directory tree being served.
	Root string `mapstructure:"root" validate:"required"`

	// Handlers is the fixed handler pool size. It is also the capacity of
	// the accept queue, so at most 2*Handlers connections are held at once
	// and further accepts wait.
	Handlers int `mapstructure:"handlers" validate:"min=0,max=4096"`

	// IOTimeout bounds each read or write inside an exchange.
	IOTimeout time.Duration `mapstructure:"io_timeout" validate:"min=0"`

	// IdleTimeout bounds the wait for the next request on a connection.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for in-flight connections
	// before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxFrameSize bounds a request line.
	MaxFrameSize int `mapstructure:"max_frame_size" validate:"min=0"`

	// RateLimit throttles FETCH requests per requester.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-requester token buckets. A zero rate
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.Handlers <= 0 {
		c.Handlers = 4
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = protocol.DefaultMaxField
	}
}

func (c *Config) validate() error {
	if c.Port < -1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Root == "" {
		return fmt.Errorf("root directory is required")
	}
	if c.IOTimeout < 0 || c.IdleTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	if c.MaxFrameSize < 64 {
		return fmt.Errorf("invalid MaxFrameSize %d: must be >= 64", c.MaxFrameSize)
	}
	return nil
}
