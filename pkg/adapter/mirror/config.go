package mirror

import (
	"fmt"
	"time"
)

// Config holds the mirror server settings.
//
// Zero values are replaced by applyDefaults:
//   - Port: 9100
//   - Workers: 4
//   - QueueCapacity: 16
//   - DialTimeout: 5s
//   - IOTimeout: 30s
//   - ShutdownTimeout: 30s
type Config struct {
	// Port to listen on for control connections. Use -1 to bind any free
	// port (tests).
	Port int `mapstructure:"port" validate:"min=-1,max=65535"`

	// Workers is the size of the download pool. The pool lives as long as
	// the server and is shared by every session.
	Workers int `mapstructure:"workers" validate:"min=0,max=1024"`

	// QueueCapacity bounds the match records waiting for a worker. Source
	// managers block while it is full.
	QueueCapacity int `mapstructure:"queue_capacity" validate:"min=0"`

	// Search selects substring matching of source filters instead of
	// prefix matching. Fixed for the life of the server.
	Search bool `mapstructure:"search"`

	// DialTimeout bounds each connection attempt to a content server.
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"min=0"`

	// IOTimeout bounds each read or write on control and content
	// connections.
	IOTimeout time.Duration `mapstructure:"io_timeout" validate:"min=0"`

	// MaxFileSize refuses downloads announced larger than this. 0 means no
	// limit.
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for the running session and
	// the workers before force-closing connections.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// FetchRateLimit throttles downloads per content server.
	FetchRateLimit RateLimitConfig `mapstructure:"fetch_rate_limit"`
}

// RateLimitConfig configures per-source token buckets. A zero rate disables
// limiting.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// MatchMode returns the filter predicate selected by Search.
func (c *Config) MatchMode() MatchMode {
	if c.Search {
		return Contains
	}
	return Prefix
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 9100
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 16
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Port < -1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Workers > 1024 {
		return fmt.Errorf("invalid Workers %d: must be <= 1024", c.Workers)
	}
	if c.DialTimeout < 0 || c.IOTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("invalid MaxFileSize %d: must be >= 0", c.MaxFileSize)
	}
	return nil
}
