package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittomirror/internal/protocol"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend option maps get the defaults of every backend, so a generated
//     config file documents all of them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyContentDefaults(&cfg.Content)
	applyMirrorDefaults(&cfg.Mirror)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Handlers == 0 {
		cfg.Handlers = 4
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxField
	}

	if cfg.Requesters.Type == "" {
		cfg.Requesters.Type = "memory"
	}
	if cfg.Requesters.TTL == 0 {
		cfg.Requesters.TTL = 10 * time.Minute
	}
	if cfg.Requesters.Badger == nil {
		cfg.Requesters.Badger = make(map[string]any)
	}
	if _, ok := cfg.Requesters.Badger["index_cache_size_mb"]; !ok {
		cfg.Requesters.Badger["index_cache_size_mb"] = 16
	}
}

func applyMirrorDefaults(cfg *MirrorConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9100
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 16
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = 30 * time.Second
	}

	out := &cfg.Output
	if out.Type == "" {
		out.Type = "filesystem"
	}
	if out.Filesystem == nil {
		out.Filesystem = make(map[string]any)
	}
	if out.S3 == nil {
		out.S3 = make(map[string]any)
	}
	if _, ok := out.Filesystem["path"]; !ok {
		out.Filesystem["path"] = "./mirror"
	}
	if _, ok := out.S3["key_prefix"]; !ok {
		out.S3["key_prefix"] = "mirror/"
	}
	if _, ok := out.S3["max_retries"]; !ok {
		out.S3["max_retries"] = 10
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
