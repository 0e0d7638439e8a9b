package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoMirror configuration.
//
// One file configures both binaries: contentserver reads the content
// section, mirrorserver the mirror section. Logging and server settings are
// shared.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOMIRROR_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Backend selection follows a type + options pattern: content.requesters
// and mirror.output name a backend in Type and carry per-backend option
// maps, decoded by the factory of the selected backend only.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Content configures the content server
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Mirror configures the mirror server
	Mirror MirrorConfig `mapstructure:"mirror" yaml:"mirror"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// RateLimitConfig configures token buckets. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             uint `mapstructure:"burst" yaml:"burst"`
}

// ContentConfig configures the content server.
type ContentConfig struct {
	// Port to listen on
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// Root is the directory tree being served
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// Handlers is the handler pool size and accept queue capacity
	Handlers int `mapstructure:"handlers" yaml:"handlers" validate:"gt=0,max=4096"`

	// IOTimeout bounds each read or write inside an exchange
	IOTimeout time.Duration `mapstructure:"io_timeout" yaml:"io_timeout" validate:"gt=0"`

	// IdleTimeout bounds the wait for the next request on a connection
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`

	// MaxFrameSize bounds a request line in bytes
	MaxFrameSize int `mapstructure:"max_frame_size" yaml:"max_frame_size" validate:"min=64"`

	// RateLimit throttles FETCH requests per requester
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Requesters selects where announced requester delays are kept
	Requesters RequestersConfig `mapstructure:"requesters" yaml:"requesters"`
}

// RequestersConfig selects the requester registry backend.
type RequestersConfig struct {
	// Type specifies which registry implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// TTL after which an announced delay is forgotten
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`

	// Badger contains BadgerDB-specific options
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// MirrorConfig configures the mirror server.
type MirrorConfig struct {
	// Port to listen on for control connections
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// Workers is the download pool size
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gt=0,max=1024"`

	// QueueCapacity bounds match records waiting for a worker
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity" validate:"gt=0"`

	// Search selects substring matching instead of prefix matching
	Search bool `mapstructure:"search" yaml:"search"`

	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`
	IOTimeout   time.Duration `mapstructure:"io_timeout" yaml:"io_timeout" validate:"gt=0"`

	// MaxFileSize refuses larger downloads (0 = no limit)
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size" validate:"min=0"`

	// FetchRateLimit throttles downloads per content server
	FetchRateLimit RateLimitConfig `mapstructure:"fetch_rate_limit" yaml:"fetch_rate_limit"`

	// Output selects where fetched files are written
	Output OutputConfig `mapstructure:"output" yaml:"output"`
}

// OutputConfig selects the output sink.
//
// The Type field determines which sink is used. Only the corresponding
// type-specific section is read.
type OutputConfig struct {
	// Type specifies which sink implementation to use
	// Valid values: filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem s3"`

	// Filesystem contains filesystem-specific options
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// S3 contains S3-specific options
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMIRROR_*)
//  2. Configuration file
//  3. Default values
//
// A missing config file is not an error. An empty configPath searches the
// default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOMIRROR_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so
	// register every scalar key.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.shutdown_timeout", "server.metrics.enabled", "server.metrics.port",
	"content.port", "content.root", "content.handlers", "content.io_timeout",
	"content.idle_timeout", "content.max_frame_size",
	"content.rate_limit.requests_per_second", "content.rate_limit.burst",
	"content.requesters.type", "content.requesters.ttl",
	"mirror.port", "mirror.workers", "mirror.queue_capacity", "mirror.search",
	"mirror.dial_timeout", "mirror.io_timeout", "mirror.max_file_size",
	"mirror.fetch_rate_limit.requests_per_second", "mirror.fetch_rate_limit.burst",
	"mirror.output.type",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is treated the same way.
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomirror")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittomirror")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
