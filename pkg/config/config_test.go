package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittomirror/internal/logger"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: "info"

content:
  root: "/srv/share"

mirror:
  workers: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Content.Root != "/srv/share" {
		t.Errorf("Expected root '/srv/share', got %q", cfg.Content.Root)
	}
	if cfg.Content.Port != 9000 {
		t.Errorf("Expected default content port 9000, got %d", cfg.Content.Port)
	}
	if cfg.Mirror.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Mirror.Workers)
	}
	if cfg.Mirror.QueueCapacity != 16 {
		t.Errorf("Expected default queue capacity 16, got %d", cfg.Mirror.QueueCapacity)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Mirror.Output.Type != "filesystem" {
		t.Errorf("Expected default output type 'filesystem', got %q", cfg.Mirror.Output.Type)
	}
	if cfg.Content.Requesters.Type != "memory" {
		t.Errorf("Expected default requesters type 'memory', got %q", cfg.Content.Requesters.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
content:
  requesters:
    type: redis
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation error for unknown requesters type")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[mirror]
search = true
io_timeout = "5s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if !cfg.Mirror.Search {
		t.Error("Expected search mode enabled")
	}
	if cfg.Mirror.IOTimeout != 5*time.Second {
		t.Errorf("Expected io_timeout 5s, got %v", cfg.Mirror.IOTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mirror:
  workers: 2
`)
	t.Setenv("DITTOMIRROR_MIRROR_WORKERS", "6")
	t.Setenv("DITTOMIRROR_LOGGING_LEVEL", "debug")
	t.Setenv("DITTOMIRROR_CONTENT_HANDLERS", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Mirror.Workers != 6 {
		t.Errorf("Expected env to override workers to 6, got %d", cfg.Mirror.Workers)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Content.Handlers != 12 {
		t.Errorf("Expected 12 handlers, got %d", cfg.Content.Handlers)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if got := GetDefaultConfigPath(); got != "/xdg/dittomirror/config.yaml" {
		t.Errorf("Expected '/xdg/dittomirror/config.yaml', got %q", got)
	}
	if filepath.Base(GetConfigDir()) != "dittomirror" {
		t.Errorf("Expected directory name 'dittomirror', got %q", GetConfigDir())
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh directory")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestConfigureLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.log")
	t.Cleanup(func() {
		_ = ConfigureLogging(&LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"})
	})

	if err := ConfigureLogging(&LoggingConfig{Level: "DEBUG", Format: "json", Output: path}); err != nil {
		t.Fatalf("ConfigureLogging failed: %v", err)
	}
	logger.Debug("session %d started", 7)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"session 7 started"`) {
		t.Errorf("Expected JSON debug line in log file, got %q", data)
	}
}

func TestConfigureLogging_BadOutput(t *testing.T) {
	err := ConfigureLogging(&LoggingConfig{Level: "INFO", Format: "text", Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Fatal("Expected error for unwritable log path")
	}
}
