package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	for _, section := range []string{
		"# DittoMirror Configuration File",
		"logging:",
		"server:",
		"content:",
		"mirror:",
		"shutdown_timeout: 30s",
		"queue_capacity: 16",
	} {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing %q", section)
		}
	}

	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

// The generated file must load back to the defaults.
func TestInitConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := InitConfigAt(path, false); err != nil {
		t.Fatalf("InitConfigAt failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	def := GetDefaultConfig()
	if cfg.Mirror.Workers != def.Mirror.Workers || cfg.Mirror.QueueCapacity != def.Mirror.QueueCapacity {
		t.Errorf("Mirror pool differs: %+v vs %+v", cfg.Mirror, def.Mirror)
	}
	if cfg.Mirror.DialTimeout != def.Mirror.DialTimeout {
		t.Errorf("Expected dial timeout %v, got %v", def.Mirror.DialTimeout, cfg.Mirror.DialTimeout)
	}
	if cfg.Content.IdleTimeout != def.Content.IdleTimeout {
		t.Errorf("Expected idle timeout %v, got %v", def.Content.IdleTimeout, cfg.Content.IdleTimeout)
	}
	if cfg.Mirror.Output.Filesystem["path"] != "./mirror" {
		t.Errorf("Expected output path './mirror', got %v", cfg.Mirror.Output.Filesystem["path"])
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if err := os.WriteFile(configPath, []byte("# Modified"), 0644); err != nil {
		t.Fatalf("Failed to modify config: %v", err)
	}

	newPath, err := InitConfig(true)
	if err != nil {
		t.Fatalf("Force InitConfig failed: %v", err)
	}
	if newPath != configPath {
		t.Errorf("Expected same path, got different: %s vs %s", configPath, newPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(content), "# DittoMirror Configuration File") {
		t.Error("Config file was not overwritten")
	}
}
