package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
version: "1.0"
system:
  name: "Test System"
  timezone: "Europe/Bucharest"
camera:
  index: 2
  width: 1280
  height: 720
detection:
  enabled: true
  fps: 10
  min_confidence: 0.5
alerts:
  cooldown_seconds: 60
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	if err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.System.Name != "Test System" {
		t.Errorf("Expected name 'Test System', got '%s'", cfg.System.Name)
	}
	if cfg.Camera.Index != 2 {
		t.Errorf("Expected camera index 2, got %d", cfg.Camera.Index)
	}
	if cfg.Camera.Width != 1280 {
		t.Errorf("Expected width 1280, got %d", cfg.Camera.Width)
	}
	if cfg.Detection.FPS != 10 {
		t.Errorf("Expected detection fps 10, got %d", cfg.Detection.FPS)
	}
	if cfg.Alerts.CooldownSeconds != 60 {
		t.Errorf("Expected cooldown 60, got %d", cfg.Alerts.CooldownSeconds)
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent file")
	}
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("version: \"1.0\"\n"), 0o644)
	if err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("Expected default resolution 640x480, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.ProbeRange != 5 {
		t.Errorf("Expected default probe range 5, got %d", cfg.Camera.ProbeRange)
	}
	if cfg.Detection.MaxFrameTimeouts != 10 {
		t.Errorf("Expected default max frame timeouts 10, got %d", cfg.Detection.MaxFrameTimeouts)
	}
	if cfg.IdentityTimeout() != 3*time.Second {
		t.Errorf("Expected default identity timeout 3s, got %v", cfg.IdentityTimeout())
	}
	if cfg.AlertCooldown() != 30*time.Second {
		t.Errorf("Expected default alert cooldown 30s, got %v", cfg.AlertCooldown())
	}
	if cfg.Evidence.AnimalCooldownFactor != 3 {
		t.Errorf("Expected default animal cooldown factor 3, got %d", cfg.Evidence.AnimalCooldownFactor)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := Default()
	cfg.SetPath(configPath)
	cfg.System.Name = "Saved System"
	cfg.Camera.Index = 1

	if err := cfg.Save(); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.System.Name != "Saved System" {
		t.Errorf("Expected name 'Saved System', got '%s'", loaded.System.Name)
	}
	if loaded.Camera.Index != 1 {
		t.Errorf("Expected camera index 1, got %d", loaded.Camera.Index)
	}
}

func TestOnChange(t *testing.T) {
	cfg := Default()

	called := false
	cfg.OnChange(func(*Config) { called = true })

	if len(cfg.watchers) != 1 {
		t.Fatalf("Expected 1 watcher, got %d", len(cfg.watchers))
	}
	cfg.watchers[0](cfg)
	if !called {
		t.Error("Expected watcher callback to run")
	}
}

func TestReloadNotifiesWatchers(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	write := func(level string, cooldown int) {
		content := "system:\n  logging:\n    level: " + level + "\n" +
			"alerts:\n  cooldown_seconds: " + strconv.Itoa(cooldown) + "\n"
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("info", 60)
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var gotLevel string
	var gotCooldown time.Duration
	cfg.OnChange(func(c *Config) {
		gotLevel = c.System.Logging.Level
		gotCooldown = c.AlertCooldown()
	})

	write("debug", 5)
	cfg.reload()

	if gotLevel != "debug" {
		t.Errorf("Watcher saw level %q, want debug", gotLevel)
	}
	if gotCooldown != 5*time.Second {
		t.Errorf("Watcher saw cooldown %v, want 5s", gotCooldown)
	}
}
