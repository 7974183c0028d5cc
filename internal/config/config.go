// Package config provides configuration management for the security system
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main system configuration
type Config struct {
	Version   string          `yaml:"version"`
	System    SystemConfig    `yaml:"system"`
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Identity  IdentityConfig  `yaml:"identity"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	Hardware  HardwareConfig  `yaml:"hardware"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name     string        `yaml:"name"`
	DataPath string        `yaml:"data_path"`
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CameraConfig holds capture device settings
type CameraConfig struct {
	Index      int `yaml:"index"`
	Width      int `yaml:"width"`
	Height     int `yaml:"height"`
	FPS        int `yaml:"fps"`
	ProbeRange int `yaml:"probe_range"` // device indices tried when the configured one fails
}

// DetectionConfig holds the object detection pipeline settings
type DetectionConfig struct {
	Enabled          bool    `yaml:"enabled"`
	FPS              int     `yaml:"fps"` // target classification cadence, independent of capture rate
	ModelPath        string  `yaml:"model_path"`
	ModelConfigPath  string  `yaml:"model_config_path"`
	MinConfidence    float64 `yaml:"min_confidence"`
	FrameTimeoutMS   int     `yaml:"frame_timeout_ms"`
	MaxFrameTimeouts int     `yaml:"max_frame_timeouts"` // consecutive timeouts before the camera is considered lost
}

// IdentityConfig holds the face identity classifier settings
type IdentityConfig struct {
	Enabled        bool    `yaml:"enabled"`
	DetectorPath   string  `yaml:"detector_path"`
	EmbedderPath   string  `yaml:"embedder_path"`
	DatabasePath   string  `yaml:"database_path"`
	Tolerance      float64 `yaml:"tolerance"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	CacheSize      int     `yaml:"cache_size"`
}

// AlertsConfig holds alert dispatch and notification settings
type AlertsConfig struct {
	CooldownSeconds int            `yaml:"cooldown_seconds"`
	Telegram        TelegramConfig `yaml:"telegram"`
	ShoutrrrURLs    []string       `yaml:"shoutrrr_urls"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled bool    `yaml:"enabled"`
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
}

// EvidenceConfig holds snapshot persistence settings
type EvidenceConfig struct {
	Dir                  string `yaml:"dir"`
	CooldownSeconds      int    `yaml:"cooldown_seconds"`
	AnimalCooldownFactor int    `yaml:"animal_cooldown_factor"`
	RetentionDays        int    `yaml:"retention_days"`
	MaxSnapshots         int    `yaml:"max_snapshots"`
	SweepIntervalMinutes int    `yaml:"sweep_interval_minutes"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BusConfig holds embedded event bus settings
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HardwareConfig holds hardware indicator panel settings
type HardwareConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, without
// reading any file. Used when no config file exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Vigil Security System Configuration\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Camera = newCfg.Camera
	c.Detection = newCfg.Detection
	c.Identity = newCfg.Identity
	c.Alerts = newCfg.Alerts
	c.Evidence = newCfg.Evidence
	c.Server = newCfg.Server
	c.Bus = newCfg.Bus
	c.Hardware = newCfg.Hardware
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// SetPath sets the config file path
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// AlertCooldown returns the minimum spacing between alert deliveries
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownSeconds) * time.Second
}

// IdentityTimeout returns the hard deadline for an identity check
func (c *Config) IdentityTimeout() time.Duration {
	return time.Duration(c.Identity.TimeoutSeconds) * time.Second
}

// FrameTimeout returns the per-iteration frame wait used by the scheduler
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.Detection.FrameTimeoutMS) * time.Millisecond
}

// setDefaults fills in default values for missing fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "Vigil Security System"
	}
	if c.System.DataPath == "" {
		c.System.DataPath = "data"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = 15
	}
	if c.Camera.ProbeRange == 0 {
		c.Camera.ProbeRange = 5
	}
	if c.Detection.FPS == 0 {
		c.Detection.FPS = 5
	}
	if c.Detection.MinConfidence == 0 {
		c.Detection.MinConfidence = 0.6
	}
	if c.Detection.FrameTimeoutMS == 0 {
		c.Detection.FrameTimeoutMS = 500
	}
	if c.Detection.MaxFrameTimeouts == 0 {
		c.Detection.MaxFrameTimeouts = 10
	}
	if c.Identity.Tolerance == 0 {
		c.Identity.Tolerance = 0.6
	}
	if c.Identity.TimeoutSeconds == 0 {
		c.Identity.TimeoutSeconds = 3
	}
	if c.Identity.CacheSize == 0 {
		c.Identity.CacheSize = 5
	}
	if c.Alerts.CooldownSeconds == 0 {
		c.Alerts.CooldownSeconds = 30
	}
	if c.Evidence.Dir == "" {
		c.Evidence.Dir = "snapshots"
	}
	if c.Evidence.CooldownSeconds == 0 {
		c.Evidence.CooldownSeconds = 10
	}
	if c.Evidence.AnimalCooldownFactor == 0 {
		c.Evidence.AnimalCooldownFactor = 3
	}
	if c.Evidence.RetentionDays == 0 {
		c.Evidence.RetentionDays = 7
	}
	if c.Evidence.MaxSnapshots == 0 {
		c.Evidence.MaxSnapshots = 100
	}
	if c.Evidence.SweepIntervalMinutes == 0 {
		c.Evidence.SweepIntervalMinutes = 60
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 12021
	}
}

// applyEnvOverrides lets deployment environments inject secrets without
// writing them to the config file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VIGIL_TELEGRAM_TOKEN"); v != "" {
		c.Alerts.Telegram.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.System.Logging.Level = v
	}
}
