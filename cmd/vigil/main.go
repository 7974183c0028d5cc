// Package main provides the vigil security system entry point
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vigil-sec/vigil/internal/alarm"
	"github.com/vigil-sec/vigil/internal/alerts"
	"github.com/vigil-sec/vigil/internal/api"
	"github.com/vigil-sec/vigil/internal/camera"
	"github.com/vigil-sec/vigil/internal/config"
	"github.com/vigil-sec/vigil/internal/core"
	"github.com/vigil-sec/vigil/internal/database"
	"github.com/vigil-sec/vigil/internal/detection"
	"github.com/vigil-sec/vigil/internal/events"
	"github.com/vigil-sec/vigil/internal/evidence"
	"github.com/vigil-sec/vigil/internal/logging"
	"github.com/vigil-sec/vigil/internal/metrics"
	"github.com/vigil-sec/vigil/internal/models"
	"github.com/vigil-sec/vigil/internal/notify"
	"github.com/vigil-sec/vigil/internal/sysinfo"
)

const (
	migrateTimeout    = 30 * time.Second
	modelFetchTimeout = 5 * time.Minute
	logRingSize       = 1000
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "enroll" {
		os.Exit(runEnroll(os.Args[2:]))
	}

	cfg := loadConfig()

	logRing, logLevel := initLogging(cfg)
	slog.Info("Starting vigil", "version", cfg.Version, "data_path", cfg.System.DataPath)

	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watch unavailable", "error", err)
	}

	// Database and event history
	db, err := database.Open(database.DefaultConfig(cfg.System.DataPath))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), migrateTimeout)
	err = database.NewMigrator(db).Run(migrateCtx)
	cancelMigrate()
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	store := events.NewStore(db)
	recorder := events.NewRecorder(store)

	// Internal event bus
	bus, err := core.NewEventBus(cfg.Bus)
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Stop()
	if err := recorder.AttachBus(bus); err != nil {
		slog.Warn("Transition log bus subscription failed", "error", err)
	}

	// Camera
	source := camera.NewSource(cfg.Camera, nil)
	if err := source.Start(); err != nil {
		// The system still serves its API and bot in this state; arming
		// fails until a camera appears after restart.
		slog.Error("Camera unavailable", "error", err)
	}
	defer source.Stop()

	// Classifiers. Model files not present on disk are fetched from the
	// catalog before the nets load.
	manager := models.NewManager(cfg.System.DataPath)
	var primary detection.PrimaryClassifier
	if cfg.Detection.Enabled {
		resolveModel(manager, &cfg.Detection.ModelPath, models.ObjectModel)
		resolveModel(manager, &cfg.Detection.ModelConfigPath, models.ObjectConfig)
		primary = detection.NewDNNClassifier(cfg.Detection)
	}
	var identity detection.IdentityClassifier
	if cfg.Identity.Enabled {
		resolveModel(manager, &cfg.Identity.DetectorPath, models.FaceDetector)
		resolveModel(manager, &cfg.Identity.EmbedderPath, models.FaceEmbedder)
		face := detection.NewFaceClassifier(cfg.Identity)
		defer face.Close()
		identity = face
	}

	// Evidence snapshots
	writer, err := evidence.NewWriter(cfg.Evidence, camera.EncodeJPEG)
	if err != nil {
		slog.Error("Failed to prepare evidence directory", "error", err)
		os.Exit(1)
	}
	writer.StartSweeper(time.Duration(cfg.Evidence.SweepIntervalMinutes) * time.Minute)
	defer writer.StopSweeper()

	// Alert delivery
	sink := buildNotificationSink(cfg)
	dispatcher := alerts.NewDispatcher(alerts.DispatcherConfig{
		Sink:      sink,
		Cooldown:  cfg.AlertCooldown(),
		Encoder:   camera.EncodeJPEG,
		Publisher: bus,
		Subject:   core.SubjectAlert,
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	// Live-tunable settings picked up on config file changes
	cfg.OnChange(func(c *config.Config) {
		logLevel.Set(parseLogLevel(c.System.Logging.Level))
		dispatcher.SetCooldown(c.AlertCooldown())
	})

	// Alarm state machine
	var indicator alarm.HardwareIndicator
	if cfg.Hardware.Enabled {
		indicator = alarm.LoggingIndicator{}
	}
	machine := alarm.NewMachine(indicator, bus)

	// Detection scheduler
	scheduler := detection.NewScheduler(
		detection.SchedulerConfig{
			Interval:         time.Second / time.Duration(cfg.Detection.FPS),
			FrameTimeout:     cfg.FrameTimeout(),
			MaxFrameTimeouts: cfg.Detection.MaxFrameTimeouts,
			IdentityTimeout:  cfg.IdentityTimeout(),
			CacheSize:        cfg.Identity.CacheSize,
		},
		source, primary, identity, machine, dispatcher, writer,
		detection.WithPublisher(bus),
		detection.WithRecorder(recorder),
	)
	machine.SetDetectionLoop(scheduler)

	// System monitor and controller
	monitor := sysinfo.NewMonitor()
	monitor.Start()
	defer monitor.Stop()

	placeholder := func(state alarm.State) *camera.Frame {
		return camera.PlaceholderFrame(cfg.Camera.Width, cfg.Camera.Height, string(state))
	}
	controller := alarm.NewSystem(machine, source, scheduler, monitor, dispatcher, placeholder)

	// Telegram bot
	if cfg.Alerts.Telegram.Enabled {
		client := notify.NewTelegramClient(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatIDs)
		bot := notify.NewBot(client, controller, camera.EncodeJPEG)
		bot.Start()
		defer bot.Stop()
	}

	// Metrics
	m := metrics.New()
	if err := m.Attach(bus); err != nil {
		slog.Warn("Metrics bus subscription failed", "error", err)
	}

	// WebSocket hub
	hub := api.NewHub()
	go hub.Run()
	defer hub.Stop()
	if err := hub.AttachBus(bus); err != nil {
		slog.Warn("WebSocket bus subscription failed", "error", err)
	}

	// HTTP surface
	server := api.NewServer(cfg.Server, api.Deps{
		Controller: controller,
		Events:     store,
		Alerts:     dispatcher,
		Metrics:    m.Handler(),
		Hub:        hub,
		Logs:       logRing,
		Identity:   scheduler,
		Bus:        bus,
		Encoder:    camera.EncodeJPEG,
	})
	server.Start()
	defer server.Stop()

	slog.Info("Vigil started", "http", cfg.Server.Port, "detection", cfg.Detection.Enabled, "identity", cfg.Identity.Enabled)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Shutting down", "signal", sig.String())

	// Disarm joins the detection loop before the deferred teardown runs
	machine.Disarm()
}

// buildNotificationSink assembles the alert delivery chain from the
// configured channels. Nil means alerts are logged and counted only.
func buildNotificationSink(cfg *config.Config) alerts.NotificationSink {
	var sinks []alerts.NotificationSink
	if cfg.Alerts.Telegram.Enabled && cfg.Alerts.Telegram.Token != "" {
		sinks = append(sinks, notify.NewTelegramClient(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatIDs))
	}
	if len(cfg.Alerts.ShoutrrrURLs) > 0 {
		shout, err := notify.NewShoutrrrSink(cfg.Alerts.ShoutrrrURLs)
		if err != nil {
			slog.Error("Invalid shoutrrr configuration", "error", err)
		} else {
			sinks = append(sinks, shout)
		}
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return notify.NewComposite(sinks...)
	}
}

// resolveModel fills in a model path from the download catalog when
// the configured file does not exist
func resolveModel(manager *models.Manager, path *string, id string) {
	if *path != "" {
		if _, err := os.Stat(*path); err == nil {
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), modelFetchTimeout)
	defer cancel()
	resolved, err := manager.Ensure(ctx, id)
	if err != nil {
		slog.Error("Model unavailable", "id", id, "error", err)
		return
	}
	*path = resolved
}

func initLogging(cfg *config.Config) (*logging.Ring, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.System.Logging.Level))
	var handler slog.Handler
	if cfg.System.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	ring := logging.NewRing(logRingSize)
	slog.SetDefault(slog.New(logging.NewHandler(ring, handler)))
	return ring, level
}

func parseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig resolves the config file from CONFIG_PATH or the usual
// locations and falls back to built-in defaults
func loadConfig() *config.Config {
	path := findConfigFile()
	if path == "" {
		cfg := config.Default()
		cfg.SetPath("config.yaml")
		return cfg
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	return cfg
}

func findConfigFile() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	candidates := []string{
		"config.yaml",
		filepath.Join("config", "config.yaml"),
		"/etc/vigil/config.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
