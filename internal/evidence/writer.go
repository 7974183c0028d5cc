// Package evidence persists annotated snapshots of detections to disk
// and enforces a retention policy over them.
package evidence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-sec/vigil/internal/camera"
	"github.com/vigil-sec/vigil/internal/config"
)

const snapshotExt = ".jpg"

// Encoder compresses a frame to image bytes
type Encoder func(frame *camera.Frame) ([]byte, error)

// FileWriter persists encoded bytes at a path
type FileWriter func(path string, data []byte) error

// Stats reports writer activity since startup
type Stats struct {
	Saved   uint64 `json:"saved"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`
	Swept   uint64 `json:"swept"`
}

// Writer saves detection snapshots with a per-category cooldown.
// Person snapshots use the base cooldown; animal snapshots use a
// longer one since animals linger in view.
type Writer struct {
	dir          string
	baseCooldown time.Duration
	animalFactor int
	retention    time.Duration
	maxSnapshots int

	encoder Encoder
	write   FileWriter
	logger  *slog.Logger

	mu       sync.Mutex
	lastSave map[string]time.Time

	running bool
	stopCh  chan struct{}

	saved   atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
	swept   atomic.Uint64
}

// NewWriter creates the evidence writer and its snapshot directory
func NewWriter(cfg config.EvidenceConfig, encoder Encoder) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}

	factor := cfg.AnimalCooldownFactor
	if factor <= 0 {
		factor = 3
	}

	return &Writer{
		dir:          cfg.Dir,
		baseCooldown: time.Duration(cfg.CooldownSeconds) * time.Second,
		animalFactor: factor,
		retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		maxSnapshots: cfg.MaxSnapshots,
		encoder:      encoder,
		write:        func(path string, data []byte) error { return os.WriteFile(path, data, 0o644) },
		lastSave:     make(map[string]time.Time),
		logger:       slog.Default().With("component", "evidence"),
	}, nil
}

// cooldownFor returns the cooldown applied to a snapshot category
func (w *Writer) cooldownFor(category string) time.Duration {
	if category == "animal" {
		return w.baseCooldown * time.Duration(w.animalFactor)
	}
	return w.baseCooldown
}

// Save writes a snapshot for the category unless its cooldown is
// active. The cooldown tracker is stamped before the disk write is
// spawned so a slow disk cannot open a burst window.
func (w *Writer) Save(category string, frame *camera.Frame) {
	if frame == nil {
		return
	}

	now := time.Now()
	w.mu.Lock()
	if last, ok := w.lastSave[category]; ok && now.Sub(last) < w.cooldownFor(category) {
		w.mu.Unlock()
		w.skipped.Add(1)
		w.logger.Debug("Snapshot skipped, cooldown active", "category", category)
		return
	}
	w.lastSave[category] = now
	w.mu.Unlock()

	snapshot := frame.Clone()
	filename := fmt.Sprintf("%s_%s%s", category, now.Format("20060102_150405"), snapshotExt)
	path := filepath.Join(w.dir, filename)

	go func() {
		data, err := w.encoder(snapshot)
		if err != nil {
			w.failed.Add(1)
			w.logger.Error("Failed to encode snapshot", "category", category, "error", err)
			return
		}
		if err := w.write(path, data); err != nil {
			w.failed.Add(1)
			w.logger.Error("Failed to write snapshot", "path", path, "error", err)
			return
		}
		w.saved.Add(1)
		w.logger.Info("Snapshot saved", "path", path, "bytes", len(data))
	}()
}

// StartSweeper launches the periodic retention sweep
func (w *Writer) StartSweeper(interval time.Duration) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := w.Sweep(); err != nil {
			w.logger.Error("Initial retention sweep failed", "error", err)
		}
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if err := w.Sweep(); err != nil {
					w.logger.Error("Retention sweep failed", "error", err)
				}
			}
		}
	}()
}

// StopSweeper stops the retention sweep
func (w *Writer) StopSweeper() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.running = false
}

// Sweep deletes snapshots past the retention period and the oldest
// ones beyond the max-file cap
func (w *Writer) Sweep() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read evidence directory: %w", err)
	}

	type snapshot struct {
		path    string
		modTime time.Time
	}
	var snapshots []snapshot

	cutoff := time.Now().Add(-w.retention)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())

		if w.retention > 0 && info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				w.logger.Error("Failed to delete expired snapshot", "path", path, "error", err)
				continue
			}
			deleted++
			continue
		}
		snapshots = append(snapshots, snapshot{path: path, modTime: info.ModTime()})
	}

	if w.maxSnapshots > 0 && len(snapshots) > w.maxSnapshots {
		sort.Slice(snapshots, func(i, j int) bool {
			return snapshots[i].modTime.Before(snapshots[j].modTime)
		})
		for _, s := range snapshots[:len(snapshots)-w.maxSnapshots] {
			if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
				w.logger.Error("Failed to delete snapshot over cap", "path", s.path, "error", err)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		w.swept.Add(uint64(deleted))
		w.logger.Info("Retention sweep completed", "deleted", deleted)
	}
	return nil
}

// Stats returns writer activity counters
func (w *Writer) Stats() Stats {
	return Stats{
		Saved:   w.saved.Load(),
		Skipped: w.skipped.Load(),
		Failed:  w.failed.Load(),
		Swept:   w.swept.Load(),
	}
}
