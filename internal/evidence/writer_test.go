package evidence

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vigil-sec/vigil/internal/camera"
	"github.com/vigil-sec/vigil/internal/config"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testFrame() *camera.Frame {
	return &camera.Frame{Data: []byte{1, 2, 3}, Width: 1, Height: 1, Timestamp: time.Now()}
}

type recordingFS struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingFS) write(path string, data []byte) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	return nil
}

func (r *recordingFS) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func newTestWriter(t *testing.T, cfg config.EvidenceConfig) (*Writer, *recordingFS) {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	w, err := NewWriter(cfg, func(frame *camera.Frame) ([]byte, error) {
		return frame.Data, nil
	})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	fs := &recordingFS{}
	w.write = fs.write
	return w, fs
}

func TestSaveWritesSnapshot(t *testing.T) {
	w, fs := newTestWriter(t, config.EvidenceConfig{CooldownSeconds: 10})

	w.Save("person", testFrame())
	waitFor(t, time.Second, func() bool { return w.Stats().Saved == 1 })

	if fs.count() != 1 {
		t.Fatalf("Expected 1 write, got %d", fs.count())
	}
	fs.mu.Lock()
	name := filepath.Base(fs.paths[0])
	fs.mu.Unlock()
	if !strings.HasPrefix(name, "person_") || !strings.HasSuffix(name, ".jpg") {
		t.Errorf("Unexpected snapshot name %q", name)
	}
}

func TestSaveCooldownPerCategory(t *testing.T) {
	w, fs := newTestWriter(t, config.EvidenceConfig{CooldownSeconds: 60})

	w.Save("person", testFrame())
	w.Save("person", testFrame())
	w.Save("animal", testFrame())

	waitFor(t, time.Second, func() bool { return w.Stats().Saved == 2 })

	if fs.count() != 2 {
		t.Errorf("Expected one person and one animal write, got %d", fs.count())
	}
	if w.Stats().Skipped != 1 {
		t.Errorf("Expected 1 skip, got %d", w.Stats().Skipped)
	}
}

func TestAnimalCooldownLonger(t *testing.T) {
	w, _ := newTestWriter(t, config.EvidenceConfig{CooldownSeconds: 10, AnimalCooldownFactor: 3})

	if got := w.cooldownFor("person"); got != 10*time.Second {
		t.Errorf("Person cooldown = %v, want 10s", got)
	}
	if got := w.cooldownFor("animal"); got != 30*time.Second {
		t.Errorf("Animal cooldown = %v, want 30s", got)
	}
}

func TestSaveStampsBeforeWrite(t *testing.T) {
	w, _ := newTestWriter(t, config.EvidenceConfig{CooldownSeconds: 60})

	gate := make(chan struct{})
	w.write = func(path string, data []byte) error {
		<-gate
		return nil
	}

	// The second Save must be refused even while the first write is
	// still in flight
	w.Save("person", testFrame())
	w.Save("person", testFrame())
	close(gate)

	waitFor(t, time.Second, func() bool { return w.Stats().Saved == 1 })
	if w.Stats().Skipped != 1 {
		t.Errorf("Expected 1 skip, got %d", w.Stats().Skipped)
	}
}

func TestSaveNilFrame(t *testing.T) {
	w, fs := newTestWriter(t, config.EvidenceConfig{CooldownSeconds: 10})
	w.Save("person", nil)
	time.Sleep(20 * time.Millisecond)
	if fs.count() != 0 {
		t.Error("Nil frame should not be written")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, config.EvidenceConfig{Dir: dir, CooldownSeconds: 10, RetentionDays: 7})

	oldPath := filepath.Join(dir, "person_20200101_000000.jpg")
	freshPath := filepath.Join(dir, "person_fresh.jpg")
	for _, p := range []string{oldPath, freshPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}

	if err := w.Sweep(); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("Expired snapshot should have been deleted")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Error("Fresh snapshot should have been kept")
	}
}

func TestSweepEnforcesCap(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, config.EvidenceConfig{Dir: dir, CooldownSeconds: 10, RetentionDays: 365, MaxSnapshots: 2})

	base := time.Now().Add(-time.Hour)
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}
	for i, name := range names {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(p, ts, ts); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Sweep(); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 snapshots after sweep, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Name() == "a.jpg" || e.Name() == "b.jpg" {
			t.Errorf("Oldest snapshot %q should have been deleted", e.Name())
		}
	}
}

func TestSweeperLifecycle(t *testing.T) {
	w, _ := newTestWriter(t, config.EvidenceConfig{CooldownSeconds: 10, RetentionDays: 7})
	w.StartSweeper(10 * time.Millisecond)
	w.StartSweeper(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	w.StopSweeper()
	w.StopSweeper()
}
