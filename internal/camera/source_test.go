package camera

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/vigil-sec/vigil/internal/config"
)

// fakeDevice is a scripted CaptureDevice for tests
type fakeDevice struct {
	opened   bool
	readOK   bool
	closed   atomic.Bool
	readGate chan struct{} // when non-nil, each Read waits for a tick
}

func (d *fakeDevice) SetProperties(width, height, fps int) {}

func (d *fakeDevice) Read() (*Frame, bool) {
	if d.readGate != nil {
		if _, ok := <-d.readGate; !ok {
			return nil, false
		}
	}
	if !d.readOK {
		return nil, false
	}
	return &Frame{Data: []byte{1, 2, 3}, Width: 1, Height: 1, Timestamp: time.Now()}, true
}

func (d *fakeDevice) IsOpened() bool { return d.opened }

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

func testConfig() config.CameraConfig {
	return config.CameraConfig{Index: 0, Width: 640, Height: 480, FPS: 15, ProbeRange: 5}
}

func TestStart_ConfiguredIndex(t *testing.T) {
	opened := make(map[int]int)
	open := func(index int) (CaptureDevice, error) {
		opened[index]++
		return &fakeDevice{opened: true, readOK: true}, nil
	}

	src := NewSource(testConfig(), open)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	if src.Index() != 0 {
		t.Errorf("Expected index 0, got %d", src.Index())
	}
	if opened[0] != 1 {
		t.Errorf("Expected a single open of index 0, got %d", opened[0])
	}
}

func TestStart_ProbeFallback(t *testing.T) {
	// Configured index 0 fails; index 2 opens and reads
	open := func(index int) (CaptureDevice, error) {
		switch index {
		case 1:
			// Opens but never produces a frame
			return &fakeDevice{opened: true, readOK: false}, nil
		case 2:
			return &fakeDevice{opened: true, readOK: true}, nil
		default:
			return nil, ErrNoDeviceFound
		}
	}

	src := NewSource(testConfig(), open)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	if src.Index() != 2 {
		t.Errorf("Expected probe to settle on index 2, got %d", src.Index())
	}
}

func TestStart_NoDeviceFound(t *testing.T) {
	open := func(index int) (CaptureDevice, error) {
		return nil, ErrNoDeviceFound
	}

	src := NewSource(testConfig(), open)
	if err := src.Start(); err != ErrNoDeviceFound {
		t.Fatalf("Expected ErrNoDeviceFound, got %v", err)
	}
	if src.IsOpen() {
		t.Error("Source should not report open after failed start")
	}
}

func TestStart_Idempotent(t *testing.T) {
	opens := 0
	open := func(index int) (CaptureDevice, error) {
		opens++
		return &fakeDevice{opened: true, readOK: true}, nil
	}

	src := NewSource(testConfig(), open)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	if err := src.Start(); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if opens != 1 {
		t.Errorf("Expected one device open, got %d", opens)
	}
}

func TestGetFrame(t *testing.T) {
	open := func(index int) (CaptureDevice, error) {
		return &fakeDevice{opened: true, readOK: true}, nil
	}

	src := NewSource(testConfig(), open)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	frame, ok := src.GetFrame(time.Second)
	if !ok || frame == nil {
		t.Fatal("Expected a frame within 1s")
	}
	if len(frame.Data) != 3 {
		t.Errorf("Unexpected frame data length %d", len(frame.Data))
	}
}

func TestGetFrame_Timeout(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	open := func(index int) (CaptureDevice, error) {
		// First read (probe) succeeds, later reads block on the gate
		return &fakeDevice{opened: true, readOK: true, readGate: gate}, nil
	}

	// Unblock only the probe read
	go func() { gate <- struct{}{} }()

	src := NewSource(testConfig(), open)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	frame, ok := src.GetFrame(50 * time.Millisecond)
	if ok || frame != nil {
		t.Error("Expected timeout with no frame")
	}
}

func TestStop_ReleasesDevice(t *testing.T) {
	dev := &fakeDevice{opened: true, readOK: true}
	open := func(index int) (CaptureDevice, error) { return dev, nil }

	src := NewSource(testConfig(), open)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.Stop()

	if !dev.closed.Load() {
		t.Error("Expected device to be closed after Stop")
	}
	if src.IsOpen() {
		t.Error("Source should not report open after Stop")
	}

	// Stop again is a no-op
	src.Stop()
}

func TestIsOpen(t *testing.T) {
	src := NewSource(testConfig(), func(int) (CaptureDevice, error) {
		return &fakeDevice{opened: true, readOK: true}, nil
	})
	if src.IsOpen() {
		t.Error("Source should not report open before Start")
	}
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !src.IsOpen() {
		t.Error("Source should report open after Start")
	}
	src.Stop()
}

func TestStats(t *testing.T) {
	src := NewSource(testConfig(), func(int) (CaptureDevice, error) {
		return &fakeDevice{opened: true, readOK: true}, nil
	})
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the producer run a little
	time.Sleep(20 * time.Millisecond)
	src.Stop()

	stats := src.Stats()
	if stats.FrameCount == 0 {
		t.Error("Expected some frames captured")
	}
	if stats.CameraIndex != 0 {
		t.Errorf("Expected camera index 0, got %d", stats.CameraIndex)
	}
}
