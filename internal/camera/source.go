package camera

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-sec/vigil/internal/config"
)

const (
	bufferCapacity  = 2
	readBackoff     = 100 * time.Millisecond
	stopJoinTimeout = 5 * time.Second
)

// Source owns the capture device and runs the producer loop that keeps
// the latest-wins buffer filled
type Source struct {
	mu     sync.Mutex
	cfg    config.CameraConfig
	open   DeviceOpener
	device CaptureDevice
	buffer *LatestBuffer
	logger *slog.Logger

	index      int
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	frameCount atomic.Uint64
	readErrors atomic.Uint64
	startedAt  time.Time
}

// NewSource creates a frame source for the configured device. The
// opener defaults to the gocv-backed device when nil.
func NewSource(cfg config.CameraConfig, open DeviceOpener) *Source {
	if open == nil {
		open = OpenGoCVDevice
	}
	return &Source{
		cfg:    cfg,
		open:   open,
		index:  cfg.Index,
		logger: slog.Default().With("component", "camera"),
	}
}

// Start opens the capture device and launches the producer loop.
// The configured index is tried first; on failure every index in
// 0..ProbeRange-1 is probed, accepting the first that both opens and
// returns a readable frame. Returns ErrNoDeviceFound when every probe
// fails.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	device, index, err := s.probe()
	if err != nil {
		return err
	}

	device.SetProperties(s.cfg.Width, s.cfg.Height, s.cfg.FPS)

	s.device = device
	s.index = index
	s.buffer = NewLatestBuffer(bufferCapacity)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.frameCount.Store(0)
	s.readErrors.Store(0)
	s.startedAt = time.Now()
	s.running = true

	go s.produce(s.device, s.buffer, s.stopCh, s.doneCh)

	s.logger.Info("Camera started",
		"index", index,
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"fps", s.cfg.FPS,
	)
	return nil
}

// probe finds a usable device, configured index first
func (s *Source) probe() (CaptureDevice, int, error) {
	if dev, ok := s.tryIndex(s.cfg.Index); ok {
		return dev, s.cfg.Index, nil
	}

	s.logger.Warn("Configured camera index failed, probing", "index", s.cfg.Index)
	for index := 0; index < s.cfg.ProbeRange; index++ {
		if index == s.cfg.Index {
			continue
		}
		if dev, ok := s.tryIndex(index); ok {
			s.logger.Info("Found camera during probe", "index", index)
			return dev, index, nil
		}
	}
	return nil, 0, ErrNoDeviceFound
}

// tryIndex accepts a device only if it opens and yields a frame
func (s *Source) tryIndex(index int) (CaptureDevice, bool) {
	device, err := s.open(index)
	if err != nil {
		return nil, false
	}
	if !device.IsOpened() {
		device.Close()
		return nil, false
	}
	if _, ok := device.Read(); !ok {
		device.Close()
		return nil, false
	}
	return device, true
}

// produce is the capture loop. A failed read logs, backs off briefly
// and retries; it never terminates the loop.
func (s *Source) produce(device CaptureDevice, buffer *LatestBuffer, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		frame, ok := device.Read()
		if !ok {
			s.readErrors.Add(1)
			s.logger.Debug("Frame read failed, backing off")
			select {
			case <-stopCh:
				return
			case <-time.After(readBackoff):
			}
			continue
		}

		if err := buffer.Put(frame); err != nil {
			return
		}
		s.frameCount.Add(1)
	}
}

// GetFrame blocks up to timeout for a frame. A nil frame means no
// frame arrived in time, which is routine while the camera warms up.
func (s *Source) GetFrame(timeout time.Duration) (*Frame, bool) {
	s.mu.Lock()
	buffer := s.buffer
	s.mu.Unlock()

	if buffer == nil {
		return nil, false
	}
	return buffer.Get(timeout)
}

// Stop signals the producer, joins it with a bounded wait, releases
// the device and drains the buffer. Safe to call when not running.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	device, buffer := s.device, s.buffer
	s.device = nil
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(stopJoinTimeout):
		s.logger.Warn("Producer loop did not stop in time")
	}

	buffer.Close()
	if device != nil {
		device.Close()
	}

	stats := s.Stats()
	s.logger.Info("Camera stopped",
		"frames", stats.FrameCount,
		"read_errors", stats.ReadErrors,
		"elapsed", stats.Elapsed.Round(time.Second),
		"avg_fps", stats.AverageFPS,
	)
}

// IsOpen reports whether the device handle is valid and the producer
// loop is alive
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.device == nil || !s.device.IsOpened() {
		return false
	}
	select {
	case <-s.doneCh:
		return false
	default:
		return true
	}
}

// Index returns the device index in use after probing
func (s *Source) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Stats returns aggregate capture statistics
func (s *Source) Stats() Stats {
	s.mu.Lock()
	startedAt := s.startedAt
	index := s.index
	s.mu.Unlock()

	elapsed := time.Duration(0)
	if !startedAt.IsZero() {
		elapsed = time.Since(startedAt)
	}
	frames := s.frameCount.Load()
	fps := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		fps = float64(frames) / secs
	}
	return Stats{
		FrameCount:  frames,
		ReadErrors:  s.readErrors.Load(),
		Elapsed:     elapsed,
		AverageFPS:  fps,
		CameraIndex: index,
	}
}
