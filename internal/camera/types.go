// Package camera provides frame acquisition from a local capture device.
// A background producer keeps a small latest-wins buffer filled so that
// consumers always see near-real-time frames, never a backlog.
package camera

import (
	"errors"
	"time"
)

var (
	// ErrNoDeviceFound is returned by Start when no capture device
	// opens and yields a readable frame after probing
	ErrNoDeviceFound = errors.New("camera: no capture device found")

	// ErrBufferClosed is returned when writing to a closed frame buffer
	ErrBufferClosed = errors.New("camera: frame buffer closed")
)

// Frame is a single captured image. Data holds BGR pixel rows
// (height x width x 3). Consumers must not mutate a shared frame;
// annotation works on a Clone.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Frame{
		Data:      data,
		Width:     f.Width,
		Height:    f.Height,
		Timestamp: f.Timestamp,
	}
}

// Stats holds aggregate capture statistics
type Stats struct {
	FrameCount  uint64        `json:"frame_count"`
	ReadErrors  uint64        `json:"read_errors"`
	Elapsed     time.Duration `json:"elapsed"`
	AverageFPS  float64       `json:"average_fps"`
	CameraIndex int           `json:"camera_index"`
}

// CaptureDevice abstracts a video capture handle (a webcam in
// production, a fake in tests)
type CaptureDevice interface {
	// SetProperties applies the requested resolution and frame rate
	SetProperties(width, height, fps int)
	// Read grabs one frame. ok is false when the device produced nothing.
	Read() (frame *Frame, ok bool)
	// IsOpened reports whether the device handle is valid
	IsOpened() bool
	// Close releases the device
	Close() error
}

// DeviceOpener opens the capture device at the given index. It returns
// an error when the index cannot be opened at all; a device that opens
// but never reads is rejected by the probe logic instead.
type DeviceOpener func(index int) (CaptureDevice, error)
