package alarm

import (
	"time"

	"github.com/vigil-sec/vigil/internal/alerts"
	"github.com/vigil-sec/vigil/internal/camera"
)

// Controller is the control surface the dashboard and bot layers hold.
// A single interface instead of four loose callbacks.
type Controller interface {
	Arm() (bool, string)
	Disarm() (bool, string)
	Status() Status
	CurrentFrame() *camera.Frame
}

// DetectionCounts aggregates classifier hits since startup
type DetectionCounts struct {
	Total  uint64 `json:"total"`
	Person uint64 `json:"person"`
	Animal uint64 `json:"animal"`
}

// Status is the system status snapshot served to external callers
type Status struct {
	State         string          `json:"state"`
	CPUUsage      float64         `json:"cpu_usage"`
	MemoryUsage   float64         `json:"memory_usage"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	CameraOpen    bool            `json:"camera_open"`
	CameraIndex   int             `json:"camera_index"`
	CameraFPS     float64         `json:"camera_fps"`
	DetectionFPS  float64         `json:"detection_fps"`
	Detections    DetectionCounts `json:"detections"`
	LastDetection *time.Time      `json:"last_detection,omitempty"`
	Alerts        alerts.Stats    `json:"alerts"`
}

// FrameSource is the camera surface the controller consumes
type FrameSource interface {
	GetFrame(timeout time.Duration) (*camera.Frame, bool)
	IsOpen() bool
	Stats() camera.Stats
}

// DetectionView exposes the scheduler's published state: the latest
// viewable (possibly annotated) frame and counters
type DetectionView interface {
	LatestViewable() *camera.Frame
	Counts() (total, person, animal uint64)
	LastDetection() (time.Time, bool)
	LoopFPS() float64
}

// ResourceUsage reports host CPU and memory pressure
type ResourceUsage interface {
	CPUPercent() float64
	MemoryPercent() float64
}

// AlertStats exposes dispatcher counters
type AlertStats interface {
	Stats() alerts.Stats
}

// System ties the machine, camera, scheduler and dispatcher together
// behind the Controller interface
type System struct {
	machine     *Machine
	frames      FrameSource
	view        DetectionView
	resources   ResourceUsage
	alertStats  AlertStats
	placeholder func(state State) *camera.Frame
	startedAt   time.Time
}

// NewSystem creates the controller. Any collaborator may be nil; the
// status simply omits what is unavailable.
func NewSystem(machine *Machine, frames FrameSource, view DetectionView, resources ResourceUsage, alertStats AlertStats, placeholder func(State) *camera.Frame) *System {
	return &System{
		machine:     machine,
		frames:      frames,
		view:        view,
		resources:   resources,
		alertStats:  alertStats,
		placeholder: placeholder,
		startedAt:   time.Now(),
	}
}

// Arm arms the system
func (s *System) Arm() (bool, string) { return s.machine.Arm() }

// Disarm disarms the system
func (s *System) Disarm() (bool, string) { return s.machine.Disarm() }

// Machine returns the underlying state machine
func (s *System) Machine() *Machine { return s.machine }

// Status reports the best-known system state, also during degraded
// operation
func (s *System) Status() Status {
	status := Status{
		State:         string(s.machine.State()),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if s.resources != nil {
		status.CPUUsage = s.resources.CPUPercent()
		status.MemoryUsage = s.resources.MemoryPercent()
	}
	if s.frames != nil {
		stats := s.frames.Stats()
		status.CameraOpen = s.frames.IsOpen()
		status.CameraIndex = stats.CameraIndex
		status.CameraFPS = stats.AverageFPS
	}
	if s.view != nil {
		total, person, animal := s.view.Counts()
		status.Detections = DetectionCounts{Total: total, Person: person, Animal: animal}
		status.DetectionFPS = s.view.LoopFPS()
		if at, ok := s.view.LastDetection(); ok {
			status.LastDetection = &at
		}
	}
	if s.alertStats != nil {
		status.Alerts = s.alertStats.Stats()
	}
	return status
}

// CurrentFrame returns the annotated frame when armed and available,
// else a raw frame, else a placeholder
func (s *System) CurrentFrame() *camera.Frame {
	if s.machine.DetectionActive() && s.view != nil {
		if frame := s.view.LatestViewable(); frame != nil {
			return frame
		}
	}
	if s.frames != nil {
		if frame, ok := s.frames.GetFrame(100 * time.Millisecond); ok {
			return frame
		}
	}
	if s.placeholder != nil {
		return s.placeholder(s.machine.State())
	}
	return nil
}
