// Package detection provides the two-stage classification pipeline:
// a primary object classifier separating persons from animals, an
// optional identity classifier confirming authorized persons, and a
// scheduler that runs both at a fixed cadence and decides escalation.
package detection

import (
	"time"

	"github.com/vigil-sec/vigil/internal/alerts"
	"github.com/vigil-sec/vigil/internal/camera"
)

// Type classifies what the primary stage found in a frame
type Type string

const (
	TypeNone   Type = "none"
	TypePerson Type = "person"
	TypeAnimal Type = "animal"
	TypeBoth   Type = "both"
)

// Classification labels for individual detections
const (
	ClassPerson     = "person"
	ClassAnimal     = "animal"
	ClassAuthorized = "authorized"
	ClassIntruder   = "intruder"
)

// BBox is an axis-aligned bounding box in pixel coordinates
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is a single classified object in a frame
type Detection struct {
	BBox           BBox    `json:"bbox"`
	ClassName      string  `json:"class_name"`
	Confidence     float64 `json:"confidence"`
	Classification string  `json:"classification"`
}

// Result is the outcome of a primary classification pass
type Result struct {
	Type        Type         `json:"type"`
	AlertLevel  alerts.Level `json:"alert_level"`
	Detections  []Detection  `json:"detections"`
	PersonCount int          `json:"person_count"`
	AnimalCount int          `json:"animal_count"`

	// Annotated holds the drawn frame when Detect was called with draw
	Annotated *camera.Frame `json:"-"`
}

// IdentityResult is the outcome of an identity classification pass.
// Produced only when the primary stage saw at least one person.
type IdentityResult struct {
	AuthorizedDetected bool          `json:"authorized_detected"`
	AuthorizedNames    []string      `json:"authorized_names"`
	UnknownCount       int           `json:"unknown_count"`
	Detections         []Detection   `json:"detections"`
	Annotated          *camera.Frame `json:"-"`
}

// AlertLevelFor maps detection counts to an alert level. Person-only
// is CRITICAL; animals in the scene soften it to HIGH.
func AlertLevelFor(personCount, animalCount int) alerts.Level {
	switch {
	case personCount > 0 && animalCount > 0:
		return alerts.LevelHigh
	case personCount > 0:
		return alerts.LevelCritical
	case animalCount > 0:
		return alerts.LevelLow
	default:
		return alerts.LevelNone
	}
}

// TypeFor maps detection counts to a detection type
func TypeFor(personCount, animalCount int) Type {
	switch {
	case personCount > 0 && animalCount > 0:
		return TypeBoth
	case personCount > 0:
		return TypePerson
	case animalCount > 0:
		return TypeAnimal
	default:
		return TypeNone
	}
}

// PrimaryClassifier is the stage-1 object detector port
type PrimaryClassifier interface {
	// Detect classifies one frame. With draw set the result carries an
	// annotated copy; the input frame is never mutated.
	Detect(frame *camera.Frame, draw bool) (*Result, error)
	// Loaded reports whether a usable model is available
	Loaded() bool
}

// IdentityClassifier is the stage-2 face identity port
type IdentityClassifier interface {
	Detect(frame *camera.Frame, draw bool) (*IdentityResult, error)
	Loaded() bool
}

// AlarmGate is the slice of the alarm state machine the scheduler
// consumes: the run gate, escalation, and the fatal-error transition
type AlarmGate interface {
	DetectionActive() bool
	TriggerAlarm() error
	SetError(reason string)
}

// FrameProvider supplies the freshest available frame
type FrameProvider interface {
	GetFrame(timeout time.Duration) (*camera.Frame, bool)
}

// AlertSink accepts escalation alerts without blocking
type AlertSink interface {
	Enqueue(level alerts.Level, message string, frame *camera.Frame)
}

// EvidenceSink persists detection snapshots per category
type EvidenceSink interface {
	Save(category string, frame *camera.Frame)
}

// Publisher mirrors detections onto the internal event bus
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Recorder persists detection events for the dashboard history
type Recorder interface {
	RecordDetection(result *Result)
}
