// Package alerts provides prioritized alert dispatch to an external
// notification sink, with a cooldown gate that enforces minimum
// spacing between deliveries.
package alerts

import (
	"context"
	"time"

	"github.com/vigil-sec/vigil/internal/camera"
)

// Level is the alert severity. Higher ordinals dequeue first.
type Level int

const (
	LevelNone     Level = 0
	LevelLow      Level = 1 // animal only
	LevelHigh     Level = 2 // person and animal
	LevelCritical Level = 3 // person only
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// Alert is a single queued notification
type Alert struct {
	Level     Level
	Message   string
	Frame     *camera.Frame // optional snapshot attached to the delivery
	CreatedAt time.Time
}

// Priority is the queue ordering key
func (a *Alert) Priority() int {
	return int(a.Level)
}

// NotificationSink delivers a formatted alert to the outside world.
// Implementations live outside this package (Telegram, shoutrrr).
type NotificationSink interface {
	// Send delivers one message with an optional JPEG attachment
	Send(ctx context.Context, message string, jpeg []byte) error
}

// Stats holds dispatcher counters
type Stats struct {
	Received  uint64  `json:"received"`
	Sent      uint64  `json:"sent"`
	Dropped   uint64  `json:"dropped"`
	QueueSize int     `json:"queue_size"`
	SendRate  float64 `json:"send_rate"`
}
