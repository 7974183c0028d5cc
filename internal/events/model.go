// Package events records detections and alarm transitions for the
// dashboard history.
package events

import "time"

// EventType categorizes a stored event
type EventType string

const (
	EventPerson      EventType = "person"
	EventAnimal      EventType = "animal"
	EventBoth        EventType = "both"
	EventStateChange EventType = "state_change"
)

// Event is one row of system history
type Event struct {
	ID           string    `json:"id"`
	EventType    EventType `json:"event_type"`
	AlertLevel   string    `json:"alert_level"`
	PersonCount  int       `json:"person_count"`
	AnimalCount  int       `json:"animal_count"`
	Confidence   float64   `json:"confidence,omitempty"`
	Message      string    `json:"message,omitempty"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListOptions filters event queries
type ListOptions struct {
	EventType EventType `json:"event_type,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// StoreStats summarizes recorded history
type StoreStats struct {
	Total         int        `json:"total"`
	Persons       int        `json:"persons"`
	Animals       int        `json:"animals"`
	LastDetection *time.Time `json:"last_detection,omitempty"`
}

// Transition is one alarm state change
type Transition struct {
	ID        string    `json:"id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
