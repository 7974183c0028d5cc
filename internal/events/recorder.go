package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vigil-sec/vigil/internal/core"
	"github.com/vigil-sec/vigil/internal/detection"
)

const recordTimeout = 5 * time.Second

// Recorder persists scheduler detections into the store without
// blocking the detection loop
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder creates a detection recorder backed by the store
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: slog.Default().With("component", "event_recorder"),
	}
}

// AttachBus subscribes the recorder to state transitions so every
// arm/disarm/alarm change ends up in the transition log
func (r *Recorder) AttachBus(bus *core.EventBus) error {
	_, err := bus.Subscribe(core.SubjectState, func(msg *nats.Msg) {
		var payload struct {
			From   string `json:"from"`
			State  string `json:"state"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			r.logger.Warn("Malformed state transition", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.store.RecordTransition(ctx, payload.From, payload.State, payload.Reason); err != nil {
			r.logger.Error("Failed to record state transition", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", core.SubjectState, err)
	}
	return nil
}

// RecordDetection stores a detection result asynchronously
func (r *Recorder) RecordDetection(result *detection.Result) {
	event := &Event{
		EventType:   EventType(result.Type),
		AlertLevel:  result.AlertLevel.String(),
		PersonCount: result.PersonCount,
		AnimalCount: result.AnimalCount,
		Confidence:  maxConfidence(result.Detections),
		Timestamp:   time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.store.Create(ctx, event); err != nil {
			r.logger.Error("Failed to record detection", "error", err)
		}
	}()
}

func maxConfidence(detections []detection.Detection) float64 {
	best := 0.0
	for _, d := range detections {
		if d.Confidence > best {
			best = d.Confidence
		}
	}
	return best
}
