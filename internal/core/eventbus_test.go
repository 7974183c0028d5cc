package core

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vigil-sec/vigil/internal/config"
)

func newTestBus(t *testing.T) *EventBus {
	t.Helper()
	// Port -1 asks NATS for a random free port
	bus, err := NewEventBus(config.BusConfig{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("NewEventBus failed: %v", err)
	}
	t.Cleanup(bus.Stop)
	return bus
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan []byte, 1)
	if _, err := bus.Subscribe(SubjectDetection, func(msg *nats.Msg) {
		received <- msg.Data
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	payload := map[string]interface{}{"type": "person", "person_count": 1}
	if err := bus.Publish(SubjectDetection, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case data := <-received:
		if len(data) == 0 {
			t.Error("Empty payload received")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Message not received")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan struct{}, 4)
	if _, err := bus.Subscribe(SubjectState, func(msg *nats.Msg) {
		received <- struct{}{}
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Unsubscribe(SubjectState)
	if err := bus.Publish(SubjectState, map[string]string{"state": "armed"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
		t.Error("Message received after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHealthCheck(t *testing.T) {
	bus := newTestBus(t)
	if err := bus.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
