package logging

import (
	"io"
	"log/slog"
	"testing"
)

func TestRingEviction(t *testing.T) {
	r := NewRing(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		r.Add(Entry{Message: msg})
	}

	got := r.Recent(10)
	if len(got) != 3 {
		t.Fatalf("Recent returned %d entries, want 3", len(got))
	}
	want := []string{"b", "c", "d"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestRingRecentLimit(t *testing.T) {
	r := NewRing(10)
	for _, msg := range []string{"a", "b", "c"} {
		r.Add(Entry{Message: msg})
	}

	got := r.Recent(2)
	if len(got) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(got))
	}
	if got[0].Message != "b" || got[1].Message != "c" {
		t.Errorf("Recent(2) = %q, %q, want b, c", got[0].Message, got[1].Message)
	}
}

func TestHandlerCapturesRecords(t *testing.T) {
	ring := NewRing(10)
	inner := slog.NewJSONHandler(io.Discard, nil)
	logger := slog.New(NewHandler(ring, inner)).With("component", "camera")

	logger.Info("Device opened", "index", 0)

	entries := ring.Recent(1)
	if len(entries) != 1 {
		t.Fatalf("ring holds %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "Device opened" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Component != "camera" {
		t.Errorf("component = %q, want camera", e.Component)
	}
	if e.Level != "INFO" {
		t.Errorf("level = %q, want INFO", e.Level)
	}
	if _, ok := e.Attrs["index"]; !ok {
		t.Error("index attribute not captured")
	}
}
