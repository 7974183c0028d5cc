// Package logging captures recent log output in memory so the
// dashboard can show it without shell access to the host.
package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// Ring holds the most recent entries in a fixed-size buffer
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewRing creates a ring buffer holding up to size entries
func NewRing(size int) *Ring {
	return &Ring{entries: make([]Entry, size)}
}

// Add appends an entry, evicting the oldest when full
func (r *Ring) Add(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = entry
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// Recent returns up to n entries, oldest first
func (r *Ring) Recent(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	out := make([]Entry, n)
	start := (r.head - n + len(r.entries)) % len(r.entries)
	for i := 0; i < n; i++ {
		out[i] = r.entries[(start+i)%len(r.entries)]
	}
	return out
}

// Handler is a slog handler that copies records into a ring while
// forwarding them to the real handler
type Handler struct {
	ring  *Ring
	inner slog.Handler
	attrs []slog.Attr
}

// NewHandler wraps inner so every record it sees also lands in ring
func NewHandler(ring *Ring, inner slog.Handler) *Handler {
	return &Handler{ring: ring, inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	collect := func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	record.Attrs(collect)

	if len(attrs) == 0 {
		attrs = nil
	}
	h.ring.Add(Entry{
		Time:      record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
		Component: component,
		Attrs:     attrs,
	})

	return h.inner.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		ring:  h.ring,
		inner: h.inner.WithAttrs(attrs),
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{ring: h.ring, inner: h.inner.WithGroup(name), attrs: h.attrs}
}
