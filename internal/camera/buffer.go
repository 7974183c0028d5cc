package camera

import (
	"sync"
	"time"
)

// LatestBuffer is a bounded frame buffer with drop-oldest semantics.
// When full, the oldest frame is evicted before the new one is stored,
// so readers always see the freshest data.
type LatestBuffer struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	frames   []*Frame
	capacity int
	closed   bool
}

// NewLatestBuffer creates a buffer holding at most capacity frames
func NewLatestBuffer(capacity int) *LatestBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &LatestBuffer{
		notEmpty: make(chan struct{}, 1),
		frames:   make([]*Frame, 0, capacity),
		capacity: capacity,
	}
}

// Put inserts a frame, evicting the oldest entry when full
func (b *LatestBuffer) Put(frame *Frame) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	if len(b.frames) == b.capacity {
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:len(b.frames)-1]
	}
	b.frames = append(b.frames, frame)
	b.mu.Unlock()

	// Non-blocking wakeup for a waiting reader
	select {
	case b.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// Get removes and returns the oldest buffered frame, waiting up to
// timeout when the buffer is empty. Returns nil, false on timeout,
// which callers treat as routine rather than an error.
func (b *LatestBuffer) Get(timeout time.Duration) (*Frame, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if len(b.frames) > 0 {
			frame := b.frames[0]
			copy(b.frames, b.frames[1:])
			b.frames = b.frames[:len(b.frames)-1]
			b.mu.Unlock()
			return frame, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-b.notEmpty:
		case <-deadline.C:
			return nil, false
		}
	}
}

// Len returns the number of buffered frames
func (b *LatestBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Close drains the buffer and rejects further writes
func (b *LatestBuffer) Close() {
	b.mu.Lock()
	b.frames = b.frames[:0]
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notEmpty <- struct{}{}:
	default:
	}
}
