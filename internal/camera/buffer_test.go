package camera

import (
	"testing"
	"time"
)

func frameWithByte(b byte) *Frame {
	return &Frame{Data: []byte{b}, Width: 1, Height: 1, Timestamp: time.Now()}
}

func TestLatestBuffer_PutGet(t *testing.T) {
	buf := NewLatestBuffer(2)

	if err := buf.Put(frameWithByte(1)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	frame, ok := buf.Get(time.Second)
	if !ok {
		t.Fatal("Expected a frame")
	}
	if frame.Data[0] != 1 {
		t.Errorf("Expected frame 1, got %d", frame.Data[0])
	}
}

func TestLatestBuffer_DropOldest(t *testing.T) {
	buf := NewLatestBuffer(2)

	// Five rapid arrivals with no reads keep only the two newest
	for i := byte(1); i <= 5; i++ {
		if err := buf.Put(frameWithByte(i)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if buf.Len() != 2 {
		t.Fatalf("Expected 2 buffered frames, got %d", buf.Len())
	}

	first, _ := buf.Get(time.Second)
	second, _ := buf.Get(time.Second)
	if first.Data[0] != 4 || second.Data[0] != 5 {
		t.Errorf("Expected frames 4,5; got %d,%d", first.Data[0], second.Data[0])
	}
}

func TestLatestBuffer_GetTimeout(t *testing.T) {
	buf := NewLatestBuffer(2)

	start := time.Now()
	frame, ok := buf.Get(30 * time.Millisecond)
	if ok || frame != nil {
		t.Error("Expected timeout with no frame")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("Get returned before the timeout elapsed")
	}
}

func TestLatestBuffer_GetWakesOnPut(t *testing.T) {
	buf := NewLatestBuffer(2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		buf.Put(frameWithByte(7))
	}()

	frame, ok := buf.Get(time.Second)
	if !ok {
		t.Fatal("Expected a frame delivered to the waiting reader")
	}
	if frame.Data[0] != 7 {
		t.Errorf("Expected frame 7, got %d", frame.Data[0])
	}
}

func TestLatestBuffer_Close(t *testing.T) {
	buf := NewLatestBuffer(2)
	buf.Put(frameWithByte(1))
	buf.Close()

	if err := buf.Put(frameWithByte(2)); err != ErrBufferClosed {
		t.Errorf("Expected ErrBufferClosed, got %v", err)
	}
	if frame, ok := buf.Get(10 * time.Millisecond); ok || frame != nil {
		t.Error("Expected no frame from a closed, drained buffer")
	}
}
