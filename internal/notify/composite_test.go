package notify

import (
	"context"
	"fmt"
	"testing"
)

type stubSink struct {
	err   error
	calls int
}

func (s *stubSink) Send(ctx context.Context, message string, jpeg []byte) error {
	s.calls++
	return s.err
}

func TestCompositeDeliversToAll(t *testing.T) {
	a, b := &stubSink{}, &stubSink{}
	composite := NewComposite(a, b)

	if err := composite.Send(context.Background(), "msg", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("Expected both sinks called, got %d and %d", a.calls, b.calls)
	}
}

func TestCompositePartialFailureSucceeds(t *testing.T) {
	a := &stubSink{err: fmt.Errorf("down")}
	b := &stubSink{}
	composite := NewComposite(a, b)

	if err := composite.Send(context.Background(), "msg", nil); err != nil {
		t.Errorf("One working sink should be enough, got %v", err)
	}
}

func TestCompositeTotalFailure(t *testing.T) {
	a := &stubSink{err: fmt.Errorf("down")}
	b := &stubSink{err: fmt.Errorf("also down")}
	composite := NewComposite(a, b)

	if err := composite.Send(context.Background(), "msg", nil); err == nil {
		t.Error("Expected an error when every sink fails")
	}
}
