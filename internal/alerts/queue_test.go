package alerts

import "testing"

func TestQueue_SeverityOrder(t *testing.T) {
	q := newQueue()
	q.push(&Alert{Level: LevelLow, Message: "low"})
	q.push(&Alert{Level: LevelCritical, Message: "critical"})
	q.push(&Alert{Level: LevelHigh, Message: "high"})

	want := []Level{LevelCritical, LevelHigh, LevelLow}
	for _, level := range want {
		alert, ok := q.pop()
		if !ok {
			t.Fatal("Queue emptied early")
		}
		if alert.Level != level {
			t.Errorf("Expected level %v, got %v", level, alert.Level)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("Expected empty queue")
	}
}

func TestQueue_Drain(t *testing.T) {
	q := newQueue()
	for i := 0; i < 4; i++ {
		q.push(&Alert{Level: LevelLow})
	}
	if n := q.drain(); n != 4 {
		t.Errorf("Expected 4 drained, got %d", n)
	}
	if q.len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.len())
	}
}
