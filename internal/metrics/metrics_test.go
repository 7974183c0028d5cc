package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vigil-sec/vigil/internal/config"
	"github.com/vigil-sec/vigil/internal/core"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestBusDrivenCounters(t *testing.T) {
	bus, err := core.NewEventBus(config.BusConfig{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("NewEventBus failed: %v", err)
	}
	defer bus.Stop()

	m := New()
	if err := m.Attach(bus); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if err := bus.Publish(core.SubjectDetection, map[string]string{"type": "person"}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(core.SubjectAlert, map[string]string{"level": "CRITICAL"}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(core.SubjectState, map[string]string{"state": "alarm"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		body := scrape(t, m)
		if strings.Contains(body, `vigil_detections_total{type="person"} 1`) &&
			strings.Contains(body, `vigil_alerts_total{level="CRITICAL"} 1`) &&
			strings.Contains(body, "vigil_alarm_state 2") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Counters not updated, last scrape:\n%s", scrape(t, m))
}
