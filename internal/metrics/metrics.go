// Package metrics exposes prometheus counters fed by the event bus
package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigil-sec/vigil/internal/core"
)

// stateValues maps alarm states to gauge values
var stateValues = map[string]float64{
	"disarmed": 0,
	"armed":    1,
	"alarm":    2,
	"error":    3,
}

// Metrics holds the prometheus registry and collectors
type Metrics struct {
	registry *prometheus.Registry

	detections *prometheus.CounterVec
	alerts     *prometheus.CounterVec
	state      prometheus.Gauge

	logger *slog.Logger
}

// New creates the registry with all collectors registered
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_detections_total",
			Help: "Detections by type",
		}, []string{"type"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alerts_total",
			Help: "Alerts by severity",
		}, []string{"level"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_alarm_state",
			Help: "Current alarm state (0=disarmed 1=armed 2=alarm 3=error)",
		}),
		logger: slog.Default().With("component", "metrics"),
	}

	m.registry.MustRegister(
		m.detections,
		m.alerts,
		m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Attach subscribes the collectors to the bus subjects
func (m *Metrics) Attach(bus *core.EventBus) error {
	if _, err := bus.Subscribe(core.SubjectDetection, m.onDetection); err != nil {
		return err
	}
	if _, err := bus.Subscribe(core.SubjectAlert, m.onAlert); err != nil {
		return err
	}
	if _, err := bus.Subscribe(core.SubjectState, m.onState); err != nil {
		return err
	}
	return nil
}

func (m *Metrics) onDetection(msg *nats.Msg) {
	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		m.logger.Debug("Bad detection payload", "error", err)
		return
	}
	m.detections.WithLabelValues(payload.Type).Inc()
}

func (m *Metrics) onAlert(msg *nats.Msg) {
	var payload struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		m.logger.Debug("Bad alert payload", "error", err)
		return
	}
	m.alerts.WithLabelValues(payload.Level).Inc()
}

func (m *Metrics) onState(msg *nats.Msg) {
	var payload struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		m.logger.Debug("Bad state payload", "error", err)
		return
	}
	if v, ok := stateValues[payload.State]; ok {
		m.state.Set(v)
	}
}

// Handler returns the scrape endpoint handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
