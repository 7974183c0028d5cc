package alarm

import "log/slog"

// HardwareIndicator drives the physical panel (LEDs, buzzer). The
// core only knows these four signals; register access lives outside.
type HardwareIndicator interface {
	SetArmed()
	SetAlarm()
	SetError()
	AllOff()
}

// NoopIndicator is the indicator used when no hardware panel is
// attached. Selected at startup instead of conditional imports.
type NoopIndicator struct{}

func (NoopIndicator) SetArmed() {}
func (NoopIndicator) SetAlarm() {}
func (NoopIndicator) SetError() {}
func (NoopIndicator) AllOff()   {}

// LoggingIndicator logs indicator transitions. Useful on development
// machines where the panel is absent but the signals matter.
type LoggingIndicator struct {
	Logger *slog.Logger
}

func (l LoggingIndicator) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l LoggingIndicator) SetArmed() { l.logger().Info("Indicator: armed") }
func (l LoggingIndicator) SetAlarm() { l.logger().Info("Indicator: alarm") }
func (l LoggingIndicator) SetError() { l.logger().Info("Indicator: error") }
func (l LoggingIndicator) AllOff()   { l.logger().Info("Indicator: all off") }
