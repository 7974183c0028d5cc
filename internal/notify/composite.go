package notify

import (
	"context"
	"log/slog"

	"github.com/vigil-sec/vigil/internal/alerts"
)

// Composite fans one alert out to several sinks. Delivery counts as
// successful when at least one sink accepts it.
type Composite struct {
	sinks  []alerts.NotificationSink
	logger *slog.Logger
}

// NewComposite wraps the given sinks as a single sink
func NewComposite(sinks ...alerts.NotificationSink) *Composite {
	return &Composite{
		sinks:  sinks,
		logger: slog.Default().With("component", "notify"),
	}
}

// Send delivers to all sinks and reports the last error only if every
// sink failed
func (c *Composite) Send(ctx context.Context, message string, jpeg []byte) error {
	var lastErr error
	delivered := false
	for _, sink := range c.sinks {
		if err := sink.Send(ctx, message, jpeg); err != nil {
			c.logger.Warn("Sink delivery failed", "error", err)
			lastErr = err
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return lastErr
}
