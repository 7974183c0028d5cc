package alerts

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-sec/vigil/internal/camera"
)

const (
	pollInterval    = 250 * time.Millisecond
	deliveryTimeout = 15 * time.Second
	stopJoinTimeout = 5 * time.Second
)

// FrameEncoder turns a frame into a JPEG for delivery. A nil encoder
// sends text-only alerts.
type FrameEncoder func(*camera.Frame) ([]byte, error)

// Publisher mirrors delivered alerts onto the internal event bus
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// DispatcherConfig configures the alert dispatcher
type DispatcherConfig struct {
	Sink      NotificationSink
	Cooldown  time.Duration
	Encoder   FrameEncoder
	Publisher Publisher // optional
	Subject   string    // bus subject for delivered alerts
}

// Dispatcher serializes alert delivery to a single notification sink,
// honoring the cooldown while preserving severity ordering. Enqueue
// never blocks the caller.
type Dispatcher struct {
	cfg    DispatcherConfig
	queue  *queue
	wake   chan struct{}
	logger *slog.Logger

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastDelivery time.Time

	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

// NewDispatcher creates an alert dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Subject == "" {
		cfg.Subject = "vigil.alert"
	}
	return &Dispatcher{
		cfg:    cfg,
		queue:  newQueue(),
		wake:   make(chan struct{}, 1),
		logger: slog.Default().With("component", "alerts"),
	}
}

// Start launches the background consumer loop
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.running = true
	go d.consume(d.stopCh, d.doneCh)
	d.logger.Info("Alert dispatcher started", "cooldown", d.cfg.Cooldown)
}

// Enqueue adds an alert. It always accepts and never blocks.
func (d *Dispatcher) Enqueue(level Level, message string, frame *camera.Frame) {
	alert := &Alert{
		Level:     level,
		Message:   message,
		Frame:     frame,
		CreatedAt: time.Now(),
	}
	d.queue.push(alert)
	d.received.Add(1)
	d.logger.Debug("Alert queued", "level", level.String(), "queue_size", d.queue.len())

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// consume pops the highest-severity alert, waits out the cooldown if
// needed, and makes a single delivery attempt per dequeue
func (d *Dispatcher) consume(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-d.wake:
		case <-time.After(pollInterval):
		}

		for {
			alert, ok := d.queue.pop()
			if !ok {
				break
			}

			if wait := d.cooldownRemaining(); wait > 0 {
				// Requeue and sit out the remainder, responsive to shutdown
				d.queue.push(alert)
				select {
				case <-stopCh:
					return
				case <-time.After(wait):
				}
				continue
			}

			d.deliver(alert)

			select {
			case <-stopCh:
				return
			default:
			}
		}
	}
}

// cooldownRemaining returns how long until the next delivery is allowed
func (d *Dispatcher) cooldownRemaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastDelivery.IsZero() {
		return 0
	}
	remaining := d.cfg.Cooldown - time.Since(d.lastDelivery)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetCooldown replaces the delivery cooldown. Called on config
// reload; takes effect on the next dequeue.
func (d *Dispatcher) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cooldown == d.cfg.Cooldown {
		return
	}
	d.logger.Info("Alert cooldown updated", "cooldown", cooldown)
	d.cfg.Cooldown = cooldown
}

// deliver makes one attempt. Failures drop the alert and count it;
// there is no retry.
func (d *Dispatcher) deliver(alert *Alert) {
	var jpeg []byte
	if alert.Frame != nil && d.cfg.Encoder != nil {
		data, err := d.cfg.Encoder(alert.Frame)
		if err != nil {
			d.logger.Warn("Frame encode failed, sending text only", "error", err)
		} else {
			jpeg = data
		}
	}

	// No sink configured means log-only delivery
	var err error
	if d.cfg.Sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err = d.cfg.Sink.Send(ctx, alert.Message, jpeg)
		cancel()
	}

	if err != nil {
		d.dropped.Add(1)
		d.logger.Error("Alert delivery failed", "level", alert.Level.String(), "error", err)
		return
	}

	d.mu.Lock()
	d.lastDelivery = time.Now()
	d.mu.Unlock()
	d.sent.Add(1)
	d.logger.Info("Alert delivered", "level", alert.Level.String())

	if d.cfg.Publisher != nil {
		d.cfg.Publisher.Publish(d.cfg.Subject, map[string]interface{}{
			"level":      alert.Level.String(),
			"message":    alert.Message,
			"created_at": alert.CreatedAt,
		})
	}
}

// Stop signals the consumer, joins with a bounded wait, drains the
// queue and logs final statistics
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stopCh, doneCh := d.stopCh, d.doneCh
	d.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(stopJoinTimeout):
		d.logger.Warn("Consumer loop did not stop in time")
	}

	discarded := d.queue.drain()
	stats := d.Stats()
	d.logger.Info("Alert dispatcher stopped",
		"received", stats.Received,
		"sent", stats.Sent,
		"dropped", stats.Dropped,
		"discarded", discarded,
	)
}

// Stats returns dispatcher counters
func (d *Dispatcher) Stats() Stats {
	received := d.received.Load()
	sent := d.sent.Load()
	rate := 0.0
	if received > 0 {
		rate = float64(sent) / float64(received)
	}
	return Stats{
		Received:  received,
		Sent:      sent,
		Dropped:   d.dropped.Load(),
		QueueSize: d.queue.len(),
		SendRate:  rate,
	}
}
