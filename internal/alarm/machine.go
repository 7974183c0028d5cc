// Package alarm provides the security system state machine and the
// control surface exposed to the dashboard and bot layers.
package alarm

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the system operational state
type State string

const (
	StateDisarmed State = "disarmed"
	StateArmed    State = "armed"
	StateAlarm    State = "alarm"
	StateError    State = "error"
)

var (
	// ErrNotArmed is returned by TriggerAlarm outside the Armed state
	ErrNotArmed = errors.New("alarm: system is not armed")
	// ErrNoAlarm is returned by ClearAlarm outside the Alarm state
	ErrNoAlarm = errors.New("alarm: no active alarm")
)

const disarmJoinTimeout = 5 * time.Second

// DetectionLoop is the scheduler lifecycle as seen by the machine
type DetectionLoop interface {
	// Start launches the loop goroutine
	Start() error
	// Stop signals the loop and joins with a bounded wait; false means
	// the join timed out
	Stop(timeout time.Duration) bool
	// Usable reports whether a primary classifier is loaded
	Usable() bool
}

// Publisher mirrors state transitions onto the internal event bus
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Machine is the alarm state machine. It is the single writer of the
// system state; every transition happens under its lock.
type Machine struct {
	mu        sync.RWMutex
	state     State
	loop      DetectionLoop
	indicator HardwareIndicator
	publisher Publisher
	logger    *slog.Logger
}

// NewMachine creates a state machine in the Disarmed state. A nil
// indicator is replaced with the no-op implementation.
func NewMachine(indicator HardwareIndicator, publisher Publisher) *Machine {
	if indicator == nil {
		indicator = NoopIndicator{}
	}
	return &Machine{
		state:     StateDisarmed,
		indicator: indicator,
		publisher: publisher,
		logger:    slog.Default().With("component", "alarm"),
	}
}

// SetDetectionLoop attaches the scheduler. Called once during wiring,
// before the machine is armed.
func (m *Machine) SetDetectionLoop(loop DetectionLoop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop = loop
}

// State returns the current system state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// DetectionActive reports whether classification should run. The
// scheduler gates every iteration on this.
func (m *Machine) DetectionActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateArmed || m.state == StateAlarm
}

// Arm moves the system to Armed and starts the detection loop when a
// usable classifier is available. Idempotent: arming an armed system
// succeeds without starting a second loop.
func (m *Machine) Arm() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateArmed, StateAlarm:
		m.logger.Warn("System is already armed")
		return true, "already armed"
	case StateError:
		return false, "system in error state, disarm first"
	}

	if m.loop != nil && m.loop.Usable() {
		if err := m.loop.Start(); err != nil {
			m.logger.Error("Failed to start detection loop", "error", err)
			return false, "failed to start detection"
		}
	} else {
		// Explicit degraded mode: armed, detection disabled
		m.logger.Warn("Armed without detection, no classifier loaded")
	}

	m.setStateLocked(StateArmed, "armed")
	m.indicator.SetArmed()
	m.logger.Info("System armed")
	return true, "armed"
}

// Disarm moves to Disarmed from any state, stopping the detection
// loop with a bounded join and silencing alarm indicators. Best
// effort: the transition completes even if the join times out.
func (m *Machine) Disarm() (bool, string) {
	m.mu.RLock()
	loop := m.loop
	m.mu.RUnlock()

	// Join outside the state lock so the loop can still read the state
	// while winding down
	if loop != nil {
		if !loop.Stop(disarmJoinTimeout) {
			m.logger.Warn("Detection loop did not stop in time")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(StateDisarmed, "disarmed")
	m.indicator.AllOff()
	m.logger.Info("System disarmed")
	return true, "disarmed"
}

// TriggerAlarm escalates Armed to Alarm and activates alarm
// indicators. Valid only from the Armed state.
func (m *Machine) TriggerAlarm() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateArmed {
		return ErrNotArmed
	}
	m.setStateLocked(StateAlarm, "alarm triggered")
	m.indicator.SetAlarm()
	m.logger.Warn("Alarm triggered")
	return nil
}

// ClearAlarm acknowledges an active alarm and returns to Armed
func (m *Machine) ClearAlarm() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAlarm {
		return ErrNoAlarm
	}
	m.setStateLocked(StateArmed, "alarm cleared")
	m.indicator.SetArmed()
	m.logger.Info("Alarm cleared")
	return nil
}

// SetError forces the Error state after an unrecoverable detection
// failure. Exits only via Disarm.
func (m *Machine) SetError(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setStateLocked(StateError, reason)
	m.indicator.SetError()
	m.logger.Error("System entered error state", "reason", reason)
}

// setStateLocked updates the state and publishes the transition
// (caller must hold the lock). Re-entering the current state is not a
// transition and publishes nothing.
func (m *Machine) setStateLocked(state State, reason string) {
	from := m.state
	m.state = state
	if from == state {
		return
	}
	if m.publisher != nil {
		m.publisher.Publish("vigil.state", map[string]interface{}{
			"from":   string(from),
			"state":  string(state),
			"reason": reason,
			"at":     time.Now(),
		})
	}
}
