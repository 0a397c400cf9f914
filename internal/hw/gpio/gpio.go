package gpio

import (
	"sync"

	"github.com/earti/camlift/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates how a GPIO is configured.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up enabled (switches to ground)
	PWM         // hardware PWM clocked at PWMClockHz
)

// PWMClockHz is the PWM tick rate. At 1 MHz one duty unit is one microsecond,
// so a servo pulse width maps directly onto the duty length.
const PWMClockHz = 1_000_000

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	// WritePWM sets the duty length out of cycle ticks on a PWM pin.
	WritePWM(pin int, duty, cycle uint32) error
	Close() error
}

// Call is one recorded MockDriver operation.
type Call struct {
	Op    string // "setup", "write", "read", "pwm"
	Pin   int
	Mode  PinMode
	Level Level
	Duty  uint32
}

// MockDriver is an in-memory implementation that logs and records actions.
// Inputs read High (idle pull-up) unless set with SetInput.
type MockDriver struct {
	mu     sync.Mutex
	calls  []Call
	inputs map[int]Level
	closed bool
}

// NewMockDriver returns an empty MockDriver.
func NewMockDriver() *MockDriver {
	return &MockDriver{inputs: make(map[int]Level)}
}

// SetInput fixes the level returned by ReadPin for pin.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inputs == nil {
		m.inputs = make(map[int]Level)
	}
	m.inputs[pin] = level
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.record(Call{Op: "setup", Pin: pin, Mode: mode})
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.record(Call{Op: "write", Pin: pin, Level: level})
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "read", Pin: pin})
	if lvl, ok := m.inputs[pin]; ok {
		return lvl, nil
	}
	return High, nil
}

func (m *MockDriver) WritePWM(pin int, duty, cycle uint32) error {
	debug.GPIO("WritePWM", pin, duty)
	m.record(Call{Op: "pwm", Pin: pin, Duty: duty})
	return nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

// Calls returns the recorded operations matching op ("" for all).
func (m *MockDriver) Calls(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Call
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			result = append(result, c)
		}
	}
	return result
}

// Reset forgets recorded calls, keeping input levels.
func (m *MockDriver) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// Closed reports whether Close has been called.
func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LastWrite returns the last level written to pin and whether any write happened.
func (m *MockDriver) LastWrite(pin int) (Level, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if c := m.calls[i]; c.Op == "write" && c.Pin == pin {
			return c.Level, true
		}
	}
	return Low, false
}
