package limit

import (
	"fmt"

	"github.com/earti/camlift/internal/hw/gpio"
)

// Switch is a normally-open end stop wired between the pin and ground with
// the internal pull-up enabled: the pin reads Low while the switch is pressed.
type Switch struct {
	gpio gpio.Driver
	pin  int
}

// New configures pin as a pulled-up input.
func New(g gpio.Driver, pin int) (*Switch, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("limit switch: setup pin %d: %w", pin, err)
	}
	return &Switch{gpio: g, pin: pin}, nil
}

// Pressed reports whether the switch is closed. No debouncing is applied;
// callers poll at most once per step pulse.
func (s *Switch) Pressed() (bool, error) {
	lvl, err := s.gpio.ReadPin(s.pin)
	if err != nil {
		return false, fmt.Errorf("limit switch: read pin %d: %w", s.pin, err)
	}
	return lvl == gpio.Low, nil
}
