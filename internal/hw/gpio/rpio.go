package gpio

import (
	"fmt"

	"github.com/earti/camlift/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins map[int]rpio.Pin
	pwm  map[int]bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root
// (hardware PWM needs /dev/mem).
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
		pwm:  make(map[int]bool),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	case PWM:
		p.Pwm()
		p.Freq(PWMClockHz)
		r.pwm[pin] = true
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPiDriver) WritePWM(pin int, duty, cycle uint32) error {
	debug.GPIO("WritePWM", pin, duty)

	if !r.pwm[pin] {
		if err := r.SetupPin(pin, PWM); err != nil {
			return err
		}
	}
	if duty > cycle {
		return fmt.Errorf("pwm pin %d: duty %d exceeds cycle %d", pin, duty, cycle)
	}
	r.pins[pin].DutyCycle(duty, cycle)
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		if r.pwm[pin] {
			p.DutyCycle(0, 1)
		}
		p.Input()
	}

	return rpio.Close()
}
