// Package rig assembles the carriage stepper, the pan servo and the top limit
// switch into the three primitives the motion planner drives.
package rig

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/hw/gpio"
	"github.com/earti/camlift/internal/hw/limit"
	"github.com/earti/camlift/internal/hw/servo"
	"github.com/earti/camlift/internal/hw/stepper"
)

// Config holds the pin assignments of the whole unit.
type Config struct {
	Stepper  stepper.Config
	Servo    servo.Config
	LimitPin int
}

// Rig is the hardware-backed actuator.
type Rig struct {
	drv   gpio.Driver
	motor *stepper.Stepper
	pan   *servo.Servo
	top   *limit.Switch

	shutdownOnce sync.Once
	shutdownErr  error
}

// New configures every pin. On failure the driver is left open for the caller to close.
func New(drv gpio.Driver, cfg Config) (*Rig, error) {
	motor, err := stepper.NewStepper(drv, cfg.Stepper)
	if err != nil {
		return nil, fmt.Errorf("init stepper: %w", err)
	}
	debug.PrintStruct("Stepper config", cfg.Stepper)

	pan, err := servo.New(drv, cfg.Servo)
	if err != nil {
		return nil, fmt.Errorf("init servo: %w", err)
	}
	debug.PrintStruct("Servo config", cfg.Servo)

	top, err := limit.New(drv, cfg.LimitPin)
	if err != nil {
		return nil, fmt.Errorf("init limit switch: %w", err)
	}
	debug.Value("Top limit pin", cfg.LimitPin)

	return &Rig{drv: drv, motor: motor, pan: pan, top: top}, nil
}

// PulseStep emits one carriage step.
func (r *Rig) PulseStep(dir stepper.Direction) error {
	return r.motor.Pulse(dir)
}

// SetPanPulse commands the servo; the width is clamped again here.
func (r *Rig) SetPanPulse(width int) error {
	_, err := r.pan.SetPulse(width)
	return err
}

// IsAtTopLimit reads the top end stop.
func (r *Rig) IsAtTopLimit() (bool, error) {
	return r.top.Pressed()
}

// Shutdown depowers the servo, disables the motor driver and releases GPIO.
// Every step is attempted even if an earlier one fails. Safe to call more than once.
func (r *Rig) Shutdown() error {
	r.shutdownOnce.Do(func() {
		debug.Info("Rig: shutting down actuators")
		var errs []error
		if err := r.pan.Off(); err != nil {
			errs = append(errs, err)
		}
		if err := r.motor.Disable(); err != nil {
			errs = append(errs, fmt.Errorf("disable motor: %w", err))
		}
		if err := r.drv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gpio: %w", err))
		}
		r.shutdownErr = errors.Join(errs...)
	})
	return r.shutdownErr
}
