package stepper

import (
	"fmt"
	"time"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/hw/gpio"
)

// Direction is the carriage travel direction.
type Direction int

const (
	Up   Direction = iota // toward the top limit switch, decreasing step count
	Down                  // away from the top, increasing step count
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// Config holds the hardware configuration for a stepper motor driver
// (DRV8825 / A4988 pinout). Pin value 0 means "not wired".
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int    // ENABLE pin (BCM). Active LOW (LOW=enabled).
	SleepPin      int    // SLEEP pin, held HIGH (awake).
	ResetPin      int    // RESET pin, held HIGH (running).
	ModePins      [3]int // M0, M1, M2
	Microstepping int    // 1, 2, 4, 8, 16 or 32; only applied when ModePins are wired

	// PulseWidth is the duration of each half-cycle of the STEP pulse.
	PulseWidth time.Duration
}

// Stepper issues single step pulses on a STEP/DIR driver.
type Stepper struct {
	gpio   gpio.Driver
	cfg    Config
	delay  time.Duration
	dir    Direction
	dirSet bool
}

// modeTable maps a microstepping divisor to DRV8825 M0, M1, M2 levels.
var modeTable = map[int][3]gpio.Level{
	1:  {gpio.Low, gpio.Low, gpio.Low},
	2:  {gpio.High, gpio.Low, gpio.Low},
	4:  {gpio.Low, gpio.High, gpio.Low},
	8:  {gpio.High, gpio.High, gpio.Low},
	16: {gpio.Low, gpio.Low, gpio.High},
	32: {gpio.High, gpio.Low, gpio.High},
}

// ModeLevels returns the M0, M1, M2 levels selecting microstepping.
func ModeLevels(microstepping int) ([3]gpio.Level, error) {
	levels, ok := modeTable[microstepping]
	if !ok {
		return levels, fmt.Errorf("unsupported microstepping 1/%d", microstepping)
	}
	return levels, nil
}

// NewStepper configures the driver pins and enables the motor.
// cfg.PulseWidth: if 0, defaults to 500µs per half-cycle.
func NewStepper(g gpio.Driver, cfg Config) (*Stepper, error) {
	delay := cfg.PulseWidth
	if delay <= 0 {
		delay = 500 * time.Microsecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}

	for _, pin := range []int{cfg.StepPin, cfg.DirPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup pin %d: %w", pin, err)
		}
	}

	// SLEEP and RESET are active LOW; keep the driver awake and out of reset.
	for _, pin := range []int{cfg.SleepPin, cfg.ResetPin} {
		if pin <= 0 {
			continue
		}
		if err := s.drive(pin, gpio.High); err != nil {
			return nil, err
		}
	}

	if cfg.ModePins != [3]int{} {
		levels, err := ModeLevels(cfg.Microstepping)
		if err != nil {
			return nil, err
		}
		for i, pin := range cfg.ModePins {
			if pin <= 0 {
				continue
			}
			if err := s.drive(pin, levels[i]); err != nil {
				return nil, err
			}
		}
		debug.Verbose("Stepper: microstepping 1/%d", cfg.Microstepping)
	}

	if cfg.EnablePin > 0 {
		if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup enable pin %d: %w", cfg.EnablePin, err)
		}
	}
	if err := s.Enable(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Stepper) drive(pin int, level gpio.Level) error {
	if err := s.gpio.SetupPin(pin, gpio.Output); err != nil {
		return fmt.Errorf("setup pin %d: %w", pin, err)
	}
	if err := s.gpio.WritePin(pin, level); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Pulse emits exactly one step in dir. The DIR line is only written when the
// direction changes. Blocks for two half-cycles.
func (s *Stepper) Pulse(dir Direction) error {
	if !s.dirSet || s.dir != dir {
		level := gpio.Low
		if dir == Up {
			level = gpio.High
		}
		if err := s.gpio.WritePin(s.cfg.DirPin, level); err != nil {
			return fmt.Errorf("set direction %s: %w", dir, err)
		}
		s.dir = dir
		s.dirSet = true
	}

	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return fmt.Errorf("step pulse high: %w", err)
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return fmt.Errorf("step pulse low: %w", err)
	}
	time.Sleep(s.delay)
	return nil
}

// Enable turns on the motor driver (ENABLE=LOW). Motor holds position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motor freewheels.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
