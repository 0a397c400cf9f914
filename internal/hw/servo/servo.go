package servo

import (
	"fmt"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/hw/gpio"
)

// DefaultPeriodUs is the standard 50 Hz hobby servo frame.
const DefaultPeriodUs = 20000

// Config describes a pulse-width controlled servo on a hardware PWM pin.
type Config struct {
	Pin      int
	MinPulse int // microseconds
	MaxPulse int // microseconds
	PeriodUs int // PWM frame length; 0 = DefaultPeriodUs
}

// Servo drives a hobby servo by pulse width. Every write is clamped to
// [MinPulse, MaxPulse] regardless of what the caller asks for.
type Servo struct {
	gpio   gpio.Driver
	cfg    Config
	period uint32
	pulse  int
}

// New configures the PWM pin. The servo stays unpowered until the first SetPulse.
func New(g gpio.Driver, cfg Config) (*Servo, error) {
	if cfg.MinPulse >= cfg.MaxPulse {
		return nil, fmt.Errorf("servo: min pulse %d must be below max pulse %d", cfg.MinPulse, cfg.MaxPulse)
	}
	period := cfg.PeriodUs
	if period <= 0 {
		period = DefaultPeriodUs
	}
	if cfg.MaxPulse > period {
		return nil, fmt.Errorf("servo: max pulse %d exceeds period %d", cfg.MaxPulse, period)
	}
	if err := g.SetupPin(cfg.Pin, gpio.PWM); err != nil {
		return nil, fmt.Errorf("servo: setup pin %d: %w", cfg.Pin, err)
	}
	return &Servo{gpio: g, cfg: cfg, period: uint32(period)}, nil
}

// Clamp limits width to the configured pulse range.
func (s *Servo) Clamp(width int) int {
	return min(max(width, s.cfg.MinPulse), s.cfg.MaxPulse)
}

// SetPulse commands a pulse width and returns the width actually applied.
func (s *Servo) SetPulse(width int) (int, error) {
	w := s.Clamp(width)
	if w != width {
		debug.Verbose("Servo: pulse %dus clamped to %dus", width, w)
	}
	if err := s.gpio.WritePWM(s.cfg.Pin, uint32(w), s.period); err != nil {
		return s.pulse, fmt.Errorf("servo: write pulse %d: %w", w, err)
	}
	s.pulse = w
	return w, nil
}

// Pulse returns the last applied pulse width (0 when unpowered).
func (s *Servo) Pulse() int {
	return s.pulse
}

// Off stops the pulse train so the servo no longer holds position.
func (s *Servo) Off() error {
	if err := s.gpio.WritePWM(s.cfg.Pin, 0, s.period); err != nil {
		return fmt.Errorf("servo: power off: %w", err)
	}
	s.pulse = 0
	return nil
}
