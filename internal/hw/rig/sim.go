package rig

import (
	"sync"
	"time"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/hw/stepper"
)

// SimConfig describes a simulated unit.
type SimConfig struct {
	StartSteps  int // physical distance below the top switch at power-on
	TravelSteps int // physical bottom of travel; 0 = unbounded
	MinPulse    int
	MaxPulse    int
	PulseWidth  time.Duration // per half-cycle, 0 = no delay
}

// Simulator stands in for the hardware rig in mock mode and tests. It keeps a
// physical carriage position of its own, independent of the tracked estimate,
// and closes the top switch when the carriage reaches it.
type Simulator struct {
	mu       sync.Mutex
	cfg      SimConfig
	travel   int
	pulse    int
	ups      int
	downs    int
	panCalls int
	fault    error
	shutdown bool
}

// NewSimulator returns a simulator positioned at cfg.StartSteps.
func NewSimulator(cfg SimConfig) *Simulator {
	debug.Info("Using simulated rig (start=%d steps)", cfg.StartSteps)
	return &Simulator{cfg: cfg, travel: cfg.StartSteps}
}

func (s *Simulator) PulseStep(dir stepper.Direction) error {
	s.mu.Lock()
	if s.fault != nil {
		err := s.fault
		s.mu.Unlock()
		return err
	}
	if dir == stepper.Up {
		s.ups++
		if s.travel > 0 {
			s.travel--
		}
	} else {
		s.downs++
		if s.cfg.TravelSteps <= 0 || s.travel < s.cfg.TravelSteps {
			s.travel++
		}
	}
	s.mu.Unlock()

	if s.cfg.PulseWidth > 0 {
		time.Sleep(2 * s.cfg.PulseWidth)
	}
	return nil
}

func (s *Simulator) SetPanPulse(width int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	s.pulse = min(max(width, s.cfg.MinPulse), s.cfg.MaxPulse)
	s.panCalls++
	return nil
}

func (s *Simulator) IsAtTopLimit() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return false, s.fault
	}
	return s.travel <= 0, nil
}

// Shutdown marks the simulator as depowered.
func (s *Simulator) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulse = 0
	s.shutdown = true
	return nil
}

// InjectFault makes every following primitive fail with err (nil clears it).
func (s *Simulator) InjectFault(err error) {
	s.mu.Lock()
	s.fault = err
	s.mu.Unlock()
}

// Travel returns the physical carriage position.
func (s *Simulator) Travel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.travel
}

// SetTravel moves the physical carriage without pulses, e.g. to model drift.
func (s *Simulator) SetTravel(steps int) {
	s.mu.Lock()
	s.travel = steps
	s.mu.Unlock()
}

// Pulses returns the number of up and down pulses emitted so far.
func (s *Simulator) Pulses() (up, down int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ups, s.downs
}

// Pan returns the last commanded pulse width and how many times it was set.
func (s *Simulator) Pan() (width, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulse, s.panCalls
}

// IsShutdown reports whether Shutdown ran.
func (s *Simulator) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}
