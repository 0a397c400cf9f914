package motion

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/hw/stepper"
	"github.com/earti/camlift/internal/logic/command"
	"github.com/earti/camlift/internal/logic/geometry"
	"github.com/earti/camlift/internal/logic/position"
)

// ErrSlotOutOfRange is returned by GoToSlot before any motion starts.
var ErrSlotOutOfRange = geometry.ErrSlotOutOfRange

// Actuator is the hardware boundary: one step pulse, one servo command, one
// limit read. Implementations block for the pulse duration only.
type Actuator interface {
	PulseStep(dir stepper.Direction) error
	SetPanPulse(width int) error
	IsAtTopLimit() (bool, error)
}

// FaultError wraps an actuator failure. It is never retried: a partial retry
// could double-count position.
type FaultError struct {
	Op  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("hardware fault during %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// State is the planner state machine.
type State int32

const (
	Idle State = iota
	Homing
	InTransit
	AtLimit
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Homing:
		return "homing"
	case InTransit:
		return "in_transit"
	case AtLimit:
		return "at_limit"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the motion tunables.
type Config struct {
	Travel       geometry.Travel
	PanSteps     int           // micro-adjustments per pan command
	PanIncrement int           // pulse-width change per micro-adjustment (µs)
	PanInterval  time.Duration // pause after each micro-adjustment
}

// Controller turns motion requests into bounded sequences of actuator calls
// and keeps the tracker in step with every pulse. It is not safe for
// concurrent use: exactly one goroutine (the dispatcher) drives it. State may
// be read from anywhere.
type Controller struct {
	act   Actuator
	pos   *position.Tracker
	cfg   Config
	state atomic.Int32
}

// NewController validates cfg and returns an idle controller.
func NewController(act Actuator, tracker *position.Tracker, cfg Config) (*Controller, error) {
	if err := cfg.Travel.Validate(); err != nil {
		return nil, fmt.Errorf("invalid travel: %w", err)
	}
	if cfg.PanSteps <= 0 {
		return nil, fmt.Errorf("pan steps must be > 0, got %d", cfg.PanSteps)
	}
	if cfg.PanIncrement <= 0 {
		return nil, fmt.Errorf("pan increment must be > 0, got %d", cfg.PanIncrement)
	}
	debug.Verbose("Planner: slot positions %v", cfg.Travel.Slots())
	return &Controller{act: act, pos: tracker, cfg: cfg}, nil
}

// State returns the current state machine state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Execute runs one request to completion. Unknown requests are no-ops.
func (c *Controller) Execute(req command.Request) error {
	switch req.Kind {
	case command.StepUp:
		return c.StepUp()
	case command.StepDown:
		return c.StepDown()
	case command.PanLeft:
		return c.PanLeft()
	case command.PanRight:
		return c.PanRight()
	case command.GoToSlot:
		return c.GoToSlot(req.Slot)
	case command.GoHome:
		return c.GoHome()
	default:
		debug.Verbose("Planner: ignoring %s", req)
		return nil
	}
}

// GoHome drives the carriage up until the top switch closes, then zeroes the
// tracker. There is no iteration bound other than the switch itself; this is
// the only point where the tracked position is re-synchronised with hardware.
func (c *Controller) GoHome() error {
	c.setState(Homing)
	debug.Live("Planner: homing from %d steps", c.pos.Steps())

	pulses := 0
	for {
		atTop, err := c.topLimit()
		if err != nil {
			return err
		}
		if atTop {
			break
		}
		if err := c.pulse(stepper.Up); err != nil {
			return err
		}
		pulses++
	}

	c.pos.Reset()
	c.setState(Idle)
	debug.Info("Homing complete after %d pulses", pulses)
	return nil
}

// StepUp moves one batch toward the top. At the switch, or with the tracker
// already at 0, nothing moves and the tracker is forced to 0 to absorb drift.
func (c *Controller) StepUp() error {
	c.setState(InTransit)
	hit, err := c.batchUp()
	if err != nil {
		return err
	}
	if hit {
		c.setState(AtLimit)
	} else {
		c.setState(Idle)
	}
	return nil
}

// StepDown moves one batch away from the top unless already at MaxSteps.
func (c *Controller) StepDown() error {
	c.setState(InTransit)
	if err := c.batchDown(); err != nil {
		return err
	}
	c.setState(Idle)
	return nil
}

// GoToSlot steps batch by batch until the tracked position equals the slot
// position exactly. It does not yield between batches; Travel.Validate
// guarantees every slot is a whole number of batches from the top.
func (c *Controller) GoToSlot(n int) error {
	target, err := c.cfg.Travel.SlotPosition(n)
	if err != nil {
		return err
	}

	c.setState(InTransit)
	debug.Live("Planner: slot %d -> %d steps (from %d)", n, target, c.pos.Steps())

	batches := 0
	for {
		cur := c.pos.Steps()
		if cur == target {
			break
		}
		if cur > target {
			if _, err := c.batchUp(); err != nil {
				return err
			}
		} else {
			if err := c.batchDown(); err != nil {
				return err
			}
		}
		batches++
	}

	c.setState(Idle)
	debug.Live("Planner: reached slot %d after %d batches", n, batches)
	return nil
}

// PanLeft sweeps the servo toward MinPulse.
func (c *Controller) PanLeft() error {
	return c.sweep(-c.cfg.PanIncrement)
}

// PanRight sweeps the servo toward MaxPulse.
func (c *Controller) PanRight() error {
	return c.sweep(c.cfg.PanIncrement)
}

// PanTo sweeps the servo to an absolute pulse width (clamped).
func (c *Controller) PanTo(width int) error {
	l := c.pos.Limits()
	target := min(max(width, l.MinPulse), l.MaxPulse)
	for {
		cur := c.pos.Pan()
		if cur == target {
			return nil
		}
		delta := min(c.cfg.PanIncrement, abs(target-cur))
		if target < cur {
			delta = -delta
		}
		if err := c.panBy(delta); err != nil {
			return err
		}
	}
}

func (c *Controller) sweep(delta int) error {
	debug.Move("pan", c.cfg.PanSteps*abs(delta), direction(delta))
	for i := 0; i < c.cfg.PanSteps; i++ {
		before := c.pos.Pan()
		if err := c.panBy(delta); err != nil {
			return err
		}
		if c.pos.Pan() == before {
			break // clamped at the end of travel
		}
	}
	return nil
}

func (c *Controller) panBy(delta int) error {
	l := c.pos.Limits()
	next := min(max(c.pos.Pan()+delta, l.MinPulse), l.MaxPulse)
	if err := c.act.SetPanPulse(next); err != nil {
		return &FaultError{Op: "set pan pulse", Err: err}
	}
	c.pos.SetPan(next)
	if c.cfg.PanInterval > 0 {
		time.Sleep(c.cfg.PanInterval)
	}
	return nil
}

// batchUp emits up to one batch of Up pulses, polling the switch before each
// one. It reports whether the switch stopped the batch.
func (c *Controller) batchUp() (bool, error) {
	atTop, err := c.topLimit()
	if err != nil {
		return false, err
	}
	if atTop || c.pos.Steps() <= 0 {
		c.pos.Reset()
		debug.Live("Planner: at top, step up ignored")
		return true, nil
	}

	debug.Move("carriage", c.cfg.Travel.Batch, stepper.Up.String())
	for i := 0; i < c.cfg.Travel.Batch; i++ {
		if i > 0 {
			atTop, err := c.topLimit()
			if err != nil {
				return false, err
			}
			if atTop {
				debug.Warn("Top switch closed mid-batch at tracked %d steps, resynchronising", c.pos.Steps())
				c.pos.Reset()
				return true, nil
			}
		}
		if err := c.pulse(stepper.Up); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (c *Controller) batchDown() error {
	if c.pos.Steps() >= c.cfg.Travel.MaxSteps {
		debug.Live("Planner: at max steps, step down ignored")
		return nil
	}
	debug.Move("carriage", c.cfg.Travel.Batch, stepper.Down.String())
	for i := 0; i < c.cfg.Travel.Batch; i++ {
		if err := c.pulse(stepper.Down); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) pulse(dir stepper.Direction) error {
	if err := c.act.PulseStep(dir); err != nil {
		return &FaultError{Op: "step " + dir.String(), Err: err}
	}
	c.pos.RecordStep(dir)
	return nil
}

func (c *Controller) topLimit() (bool, error) {
	atTop, err := c.act.IsAtTopLimit()
	if err != nil {
		return false, &FaultError{Op: "read top limit", Err: err}
	}
	return atTop, nil
}

func direction(delta int) string {
	if delta < 0 {
		return "left"
	}
	return "right"
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
