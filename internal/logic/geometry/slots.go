package geometry

import (
	"errors"
	"fmt"
)

// MaxSlots is the number of tray levels addressable over the wire ("1".."10").
const MaxSlots = 10

// ErrSlotOutOfRange is returned for a slot index outside [1, SlotCount].
var ErrSlotOutOfRange = errors.New("slot out of range")

// Travel describes the fixed, pre-measured carriage travel. Position 0 is the
// top limit switch; positions grow downward.
type Travel struct {
	MaxSteps     int // bottom of usable travel
	StepsPerSlot int // spacing between tray levels
	SlotCount    int // number of configured slots
	Batch        int // pulses per StepUp/StepDown command
}

// Validate checks that every slot is reachable by whole batches from the top,
// so a GoToSlot loop always terminates, and that no batch can overrun MaxSteps.
func (t Travel) Validate() error {
	if t.Batch <= 0 {
		return fmt.Errorf("step batch must be > 0, got %d", t.Batch)
	}
	if t.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be > 0, got %d", t.MaxSteps)
	}
	if t.MaxSteps%t.Batch != 0 {
		return fmt.Errorf("max steps %d is not a multiple of step batch %d", t.MaxSteps, t.Batch)
	}
	if t.StepsPerSlot <= 0 {
		return fmt.Errorf("steps per slot must be > 0, got %d", t.StepsPerSlot)
	}
	if t.StepsPerSlot%t.Batch != 0 {
		return fmt.Errorf("steps per slot %d is not a multiple of step batch %d", t.StepsPerSlot, t.Batch)
	}
	if t.SlotCount < 1 || t.SlotCount > MaxSlots {
		return fmt.Errorf("slot count must be between 1 and %d, got %d", MaxSlots, t.SlotCount)
	}
	if last := t.SlotCount * t.StepsPerSlot; last > t.MaxSteps {
		return fmt.Errorf("slot %d at %d steps lies beyond max steps %d", t.SlotCount, last, t.MaxSteps)
	}
	return nil
}

// SlotPosition returns the absolute carriage position of slot n.
func (t Travel) SlotPosition(n int) (int, error) {
	if n < 1 || n > t.SlotCount {
		return 0, fmt.Errorf("%w: %d (valid 1-%d)", ErrSlotOutOfRange, n, t.SlotCount)
	}
	return n * t.StepsPerSlot, nil
}

// Slots lists every slot position in order.
func (t Travel) Slots() []int {
	out := make([]int, 0, t.SlotCount)
	for n := 1; n <= t.SlotCount; n++ {
		out = append(out, n*t.StepsPerSlot)
	}
	return out
}
