// Package position holds the authoritative estimate of where the carriage and
// the pan servo are. Only the top of travel is sensed, so the carriage count is
// dead-reckoned from the last homing.
package position

import (
	"sync"

	"github.com/earti/camlift/internal/hw/stepper"
)

// Limits bounds the tracked values.
type Limits struct {
	MaxSteps int
	MinPulse int
	MaxPulse int
}

// Snapshot is a consistent read of both counters.
type Snapshot struct {
	Steps int `json:"total_steps"`
	Pan   int `json:"servo_position"`
}

// Tracker is written by the motion path only; Snapshot may be called from any
// goroutine.
type Tracker struct {
	mu     sync.RWMutex
	limits Limits
	steps  int
	pan    int
}

// NewTracker starts at step 0 with the pan at the midpoint of its range.
func NewTracker(l Limits) *Tracker {
	return &Tracker{
		limits: l,
		pan:    l.MinPulse + (l.MaxPulse-l.MinPulse)/2,
	}
}

// RecordStep applies one pulse: Up decrements, Down increments, saturating at
// 0 and MaxSteps. It reports whether the count changed.
func (t *Tracker) RecordStep(dir stepper.Direction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case dir == stepper.Up && t.steps > 0:
		t.steps--
	case dir == stepper.Down && t.steps < t.limits.MaxSteps:
		t.steps++
	default:
		return false
	}
	return true
}

// RecordPan adds delta to the pan position, clamped, and returns the result.
func (t *Tracker) RecordPan(delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pan = t.clampPan(t.pan + delta)
	return t.pan
}

// SetPan stores an absolute pan position, clamped, and returns the result.
func (t *Tracker) SetPan(width int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pan = t.clampPan(width)
	return t.pan
}

func (t *Tracker) clampPan(w int) int {
	return min(max(w, t.limits.MinPulse), t.limits.MaxPulse)
}

// Reset zeroes the carriage count. Used by homing and the top-limit self-correction.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.steps = 0
	t.mu.Unlock()
}

// Steps returns the carriage count.
func (t *Tracker) Steps() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.steps
}

// Pan returns the pan position.
func (t *Tracker) Pan() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pan
}

// Snapshot returns both counters under one lock.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{Steps: t.steps, Pan: t.pan}
}

// Limits returns the configured bounds.
func (t *Tracker) Limits() Limits {
	return t.limits
}
