package position

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earti/camlift/internal/hw/stepper"
)

func testLimits() Limits {
	return Limits{MaxSteps: 100, MinPulse: 1000, MaxPulse: 2000}
}

func TestNewTracker_StartsAtMidpoint(t *testing.T) {
	tr := NewTracker(testLimits())
	snap := tr.Snapshot()
	assert.Equal(t, 0, snap.Steps)
	assert.Equal(t, 1500, snap.Pan)
}

func TestRecordStep_Saturates(t *testing.T) {
	tr := NewTracker(testLimits())

	assert.False(t, tr.RecordStep(stepper.Up), "decrement at 0 is a no-op")
	assert.Equal(t, 0, tr.Steps())

	for i := 0; i < 150; i++ {
		tr.RecordStep(stepper.Down)
	}
	assert.Equal(t, 100, tr.Steps())
	assert.False(t, tr.RecordStep(stepper.Down), "increment at max is a no-op")

	assert.True(t, tr.RecordStep(stepper.Up))
	assert.Equal(t, 99, tr.Steps())
}

func TestRecordStep_RandomWalkStaysInRange(t *testing.T) {
	tr := NewTracker(testLimits())
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		dir := stepper.Up
		if rng.Intn(2) == 1 {
			dir = stepper.Down
		}
		tr.RecordStep(dir)
		s := tr.Steps()
		require.GreaterOrEqual(t, s, 0)
		require.LessOrEqual(t, s, 100)
	}
}

func TestRecordPan_Clamps(t *testing.T) {
	tr := NewTracker(testLimits())

	assert.Equal(t, 1515, tr.RecordPan(15))
	assert.Equal(t, 2000, tr.RecordPan(10000))
	assert.Equal(t, 1000, tr.RecordPan(-5000))
	assert.Equal(t, 1000, tr.RecordPan(-1))
}

func TestSetPan_Clamps(t *testing.T) {
	tr := NewTracker(testLimits())
	assert.Equal(t, 1200, tr.SetPan(1200))
	assert.Equal(t, 2000, tr.SetPan(2500))
	assert.Equal(t, 1000, tr.SetPan(0))
}

func TestReset(t *testing.T) {
	tr := NewTracker(testLimits())
	for i := 0; i < 40; i++ {
		tr.RecordStep(stepper.Down)
	}
	tr.RecordPan(100)

	tr.Reset()

	snap := tr.Snapshot()
	assert.Equal(t, 0, snap.Steps)
	assert.Equal(t, 1600, snap.Pan, "reset leaves the pan alone")
}

func TestSnapshot_ConcurrentReaders(t *testing.T) {
	tr := NewTracker(testLimits())
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := tr.Snapshot()
				if snap.Steps < 0 || snap.Steps > 100 {
					t.Errorf("torn or out-of-range read: %+v", snap)
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		tr.RecordStep(stepper.Down)
		tr.RecordStep(stepper.Up)
	}
	close(stop)
	wg.Wait()
}
