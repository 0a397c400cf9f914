package motion

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earti/camlift/internal/hw/rig"
	"github.com/earti/camlift/internal/logic/command"
	"github.com/earti/camlift/internal/logic/geometry"
	"github.com/earti/camlift/internal/logic/position"
)

const (
	maxSteps     = 4400
	stepsPerSlot = 440
	batch        = 40
	panSteps     = 15
)

func testConfig() Config {
	return Config{
		Travel: geometry.Travel{
			MaxSteps:     maxSteps,
			StepsPerSlot: stepsPerSlot,
			SlotCount:    10,
			Batch:        batch,
		},
		PanSteps:     panSteps,
		PanIncrement: 1,
	}
}

func newTestController(t *testing.T) (*Controller, *position.Tracker, *rig.Simulator) {
	t.Helper()
	sim := rig.NewSimulator(rig.SimConfig{MinPulse: 1000, MaxPulse: 2000})
	tracker := position.NewTracker(position.Limits{MaxSteps: maxSteps, MinPulse: 1000, MaxPulse: 2000})
	ctrl, err := NewController(sim, tracker, testConfig())
	require.NoError(t, err)
	return ctrl, tracker, sim
}

// stepDownTo lowers the carriage from the top to steps using whole batches.
func stepDownTo(t *testing.T, ctrl *Controller, steps int) {
	t.Helper()
	for i := 0; i < steps/batch; i++ {
		require.NoError(t, ctrl.StepDown())
	}
}

func TestNewController_RejectsInvalidConfig(t *testing.T) {
	tracker := position.NewTracker(position.Limits{MaxSteps: maxSteps, MinPulse: 1000, MaxPulse: 2000})
	sim := rig.NewSimulator(rig.SimConfig{})

	cfg := testConfig()
	cfg.Travel.StepsPerSlot = 450
	_, err := NewController(sim, tracker, cfg)
	assert.Error(t, err, "slot spacing not a multiple of the batch")

	cfg = testConfig()
	cfg.PanSteps = 0
	_, err = NewController(sim, tracker, cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.PanIncrement = 0
	_, err = NewController(sim, tracker, cfg)
	assert.Error(t, err)
}

func TestStepDown_OneBatch(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)

	require.NoError(t, ctrl.StepDown())

	assert.Equal(t, batch, tracker.Steps())
	assert.Equal(t, batch, sim.Travel())
	assert.Equal(t, Idle, ctrl.State())
}

func TestStepDown_NoOpAtMax(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	stepDownTo(t, ctrl, maxSteps)
	require.Equal(t, maxSteps, tracker.Steps())
	_, before := sim.Pulses()

	require.NoError(t, ctrl.StepDown())

	_, after := sim.Pulses()
	assert.Equal(t, before, after, "no pulses at max steps")
	assert.Equal(t, maxSteps, tracker.Steps())
}

func TestStepUp_OneBatch(t *testing.T) {
	ctrl, tracker, _ := newTestController(t)
	stepDownTo(t, ctrl, 400)

	require.NoError(t, ctrl.StepUp())

	assert.Equal(t, 400-batch, tracker.Steps())
	assert.Equal(t, Idle, ctrl.State())
}

func TestStepUp_AtZeroIsNoOp(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)

	require.NoError(t, ctrl.StepUp())

	up, _ := sim.Pulses()
	assert.Zero(t, up)
	assert.Zero(t, tracker.Steps())
	assert.Equal(t, AtLimit, ctrl.State())
}

func TestStepUp_AtSwitchForcesZero(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	stepDownTo(t, ctrl, 400)
	sim.SetTravel(0) // carriage physically at the top, tracker drifted

	require.NoError(t, ctrl.StepUp())

	up, _ := sim.Pulses()
	assert.Zero(t, up)
	assert.Zero(t, tracker.Steps(), "tracker self-corrects to 0")
	assert.Equal(t, AtLimit, ctrl.State())
}

func TestStepUp_SwitchMidBatchResynchronises(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	stepDownTo(t, ctrl, 400)
	sim.SetTravel(15)

	require.NoError(t, ctrl.StepUp())

	up, _ := sim.Pulses()
	assert.Equal(t, 15, up, "batch stops when the switch closes")
	assert.Zero(t, tracker.Steps())
	assert.Equal(t, AtLimit, ctrl.State())
}

func TestStepSequences_StayInRange(t *testing.T) {
	ctrl, tracker, _ := newTestController(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 600; i++ {
		if rng.Intn(3) == 0 {
			require.NoError(t, ctrl.StepUp())
		} else {
			require.NoError(t, ctrl.StepDown())
		}
		s := tracker.Steps()
		require.GreaterOrEqual(t, s, 0)
		require.LessOrEqual(t, s, maxSteps)
	}
}

func TestGoHome_FromAnyPosition(t *testing.T) {
	for _, start := range []int{0, 40, 2200, maxSteps} {
		ctrl, tracker, sim := newTestController(t)
		stepDownTo(t, ctrl, start)
		sim.SetTravel(start + 123) // drift: physically lower than tracked

		require.NoError(t, ctrl.GoHome())

		assert.Zero(t, tracker.Steps(), "start %d", start)
		assert.Zero(t, sim.Travel(), "start %d", start)
		assert.Equal(t, Idle, ctrl.State())
	}
}

func TestGoHome_Idempotent(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	require.NoError(t, ctrl.GoHome())
	require.NoError(t, ctrl.GoHome())

	up, _ := sim.Pulses()
	assert.Zero(t, up)
	assert.Zero(t, tracker.Steps())
}

func TestGoToSlot_EverySlot(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)

	order := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 9, 3, 10, 1}
	for _, n := range order {
		require.NoError(t, ctrl.GoToSlot(n))
		assert.Equal(t, n*stepsPerSlot, tracker.Steps(), "slot %d", n)
		assert.Equal(t, n*stepsPerSlot, sim.Travel(), "slot %d physical", n)
		assert.Equal(t, Idle, ctrl.State())
	}
}

func TestGoToSlot_OutOfRangeRejectedBeforeMotion(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	stepDownTo(t, ctrl, 800)
	up0, down0 := sim.Pulses()

	for _, n := range []int{0, 11, -3, 100} {
		err := ctrl.GoToSlot(n)
		assert.ErrorIs(t, err, ErrSlotOutOfRange, "slot %d", n)
	}

	up1, down1 := sim.Pulses()
	assert.Equal(t, up0, up1)
	assert.Equal(t, down0, down1)
	assert.Equal(t, 800, tracker.Steps())
}

func TestScenario_SlotFiveThenHome(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	stepDownTo(t, ctrl, 3000)
	require.Equal(t, 3000, tracker.Steps())
	up0, down0 := sim.Pulses()

	require.NoError(t, ctrl.GoToSlot(5))

	up1, down1 := sim.Pulses()
	assert.Equal(t, 20*batch, up1-up0, "20 batches toward the top")
	assert.Equal(t, down0, down1)
	assert.Equal(t, 2200, tracker.Steps())

	require.NoError(t, ctrl.Execute(command.Parse("home")))
	assert.Zero(t, tracker.Steps())
	assert.Zero(t, sim.Travel())
}

func TestPan_OneCommandIsASweep(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)

	require.NoError(t, ctrl.PanRight())

	assert.Equal(t, 1500+panSteps, tracker.Pan())
	width, calls := sim.Pan()
	assert.Equal(t, 1500+panSteps, width)
	assert.Equal(t, panSteps, calls, "one servo write per micro-adjustment")

	require.NoError(t, ctrl.PanLeft())
	assert.Equal(t, 1500, tracker.Pan())
}

func TestPan_NeverLeavesRange(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)

	for i := 0; i < 100; i++ {
		require.NoError(t, ctrl.PanRight())
		require.LessOrEqual(t, tracker.Pan(), 2000)
	}
	assert.Equal(t, 2000, tracker.Pan())

	for i := 0; i < 200; i++ {
		require.NoError(t, ctrl.PanLeft())
		require.GreaterOrEqual(t, tracker.Pan(), 1000)
	}
	assert.Equal(t, 1000, tracker.Pan())

	width, _ := sim.Pan()
	assert.Equal(t, 1000, width)
}

func TestPanTo(t *testing.T) {
	ctrl, tracker, _ := newTestController(t)

	require.NoError(t, ctrl.PanTo(1203))
	assert.Equal(t, 1203, tracker.Pan())

	require.NoError(t, ctrl.PanTo(9000))
	assert.Equal(t, 2000, tracker.Pan())
}

func TestExecute_UnknownIsNoOp(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	before := tracker.Snapshot()

	require.NoError(t, ctrl.Execute(command.Request{Kind: command.Unknown}))

	assert.Equal(t, before, tracker.Snapshot())
	up, down := sim.Pulses()
	_, calls := sim.Pan()
	assert.Zero(t, up+down+calls)
}

func TestExecute_Dispatch(t *testing.T) {
	ctrl, tracker, _ := newTestController(t)

	require.NoError(t, ctrl.Execute(command.Parse("↓")))
	assert.Equal(t, batch, tracker.Steps())
	require.NoError(t, ctrl.Execute(command.Parse("↑")))
	assert.Zero(t, tracker.Steps())
	require.NoError(t, ctrl.Execute(command.Parse("→")))
	assert.Equal(t, 1515, tracker.Pan())
	require.NoError(t, ctrl.Execute(command.Parse("←")))
	assert.Equal(t, 1500, tracker.Pan())
	require.NoError(t, ctrl.Execute(command.Parse("3")))
	assert.Equal(t, 3*stepsPerSlot, tracker.Steps())
}

func TestHardwareFault(t *testing.T) {
	ctrl, tracker, sim := newTestController(t)
	boom := errors.New("gpio write failed")
	sim.InjectFault(boom)

	err := ctrl.StepDown()

	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, tracker.Steps(), "failed pulse is not counted")

	assert.ErrorAs(t, ctrl.GoHome(), &fault)
	assert.ErrorAs(t, ctrl.PanLeft(), &fault)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "homing", Homing.String())
	assert.Equal(t, "in_transit", InTransit.String())
	assert.Equal(t, "at_limit", AtLimit.String())
}
