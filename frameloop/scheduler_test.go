package frameloop

import (
	"context"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var windowSize = Extent{Width: 800, Height: 600}

func newLoop(slots int) (*Scheduler, *State, *fakeGPU) {
	gpu := newFakeGPU(slots)
	return New(gpu, gpu), NewState(windowSize), gpu
}

func step(t *testing.T, s *Scheduler, state *State, events Events) []string {
	t.Helper()
	gpu := s.surface.(*fakeGPU)
	mark := len(gpu.calls)
	require.NoError(t, s.Step(state, events))
	return gpu.since(mark)
}

func stepN(t *testing.T, s *Scheduler, state *State, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		step(t, s, state, Events{})
	}
}

func TestFirstTickRebuildsThenPresents(t *testing.T) {
	s, state, gpu := newLoop(3)

	calls := step(t, s, state, Events{})

	assert.Equal(t, []string{"rebuild", "acquire", "submit", "present"}, calls)
	assert.Equal(t, Idle, state.Phase)
	assert.Equal(t, uint64(1), state.Generation)
	assert.Equal(t, uint64(1), state.Frame)
	assert.False(t, state.Invalidated)
	require.Len(t, state.Slots, 3)
	assert.Equal(t, 0, state.PrevSlot)
	assert.Same(t, gpu.submitted[0], state.Slots[0].Pending)
	assert.Equal(t, []Extent{windowSize}, gpu.rebuildSizes)
	assert.Equal(t, 1, state.Resources.Render)
}

func TestSlotMutualExclusion(t *testing.T) {
	s, state, gpu := newLoop(3)

	rng := rand.New(rand.NewSource(7))
	for call := 1; call <= 200; call++ {
		gpu.acquireResults[call] = fakeAcquire{slot: rng.Intn(3)}
	}

	stepN(t, s, state, 200)

	assert.Empty(t, gpu.violations)
	assert.Len(t, gpu.submitted, 200)

	// Every token except the newest one per slot must have been waited on
	// before its slot was reused.
	newest := map[int]*fakeToken{}
	for _, token := range gpu.submitted {
		newest[token.slot] = token
	}
	for _, token := range gpu.submitted {
		if newest[token.slot] == token {
			continue
		}
		assert.True(t, token.signalled, "%s was never waited on", token)
	}
	assert.Len(t, state.Outstanding(), len(newest))
}

func TestSlotReuseWaitsForPreviousSubmission(t *testing.T) {
	s, state, gpu := newLoop(2)

	stepN(t, s, state, 2)
	calls := step(t, s, state, Events{})

	assert.Equal(t, []string{"acquire", "wait", "submit", "present"}, calls)
	require.Len(t, gpu.waited, 1)
	assert.Same(t, gpu.submitted[0], gpu.waited[0])
	assert.Same(t, gpu.submitted[2], state.Slots[0].Pending)
	assert.Equal(t, 2, state.Slots[0].Submissions)
}

func TestPriorWorkComesFromPreviousIteration(t *testing.T) {
	s, state, gpu := newLoop(3)

	stepN(t, s, state, 3)

	require.Len(t, gpu.priors, 3)
	assert.Nil(t, gpu.priors[0])
	assert.Same(t, gpu.submitted[0], gpu.priors[1])
	assert.Same(t, gpu.submitted[1], gpu.priors[2])

	step(t, s, state, Events{Resized: true, Size: Extent{Width: 640, Height: 480}})
	require.Len(t, gpu.priors, 4)
	assert.Nil(t, gpu.priors[3], "no prior work survives a rebuild")
}

func TestResizeRebuildsBeforeNextAcquire(t *testing.T) {
	s, state, gpu := newLoop(3)
	stepN(t, s, state, 2)

	newSize := Extent{Width: 1024, Height: 768}
	calls := step(t, s, state, Events{Resized: true, Size: newSize})

	assert.Equal(t, []string{"wait", "wait", "rebuild", "acquire", "submit", "present"}, calls)
	assert.Equal(t, newSize, gpu.rebuildSizes[1])
	assert.Equal(t, uint64(2), state.Generation)
	assert.Empty(t, gpu.violations)
}

func TestResizeAndStaleAcquireCollapse(t *testing.T) {
	t.Run("stale acquire then resize", func(t *testing.T) {
		s, state, gpu := newLoop(3)
		gpu.acquireResults[2] = fakeAcquire{err: OutOfDate(errors.New("VK_ERROR_OUT_OF_DATE_KHR"))}

		stepN(t, s, state, 2)
		require.Equal(t, 1, gpu.rebuilds)
		require.True(t, state.Invalidated)

		step(t, s, state, Events{Resized: true, Size: Extent{Width: 1024, Height: 768}})
		assert.Equal(t, 2, gpu.rebuilds)
		assert.Equal(t, uint64(2), state.Generation)
	})

	t.Run("resize and stale acquire in one tick", func(t *testing.T) {
		s, state, gpu := newLoop(3)
		gpu.acquireResults[2] = fakeAcquire{err: OutOfDate(nil)}

		step(t, s, state, Events{})
		calls := step(t, s, state, Events{Resized: true, Size: Extent{Width: 1024, Height: 768}})

		assert.Equal(t, []string{"wait", "rebuild", "acquire"}, calls)
		assert.Equal(t, 2, gpu.rebuilds)
		assert.True(t, state.Invalidated)

		calls = step(t, s, state, Events{})
		assert.Equal(t, []string{"rebuild", "acquire", "submit", "present"}, calls)
		assert.Equal(t, 3, gpu.rebuilds)
	})
}

func TestOutOfDateAcquireSkipsSubmitAndPresent(t *testing.T) {
	s, state, gpu := newLoop(3)
	gpu.acquireResults[5] = fakeAcquire{err: OutOfDate(errors.New("VK_ERROR_OUT_OF_DATE_KHR"))}

	stepN(t, s, state, 4)

	calls := step(t, s, state, Events{})
	assert.Equal(t, []string{"acquire"}, calls)
	assert.True(t, state.Invalidated)
	assert.Equal(t, Idle, state.Phase)
	assert.Equal(t, uint64(4), state.Frame)

	calls = step(t, s, state, Events{})
	assert.Equal(t, []string{"wait", "wait", "wait", "rebuild", "acquire", "submit", "present"}, calls)
	assert.Equal(t, uint64(1), s.Stats().OutOfDate)
	assert.Empty(t, gpu.violations)
}

func TestSuboptimalAcquireSchedulesRebuild(t *testing.T) {
	s, state, gpu := newLoop(3)
	gpu.acquireResults[3] = fakeAcquire{slot: 2, suboptimal: true}

	stepN(t, s, state, 2)

	calls := step(t, s, state, Events{})
	assert.Equal(t, []string{"acquire", "submit", "present"}, calls)
	assert.True(t, state.Invalidated)
	assert.Equal(t, 2, state.PrevSlot)
	assert.Equal(t, uint64(3), state.Frame)

	calls = step(t, s, state, Events{})
	assert.Equal(t, []string{"wait", "wait", "wait", "rebuild", "acquire", "submit", "present"}, calls)
	assert.Equal(t, 2, gpu.rebuilds)
	assert.False(t, state.Invalidated)
}

func TestPresentOutOfDateIsNotFatal(t *testing.T) {
	s, state, gpu := newLoop(3)
	gpu.presentResults[1] = OutOfDate(errors.New("VK_ERROR_OUT_OF_DATE_KHR"))

	calls := step(t, s, state, Events{})
	assert.Equal(t, []string{"rebuild", "acquire", "submit", "present"}, calls)
	assert.True(t, state.Invalidated)
	assert.NotNil(t, state.Slots[0].Pending, "the submission still happened")

	calls = step(t, s, state, Events{})
	assert.Equal(t, []string{"wait", "rebuild", "acquire", "submit", "present"}, calls)
}

func TestInvalidSizeRetriesNextTick(t *testing.T) {
	s, state, gpu := newLoop(3)
	gpu.rebuildResults = []error{
		InvalidSize(errors.New("extent 0x0 not supported")),
		InvalidSize(nil),
	}

	calls := step(t, s, state, Events{Resized: true, Size: Extent{}})
	assert.Equal(t, []string{"rebuild"}, calls)
	assert.Equal(t, Rebuilding, state.Phase)
	assert.True(t, state.Invalidated)

	calls = step(t, s, state, Events{})
	assert.Equal(t, []string{"rebuild"}, calls)
	assert.Equal(t, Rebuilding, state.Phase)

	calls = step(t, s, state, Events{Resized: true, Size: windowSize})
	assert.Equal(t, []string{"rebuild", "acquire", "submit", "present"}, calls)
	assert.Equal(t, uint64(1), state.Generation)
	assert.Equal(t, uint64(2), s.Stats().Retries)
	assert.Equal(t, uint64(1), s.Stats().Rebuilds)
}

func TestStopDrainsOutstandingWork(t *testing.T) {
	tests := []struct {
		name  string
		ticks int
		waits int
	}{
		{name: "nothing outstanding", ticks: 0, waits: 0},
		{name: "one outstanding", ticks: 1, waits: 1},
		{name: "all slots busy", ticks: 3, waits: 3},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, state, gpu := newLoop(3)
			stepN(t, s, state, test.ticks)

			require.NoError(t, s.Stop(state))

			assert.Equal(t, Terminated, state.Phase)
			assert.True(t, state.Done())
			assert.Len(t, gpu.waited, test.waits)
			assert.Empty(t, state.Outstanding())
			for _, token := range gpu.submitted {
				assert.True(t, token.signalled, "%s not drained", token)
			}
		})
	}
}

func TestStopAfterFirstSubmission(t *testing.T) {
	s, state, gpu := newLoop(3)

	step(t, s, state, Events{})
	calls := step(t, s, state, Events{Closed: true})

	assert.Equal(t, []string{"wait"}, calls)
	require.Len(t, gpu.waited, 1)
	assert.Same(t, gpu.submitted[0], gpu.waited[0])
	assert.Equal(t, 0, state.Slots[1].Submissions)
	assert.Equal(t, 0, state.Slots[2].Submissions)
	assert.Nil(t, state.Slots[1].Pending)
	assert.Nil(t, state.Slots[2].Pending)
	assert.Equal(t, Terminated, state.Phase)
}

func TestStepAfterTerminationDoesNothing(t *testing.T) {
	s, state, gpu := newLoop(3)
	require.NoError(t, s.Stop(state))

	calls := step(t, s, state, Events{})
	assert.Empty(t, calls)
	assert.Zero(t, gpu.rebuilds)
}

func TestFatalErrors(t *testing.T) {
	deviceLost := errors.New("VK_ERROR_DEVICE_LOST")

	tests := []struct {
		name  string
		setup func(s *Scheduler, state *State, gpu *fakeGPU, t *testing.T)
		phase string
	}{
		{
			name: "rebuild",
			setup: func(s *Scheduler, state *State, gpu *fakeGPU, t *testing.T) {
				gpu.rebuildResults = []error{deviceLost}
			},
			phase: "rebuilding",
		},
		{
			name: "acquire",
			setup: func(s *Scheduler, state *State, gpu *fakeGPU, t *testing.T) {
				gpu.acquireResults[1] = fakeAcquire{err: deviceLost}
			},
			phase: "acquiring",
		},
		{
			name: "acquired slot out of range",
			setup: func(s *Scheduler, state *State, gpu *fakeGPU, t *testing.T) {
				gpu.acquireResults[1] = fakeAcquire{slot: 9}
			},
			phase: "acquiring",
		},
		{
			name: "wait",
			setup: func(s *Scheduler, state *State, gpu *fakeGPU, t *testing.T) {
				stepN(t, s, state, 3)
				gpu.waitErr = deviceLost
			},
			phase: "waiting for prior work",
		},
		{
			name: "submit",
			setup: func(s *Scheduler, state *State, gpu *fakeGPU, t *testing.T) {
				gpu.submitErr = deviceLost
			},
			phase: "submitting",
		},
		{
			name: "present",
			setup: func(s *Scheduler, state *State, gpu *fakeGPU, t *testing.T) {
				gpu.presentResults[1] = deviceLost
			},
			phase: "presenting",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, state, gpu := newLoop(3)
			test.setup(s, state, gpu, t)

			err := s.Step(state, Events{})
			require.Error(t, err)

			assert.True(t, IsFatal(err))
			assert.False(t, IsTransient(err))
			assert.Contains(t, err.Error(), test.phase)
			assert.Equal(t, Terminated, state.Phase)
			if test.name != "acquired slot out of range" {
				assert.True(t, errors.Is(err, deviceLost))
			}
		})
	}
}

func TestHiddenWindowPausesAcquisition(t *testing.T) {
	s, state, gpu := newLoop(3)
	step(t, s, state, Events{})

	calls := step(t, s, state, Events{Hidden: true})
	assert.Empty(t, calls)

	calls = step(t, s, state, Events{Resized: true, Size: Extent{}})
	assert.Empty(t, calls)
	assert.True(t, state.Invalidated)

	calls = step(t, s, state, Events{Shown: true, Resized: true, Size: Extent{Width: 640, Height: 480}})
	assert.Equal(t, []string{"wait", "rebuild", "acquire", "submit", "present"}, calls)
	assert.Equal(t, Extent{Width: 640, Height: 480}, gpu.rebuildSizes[1])
}

func TestRunStopsOnCloseEvent(t *testing.T) {
	s, state, gpu := newLoop(3)

	polls := 0
	source := EventSourceFunc(func() Events {
		polls++
		return Events{Closed: polls > 5}
	})

	require.NoError(t, s.Run(context.Background(), state, source))

	assert.True(t, state.Done())
	assert.Equal(t, uint64(5), state.Frame)
	assert.Equal(t, uint64(5), s.Stats().Frames)
	assert.Empty(t, state.Outstanding())
	assert.Empty(t, gpu.violations)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, state, gpu := newLoop(3)

	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	source := EventSourceFunc(func() Events {
		polls++
		if polls == 3 {
			cancel()
		}
		return Events{}
	})

	require.NoError(t, s.Run(ctx, state, source))

	assert.True(t, state.Done())
	assert.Equal(t, uint64(2), state.Frame)
	assert.Len(t, gpu.waited, 2)
}

func TestRunReturnsFatalError(t *testing.T) {
	s, state, gpu := newLoop(3)
	gpu.presentResults[3] = errors.New("VK_ERROR_SURFACE_LOST_KHR")

	err := s.Run(context.Background(), state, EventSourceFunc(func() Events { return Events{} }))

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, state.Done())
	assert.Equal(t, uint64(2), state.Frame)
}

func TestStatsCountConditions(t *testing.T) {
	s, state, gpu := newLoop(2)
	gpu.acquireResults[2] = fakeAcquire{slot: 1, suboptimal: true}
	gpu.acquireResults[4] = fakeAcquire{err: OutOfDate(nil)}

	stepN(t, s, state, 5)

	stats := s.Stats()
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, uint64(3), stats.Rebuilds)
	assert.Equal(t, uint64(1), stats.Suboptimal)
	assert.Equal(t, uint64(1), stats.OutOfDate)
}
