package frameloop

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
)

// Scheduler drives the present loop against a Surface and a Queue. It holds
// no per-frame state of its own; everything that changes between ticks lives
// in the State passed to Step.
type Scheduler struct {
	surface Surface
	queue   Queue
	stats   Stats
}

func New(surface Surface, queue Queue) *Scheduler {
	return &Scheduler{
		surface: surface,
		queue:   queue,
	}
}

// Stats returns a copy of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	return s.stats
}

// Run steps the loop until it terminates. Cancelling ctx is treated like a
// close event: outstanding work is drained and Run returns nil. A fatal
// collaborator error is returned as-is after the state has been marked
// Terminated.
func (s *Scheduler) Run(ctx context.Context, state *State, source EventSource) error {
	Logger().Info("frame loop started", "size", state.Size)

	for !state.Done() {
		events := source.Poll()
		if ctx.Err() != nil {
			events.Closed = true
		}

		err := s.Step(state, events)
		if err != nil {
			return err
		}
	}

	return nil
}

// Stop drains outstanding work and terminates the loop.
func (s *Scheduler) Stop(state *State) error {
	return s.Step(state, Events{Closed: true})
}

// Step runs one tick of the loop. Transient surface conditions are absorbed
// into state and nil is returned; any other collaborator failure terminates
// the loop and is returned marked ErrFatal.
func (s *Scheduler) Step(state *State, events Events) error {
	if state.Done() {
		return nil
	}

	start := hrtime.Now()
	s.observe(state, events)

	if events.Closed {
		return s.stop(state)
	}

	if state.Hidden {
		s.enter(state, Idle)
		return nil
	}

	if state.Invalidated || state.Resources == nil {
		rebuilt, err := s.rebuild(state)
		if err != nil || !rebuilt {
			return err
		}
	}

	// The prior-work token comes from the slot used by the preceding
	// iteration, captured before acquire picks the next slot.
	s.enter(state, Idle)
	priorDone := state.priorWork()

	s.enter(state, Acquiring)
	acquired, err := s.surface.Acquire()
	if errors.Is(err, ErrOutOfDate) {
		s.stats.OutOfDate++
		Logger().Warn("acquire: surface out of date", "frame", state.Frame)
		state.Invalidated = true
		s.enter(state, Idle)
		return nil
	} else if err != nil {
		return s.fail(state, err)
	}

	if acquired.Slot < 0 || acquired.Slot >= len(state.Slots) {
		return s.fail(state, errors.Newf("acquired slot %d outside of %d slots", acquired.Slot, len(state.Slots)))
	}
	slot := &state.Slots[acquired.Slot]

	s.enter(state, WaitingPriorWork)
	if slot.Pending != nil {
		s.stats.Waits++
		err = s.queue.Wait(slot.Pending)
		if err != nil {
			return s.fail(state, err)
		}
		slot.Pending = nil
	}

	s.enter(state, Submitting)
	token, err := s.queue.Submit(acquired.Slot, acquired.ImageReady, priorDone)
	if err != nil {
		return s.fail(state, err)
	}
	slot.Pending = token
	slot.Submissions++
	state.PrevSlot = acquired.Slot

	s.enter(state, Presenting)
	err = s.surface.Present(acquired.Slot)
	if errors.Is(err, ErrOutOfDate) {
		s.stats.OutOfDate++
		Logger().Warn("present: surface out of date", "frame", state.Frame, "slot", acquired.Slot)
		state.Invalidated = true
	} else if err != nil {
		return s.fail(state, err)
	}

	if acquired.Suboptimal {
		s.stats.Suboptimal++
		state.Invalidated = true
	}

	state.Frame++
	s.stats.frame(start)
	s.enter(state, Idle)
	return nil
}

func (s *Scheduler) observe(state *State, events Events) {
	if events.Resized {
		state.Size = events.Size
		state.Invalidated = true
	}
	if events.Hidden {
		state.Hidden = true
	}
	if events.Shown {
		state.Hidden = false
	}
}

// rebuild makes the single rebuild attempt allowed per tick. It reports
// false with a nil error when the size was rejected and the attempt should
// be repeated next tick.
func (s *Scheduler) rebuild(state *State) (bool, error) {
	s.enter(state, Rebuilding)

	// The collaborator frees per-slot command resources while rebuilding.
	err := s.drain(state)
	if err != nil {
		return false, s.fail(state, err)
	}

	resources, err := s.surface.Rebuild(state.Size)
	if errors.Is(err, ErrInvalidSize) {
		s.stats.Retries++
		Logger().Warn("rebuild: size rejected, retrying next tick", "size", state.Size, "err", err)
		return false, nil
	} else if err != nil {
		return false, s.fail(state, err)
	}

	if resources.Slots <= 0 {
		return false, s.fail(state, errors.Newf("rebuild produced %d slots", resources.Slots))
	}

	state.Slots = make([]Slot, resources.Slots)
	state.PrevSlot = -1
	state.Resources = &resources
	state.Generation++
	state.Invalidated = false
	s.stats.Rebuilds++

	Logger().Info("surface rebuilt",
		"size", state.Size,
		"slots", resources.Slots,
		"generation", state.Generation)

	s.enter(state, Idle)
	return true, nil
}

// drain waits out every outstanding completion token.
func (s *Scheduler) drain(state *State) error {
	for i := range state.Slots {
		slot := &state.Slots[i]
		if slot.Pending == nil {
			continue
		}

		Logger().Debug("drain: waiting for slot", "slot", i)
		s.stats.Waits++
		err := s.queue.Wait(slot.Pending)
		if err != nil {
			return errors.Wrapf(err, "waiting for slot %d", i)
		}
		slot.Pending = nil
	}
	return nil
}

func (s *Scheduler) stop(state *State) error {
	err := s.drain(state)
	if err != nil {
		return s.fail(state, err)
	}

	s.enter(state, Terminated)
	Logger().Info("frame loop stopped", "frames", state.Frame, "rebuilds", s.stats.Rebuilds)
	return nil
}

func (s *Scheduler) fail(state *State, err error) error {
	phase := state.Phase
	state.Phase = Terminated
	Logger().Error("frame loop failed", "phase", phase, "frame", state.Frame, "err", err)
	return fatal(err, phase, state.Frame)
}

func (s *Scheduler) enter(state *State, phase Phase) {
	if state.Phase == phase {
		return
	}
	Logger().Debug("phase", "from", state.Phase, "to", phase, "frame", state.Frame)
	state.Phase = phase
}
