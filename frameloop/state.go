package frameloop

// Phase is where the loop is within a tick.
type Phase int

const (
	Idle Phase = iota
	Rebuilding
	Acquiring
	WaitingPriorWork
	Submitting
	Presenting
	Terminated
)

var phaseNames = map[Phase]string{
	Idle:             "idle",
	Rebuilding:       "rebuilding",
	Acquiring:        "acquiring",
	WaitingPriorWork: "waiting for prior work",
	Submitting:       "submitting",
	Presenting:       "presenting",
	Terminated:       "terminated",
}

func (p Phase) String() string {
	name, ok := phaseNames[p]
	if !ok {
		return "unknown phase"
	}
	return name
}

// Slot is the loop's bookkeeping for one presentable image.
type Slot struct {
	// Pending is the completion token of the last submission against this
	// slot, or nil once it has been waited on.
	Pending Token
	// Submissions counts how many times this slot was submitted since the
	// last rebuild.
	Submissions int
}

// State is everything the loop carries from one tick to the next. It is
// owned by a single goroutine and passed to Scheduler.Step by pointer.
type State struct {
	Phase Phase

	// Size is the size the next rebuild targets.
	Size Extent
	// Generation counts successful rebuilds.
	Generation uint64
	// Invalidated requests a rebuild at the top of the next tick.
	Invalidated bool
	// Hidden pauses acquisition while the window is minimised.
	Hidden bool

	Slots []Slot
	// PrevSlot is the slot submitted in the preceding iteration, -1 if none.
	PrevSlot int

	// Frame counts ticks that reached Presenting.
	Frame     uint64
	Resources *Resources
}

// NewState returns the starting state for a surface of the given size. The
// first tick always rebuilds.
func NewState(size Extent) *State {
	return &State{
		Phase:       Idle,
		Size:        size,
		Invalidated: true,
		PrevSlot:    -1,
	}
}

// Outstanding returns the slots that still have a pending completion token.
func (s *State) Outstanding() []int {
	var slots []int
	for i, slot := range s.Slots {
		if slot.Pending != nil {
			slots = append(slots, i)
		}
	}
	return slots
}

// Done reports whether the loop has terminated.
func (s *State) Done() bool {
	return s.Phase == Terminated
}

func (s *State) priorWork() Token {
	if s.PrevSlot < 0 || s.PrevSlot >= len(s.Slots) {
		return nil
	}
	return s.Slots[s.PrevSlot].Pending
}
