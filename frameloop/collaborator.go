package frameloop

import "fmt"

// Token is an opaque handle for GPU work: a completion token returned by
// Queue.Submit, or the image-ready handle returned by Surface.Acquire. A nil
// Token means there is nothing to wait for.
type Token any

// Extent is a size in pixels.
type Extent struct {
	Width  int
	Height int
}

// Empty reports whether the extent has no area.
func (e Extent) Empty() bool {
	return e.Width <= 0 || e.Height <= 0
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Resources is what a successful rebuild hands back: the number of
// presentable slots and the render resources built for them. The loop never
// looks inside Render.
type Resources struct {
	Slots  int
	Render any
}

// Acquisition is the result of a successful Surface.Acquire.
type Acquisition struct {
	Slot       int
	ImageReady Token
	// Suboptimal means the slot can still be presented but the surface should
	// be rebuilt.
	Suboptimal bool
}

// Surface is the presentation side of the collaborator.
type Surface interface {
	// Rebuild recreates the presentable images and everything derived from
	// them for the given size. It returns an error marked ErrInvalidSize when
	// the size can't be used yet.
	Rebuild(size Extent) (Resources, error)
	// Acquire returns the next presentable slot. It returns an error marked
	// ErrOutOfDate when the surface must be rebuilt first.
	Acquire() (Acquisition, error)
	// Present queues the slot for display. It returns an error marked
	// ErrOutOfDate when the surface must be rebuilt.
	Present(slot int) error
}

// Queue is the GPU submission side of the collaborator.
type Queue interface {
	// Submit records and submits the work for slot, ordered after both
	// imageReady and priorDone (either may be nil), and returns the token
	// that signals when the GPU is done with it.
	Submit(slot int, imageReady Token, priorDone Token) (Token, error)
	// Wait blocks until token has signalled.
	Wait(token Token) error
}

// Events are the external notifications observed at the top of a tick.
type Events struct {
	// Resized is set when the window changed size; Size holds the new size.
	Resized bool
	Size    Extent
	// Closed asks the loop to drain and stop.
	Closed bool
	// Hidden and Shown track minimise/restore. Acquisition pauses while the
	// window is hidden.
	Hidden bool
	Shown  bool
}

// EventSource delivers the events that arrived since the previous call. Poll
// may wait briefly while nothing is being drawn but must not block
// indefinitely.
type EventSource interface {
	Poll() Events
}

// EventSourceFunc adapts a function to EventSource.
type EventSourceFunc func() Events

func (f EventSourceFunc) Poll() Events { return f() }
