package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/vkngwrapper/presentloop/frameloop"
)

// Window is the SDL window frames are presented to. It is also the loop's
// EventSource.
type Window struct {
	handle *sdl.Window
}

// OpenWindow initialises SDL video and opens a resizable Vulkan window. It
// must be called from the main OS thread.
func OpenWindow(cfg Config) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initialising sdl")
	}

	handle, err := sdl.CreateWindow(cfg.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Width), int32(cfg.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "creating window")
	}

	return &Window{handle: handle}, nil
}

// DrawableSize is the size of the window in pixels.
func (w *Window) DrawableSize() frameloop.Extent {
	width, height := w.handle.VulkanGetDrawableSize()
	return frameloop.Extent{Width: int(width), Height: int(height)}
}

func (w *Window) Minimized() bool {
	return w.handle.GetFlags()&sdl.WINDOW_MINIMIZED != 0
}

func (w *Window) InstanceExtensions() []string {
	return w.handle.VulkanGetInstanceExtensions()
}

// idleWait bounds how long Poll sleeps on a minimised window.
const idleWait = 50 // ms

// Poll drains the SDL event queue into a single Events value. While the
// window is minimised it first waits up to idleWait for an event, so a paused
// loop doesn't spin.
func (w *Window) Poll() frameloop.Events {
	var events frameloop.Events
	if w.Minimized() {
		if event := sdl.WaitEventTimeout(idleWait); event != nil {
			events = applyEvent(events, event, w.DrawableSize)
		}
	}
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		events = applyEvent(events, event, w.DrawableSize)
	}
	return events
}

func (w *Window) Close() error {
	err := w.handle.Destroy()
	sdl.Quit()
	return err
}

func applyEvent(events frameloop.Events, event sdl.Event, drawableSize func() frameloop.Extent) frameloop.Events {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		events.Closed = true
	case *sdl.KeyboardEvent:
		if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
			events.Closed = true
		}
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			events.Closed = true
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			events.Resized = true
			events.Size = drawableSize()
		case sdl.WINDOWEVENT_MINIMIZED, sdl.WINDOWEVENT_HIDDEN:
			events.Hidden = true
			events.Shown = false
		case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_SHOWN:
			events.Shown = true
			events.Hidden = false
		}
	}
	return events
}
