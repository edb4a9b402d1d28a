package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/vkngwrapper/presentloop/frameloop"
)

func TestApplyEvent(t *testing.T) {
	size := frameloop.Extent{Width: 1024, Height: 768}
	drawableSize := func() frameloop.Extent { return size }

	apply := func(events ...sdl.Event) frameloop.Events {
		var result frameloop.Events
		for _, event := range events {
			result = applyEvent(result, event, drawableSize)
		}
		return result
	}

	t.Run("quit", func(t *testing.T) {
		assert.True(t, apply(&sdl.QuitEvent{Type: sdl.QUIT}).Closed)
	})

	t.Run("escape", func(t *testing.T) {
		events := apply(&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Sym: sdl.K_ESCAPE}})
		assert.True(t, events.Closed)

		events = apply(&sdl.KeyboardEvent{Type: sdl.KEYUP, Keysym: sdl.Keysym{Sym: sdl.K_ESCAPE}})
		assert.False(t, events.Closed)
	})

	t.Run("resize reads the drawable size", func(t *testing.T) {
		events := apply(&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESIZED})
		assert.True(t, events.Resized)
		assert.Equal(t, size, events.Size)
	})

	t.Run("minimise then restore", func(t *testing.T) {
		events := apply(
			&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_MINIMIZED},
			&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESTORED},
		)
		assert.False(t, events.Hidden)
		assert.True(t, events.Shown)
	})

	t.Run("restore then minimise", func(t *testing.T) {
		events := apply(
			&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESTORED},
			&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_MINIMIZED},
		)
		assert.True(t, events.Hidden)
		assert.False(t, events.Shown)
	})

	t.Run("unrelated events", func(t *testing.T) {
		assert.Equal(t, frameloop.Events{}, apply(&sdl.MouseMotionEvent{Type: sdl.MOUSEMOTION}))
	})
}
