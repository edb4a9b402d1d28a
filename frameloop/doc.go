// Package frameloop schedules presentation of rendered frames onto a
// swapchain-like surface.
//
// A Scheduler drives a single-threaded loop. Each tick it rebuilds the
// surface if a resize or a stale acquire invalidated it, acquires the next
// presentable slot, waits for the previous submission against that slot to
// finish, submits new work, and presents. The loop owns a completion token
// per slot so that a slot's command resources are never reused while the
// GPU may still be reading them. Stopping drains every outstanding token.
//
// The loop knows nothing about any particular graphics API. It talks to a
// Surface and a Queue; package renderer implements both on Vulkan.
//
//	state := frameloop.NewState(frameloop.Extent{Width: 800, Height: 600})
//	scheduler := frameloop.New(surface, queue)
//	err := scheduler.Run(ctx, state, events)
package frameloop
