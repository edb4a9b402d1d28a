package renderer

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/presentloop/frameloop"
)

// Renderer draws a spinning mesh into an SDL window. It is both halves of
// the frame loop's collaborator: the Surface that owns the swapchain and the
// Queue that records and submits per-slot work.
//
// A Renderer is not safe for concurrent use; the frame loop drives it from a
// single goroutine.
type Renderer struct {
	device *Device

	mesh      meshBuffers
	draw      *drawPipeline
	swapchain *swapchain
	slots     []*frameSlot

	// spare is the semaphore the next acquire signals. It is swapped into
	// the acquired slot, and that slot's previous semaphore becomes the
	// spare.
	spare core1_0.Semaphore

	start time.Duration
}

var (
	_ frameloop.Surface = (*Renderer)(nil)
	_ frameloop.Queue   = (*Renderer)(nil)
)

func New(cfg Config, window *Window) (*Renderer, error) {
	if window == nil {
		return nil, errors.New("a renderer needs a window")
	}

	err := cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	mesh := TriangleMesh()
	if cfg.MeshPath != "" {
		mesh, err = LoadOBJ(cfg.MeshPath)
		if err != nil {
			return nil, err
		}
	}

	device, err := OpenDevice(cfg, window)
	if err != nil {
		return nil, err
	}

	r := &Renderer{device: device, start: hrtime.Now()}

	r.mesh, err = device.uploadMesh(mesh)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.spare, _, err = device.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, "creating semaphore")
	}

	return r, nil
}

// Device is the device the renderer draws with.
func (r *Renderer) Device() *Device {
	return r.device
}

// Rebuild recreates the swapchain and everything sized by it. The caller
// must have waited for all outstanding submissions.
func (r *Renderer) Rebuild(size frameloop.Extent) (frameloop.Resources, error) {
	support, err := r.device.querySwapchainSupport(r.device.physicalDevice)
	if err != nil {
		return frameloop.Resources{}, err
	}

	extent, err := chooseSwapExtent(support.Capabilities, size)
	if err != nil {
		return frameloop.Resources{}, err
	}

	err = r.device.WaitIdle()
	if err != nil {
		return frameloop.Resources{}, err
	}
	r.destroySwapchain()

	r.swapchain, err = r.device.createSwapchain(support, extent)
	if err != nil {
		return frameloop.Resources{}, err
	}

	if r.draw == nil || r.draw.format != r.swapchain.format {
		r.device.destroyDrawPipeline(r.draw)
		r.draw = nil

		start := hrtime.Now()
		r.draw, err = r.device.createDrawPipeline(r.swapchain.format)
		if err != nil {
			return frameloop.Resources{}, err
		}
		frameloop.Logger().Debug("draw pipeline created", "format", r.swapchain.format.String(), "took", hrtime.Since(start))
	}

	err = r.device.createFramebuffers(r.swapchain, r.draw.renderPass)
	if err != nil {
		return frameloop.Resources{}, err
	}

	r.slots, err = r.device.createFrameSlots(len(r.swapchain.images))
	if err != nil {
		return frameloop.Resources{}, err
	}

	return frameloop.Resources{Slots: len(r.slots), Render: r.swapchain}, nil
}

func (r *Renderer) Acquire() (frameloop.Acquisition, error) {
	if r.swapchain == nil {
		return frameloop.Acquisition{}, errors.New("acquire before the swapchain was built")
	}

	imageIndex, res, err := r.swapchain.driver.AcquireNextImage(r.swapchain.handle, common.NoTimeout, &r.spare, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return frameloop.Acquisition{}, frameloop.OutOfDate(err)
	} else if err != nil {
		return frameloop.Acquisition{}, errors.Wrap(err, "acquiring swapchain image")
	}

	if imageIndex < 0 || imageIndex >= len(r.slots) {
		return frameloop.Acquisition{}, errors.Newf("swapchain returned image %d of %d", imageIndex, len(r.slots))
	}

	slot := r.slots[imageIndex]
	slot.imageReady, r.spare = r.spare, slot.imageReady

	return frameloop.Acquisition{
		Slot:       imageIndex,
		ImageReady: slot.imageReady,
		Suboptimal: res == khr_swapchain.VKSuboptimal,
	}, nil
}

// Submit records the slot's draw and submits it. priorDone is not waited on:
// every frame goes through the same queue, and the render pass's external
// dependency orders this frame's color writes after the previous frame's.
func (r *Renderer) Submit(slotIndex int, imageReady frameloop.Token, priorDone frameloop.Token) (frameloop.Token, error) {
	if slotIndex < 0 || slotIndex >= len(r.slots) {
		return nil, errors.Newf("slot %d of %d", slotIndex, len(r.slots))
	}
	slot := r.slots[slotIndex]

	err := r.device.recordFrame(slot, drawCommands{
		pipeline:    r.draw,
		framebuffer: r.swapchain.framebuffers[slotIndex],
		extent:      r.swapchain.extent,
		mesh:        r.mesh,
		transform:   frameTransform(hrtime.Since(r.start), r.swapchain.extent),
	})
	if err != nil {
		return nil, err
	}

	submit := core1_0.SubmitInfo{
		CommandBuffers:   []core1_0.CommandBuffer{slot.primary},
		SignalSemaphores: []core1_0.Semaphore{slot.renderDone},
	}
	if semaphore, ok := imageReady.(core1_0.Semaphore); ok {
		submit.WaitSemaphores = []core1_0.Semaphore{semaphore}
		submit.WaitDstStageMask = []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}
	}

	// The loop has already waited on this fence.
	_, err = r.device.driver.ResetFences(slot.fence)
	if err != nil {
		return nil, errors.Wrap(err, "resetting fence")
	}

	_, err = r.device.driver.QueueSubmit(r.device.graphicsQueue, &slot.fence, submit)
	if err != nil {
		return nil, errors.Wrap(err, "submitting frame")
	}

	return slot.fence, nil
}

func (r *Renderer) Wait(token frameloop.Token) error {
	if token == nil {
		return nil
	}

	fence, ok := token.(core1_0.Fence)
	if !ok {
		return errors.Newf("cannot wait on %T", token)
	}

	_, err := r.device.driver.WaitForFences(true, common.NoTimeout, fence)
	return errors.Wrap(err, "waiting for fence")
}

func (r *Renderer) Present(slotIndex int) error {
	slot := r.slots[slotIndex]

	res, err := r.swapchain.driver.QueuePresent(r.device.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{slot.renderDone},
		Swapchains:     []khr_swapchain.Swapchain{r.swapchain.handle},
		ImageIndices:   []int{slotIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		if err == nil {
			err = errors.Newf("present returned %v", res)
		}
		return frameloop.OutOfDate(err)
	} else if err != nil {
		return errors.Wrap(err, "presenting")
	}

	return nil
}

func (r *Renderer) destroySwapchain() {
	r.device.destroyFrameSlots(r.slots)
	r.slots = nil

	r.device.destroySwapchain(r.swapchain)
	r.swapchain = nil
}

// Close releases every GPU object. The frame loop must have stopped.
func (r *Renderer) Close() {
	if r.device.driver != nil {
		_ = r.device.WaitIdle()

		r.destroySwapchain()
		r.device.destroyDrawPipeline(r.draw)
		r.draw = nil

		r.device.destroyMesh(r.mesh)
		r.mesh = meshBuffers{}

		if r.spare.Initialized() {
			r.device.driver.DestroySemaphore(r.spare, nil)
			r.spare = core1_0.Semaphore{}
		}
	}

	r.device.Close()
}
