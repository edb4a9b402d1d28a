package renderer

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/sync/errgroup"
)

// frameSlot holds the per-image objects. Each slot has its own command pool
// so it can be reset wholesale before the slot is re-recorded.
type frameSlot struct {
	pool      core1_0.CommandPool
	primary   core1_0.CommandBuffer
	secondary core1_0.CommandBuffer

	// fence signals when the slot's last submission has finished.
	fence core1_0.Fence
	// imageReady is signalled by the acquire that handed out this slot.
	imageReady core1_0.Semaphore
	// renderDone is signalled by the submission and waited on by present.
	renderDone core1_0.Semaphore
}

func (d *Device) createFrameSlots(count int) ([]*frameSlot, error) {
	slots := make([]*frameSlot, count)

	var group errgroup.Group
	for i := range slots {
		i := i
		group.Go(func() error {
			slot := &frameSlot{}
			slots[i] = slot
			return d.initFrameSlot(slot)
		})
	}

	err := group.Wait()
	if err != nil {
		d.destroyFrameSlots(slots)
		return nil, err
	}
	return slots, nil
}

func (d *Device) initFrameSlot(slot *frameSlot) error {
	var err error
	slot.pool, _, err = d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateTransient,
		QueueFamilyIndex: *d.families.Graphics,
	})
	if err != nil {
		return errors.Wrap(err, "creating frame command pool")
	}

	primaries, _, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        slot.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return errors.Wrap(err, "allocating primary command buffer")
	}
	slot.primary = primaries[0]

	secondaries, _, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        slot.pool,
		Level:              core1_0.CommandBufferLevelSecondary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return errors.Wrap(err, "allocating secondary command buffer")
	}
	slot.secondary = secondaries[0]

	slot.fence, _, err = d.driver.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return errors.Wrap(err, "creating fence")
	}

	slot.imageReady, _, err = d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return errors.Wrap(err, "creating semaphore")
	}

	slot.renderDone, _, err = d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	return errors.Wrap(err, "creating semaphore")
}

func (d *Device) destroyFrameSlots(slots []*frameSlot) {
	for _, slot := range slots {
		if slot == nil {
			continue
		}
		if slot.renderDone.Initialized() {
			d.driver.DestroySemaphore(slot.renderDone, nil)
		}
		if slot.imageReady.Initialized() {
			d.driver.DestroySemaphore(slot.imageReady, nil)
		}
		if slot.fence.Initialized() {
			d.driver.DestroyFence(slot.fence, nil)
		}
		// Destroying the pool frees its command buffers.
		if slot.pool.Initialized() {
			d.driver.DestroyCommandPool(slot.pool, nil)
		}
	}
}

// frameTransform spins the mesh a quarter turn per second and corrects for
// the aspect ratio of extent.
func frameTransform(elapsed time.Duration, extent core1_0.Extent2D) mgl32.Mat4 {
	angle := float32(math.Mod(elapsed.Seconds(), 4.0) * math.Pi / 2.0)

	aspect := float32(1)
	if extent.Height > 0 {
		aspect = float32(extent.Width) / float32(extent.Height)
	}

	// Vulkan clip space has y pointing down.
	projection := mgl32.Ortho2D(-aspect, aspect, 1, -1)
	return projection.Mul4(mgl32.HomogRotate3DZ(angle))
}

type drawCommands struct {
	pipeline    *drawPipeline
	framebuffer core1_0.Framebuffer
	extent      core1_0.Extent2D
	mesh        meshBuffers
	transform   mgl32.Mat4
}

// recordFrame re-records both of the slot's command buffers: the draw goes
// into the secondary, which the primary executes inside the render pass.
func (d *Device) recordFrame(slot *frameSlot, draw drawCommands) error {
	_, err := d.driver.ResetCommandPool(slot.pool, 0)
	if err != nil {
		return errors.Wrap(err, "resetting command pool")
	}

	err = d.recordDraw(slot.secondary, draw)
	if err != nil {
		return err
	}

	_, err = d.driver.BeginCommandBuffer(slot.primary, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "beginning primary command buffer")
	}

	err = d.driver.CmdBeginRenderPass(slot.primary, core1_0.SubpassContentsSecondaryCommandBuffers,
		core1_0.RenderPassBeginInfo{
			RenderPass:  draw.pipeline.renderPass,
			Framebuffer: draw.framebuffer,
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: draw.extent,
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{0.1, 0.1, 0.1, 1},
			},
		})
	if err != nil {
		return errors.Wrap(err, "beginning render pass")
	}

	d.driver.CmdExecuteCommands(slot.primary, slot.secondary)
	d.driver.CmdEndRenderPass(slot.primary)

	_, err = d.driver.EndCommandBuffer(slot.primary)
	return errors.Wrap(err, "ending primary command buffer")
}

func (d *Device) recordDraw(cmd core1_0.CommandBuffer, draw drawCommands) error {
	_, err := d.driver.BeginCommandBuffer(cmd, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit | core1_0.CommandBufferUsageRenderPassContinue,
		InheritanceInfo: &core1_0.CommandBufferInheritanceInfo{
			RenderPass:  draw.pipeline.renderPass,
			Subpass:     0,
			Framebuffer: draw.framebuffer,
		},
	})
	if err != nil {
		return errors.Wrap(err, "beginning secondary command buffer")
	}

	pushConstants := &bytes.Buffer{}
	err = binary.Write(pushConstants, common.ByteOrder, drawPushConstants{Transform: draw.transform})
	if err != nil {
		return err
	}

	d.driver.CmdBindPipeline(cmd, core1_0.PipelineBindPointGraphics, draw.pipeline.pipeline)
	d.driver.CmdSetViewport(cmd, core1_0.Viewport{
		Width:    float32(draw.extent.Width),
		Height:   float32(draw.extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	d.driver.CmdSetScissor(cmd, core1_0.Rect2D{Extent: draw.extent})
	d.driver.CmdPushConstants(cmd, draw.pipeline.layout, core1_0.StageVertex, 0, pushConstants.Bytes())
	d.driver.CmdBindVertexBuffers(cmd, 0, []core1_0.Buffer{draw.mesh.vertices.handle}, []int{0})
	d.driver.CmdBindIndexBuffer(cmd, draw.mesh.indices.handle, 0, core1_0.IndexTypeUInt32)
	d.driver.CmdDrawIndexed(cmd, draw.mesh.indexCount, 1, 0, 0, 0)

	_, err = d.driver.EndCommandBuffer(cmd)
	return errors.Wrap(err, "ending secondary command buffer")
}
