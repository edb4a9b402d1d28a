package renderer

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type buffer struct {
	handle core1_0.Buffer
	memory core1_0.DeviceMemory
	size   int
}

func (d *Device) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (buffer, error) {
	handle, _, err := d.driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return buffer{}, errors.Wrap(err, "creating buffer")
	}

	memRequirements := d.driver.GetBufferMemoryRequirements(handle)
	memoryTypeIndex, err := d.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		d.driver.DestroyBuffer(handle, nil)
		return buffer{}, err
	}

	memory, _, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		d.driver.DestroyBuffer(handle, nil)
		return buffer{}, errors.Wrap(err, "allocating buffer memory")
	}

	_, err = d.driver.BindBufferMemory(handle, memory, 0)
	if err != nil {
		d.driver.DestroyBuffer(handle, nil)
		d.driver.FreeMemory(memory, nil)
		return buffer{}, errors.Wrap(err, "binding buffer memory")
	}

	return buffer{handle: handle, memory: memory, size: size}, nil
}

// createDeviceLocalBuffer uploads data through a host-visible staging buffer.
func (d *Device) createDeviceLocalBuffer(data any, usage core1_0.BufferUsageFlags) (buffer, error) {
	size := binary.Size(data)
	if size <= 0 {
		return buffer{}, errors.Newf("cannot upload %T", data)
	}

	staging, err := d.createBuffer(size, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return buffer{}, err
	}
	defer d.destroyBuffer(staging)

	err = writeData(d.driver, staging.memory, 0, data)
	if err != nil {
		return buffer{}, err
	}

	result, err := d.createBuffer(size, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return buffer{}, err
	}

	err = d.runSingleTimeCommands(func(cmd core1_0.CommandBuffer) error {
		return d.driver.CmdCopyBuffer(cmd, staging.handle, result.handle, core1_0.BufferCopy{Size: size})
	})
	if err != nil {
		d.destroyBuffer(result)
		return buffer{}, err
	}

	return result, nil
}

func (d *Device) destroyBuffer(b buffer) {
	if b.handle.Initialized() {
		d.driver.DestroyBuffer(b.handle, nil)
	}
	if b.memory.Initialized() {
		d.driver.FreeMemory(b.memory, nil)
	}
}

func (d *Device) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := d.instanceDriver.GetPhysicalDeviceMemoryProperties(d.physicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("no memory type matches filter %b with properties %s", typeFilter, properties)
}

func writeData(driver core1_0.DeviceDriver, memory core1_0.DeviceMemory, offset int, data any) error {
	bufferSize := binary.Size(data)

	memoryPtr, _, err := driver.MapMemory(memory, offset, bufferSize, 0)
	if err != nil {
		return errors.Wrap(err, "mapping memory")
	}
	defer driver.UnmapMemory(memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), bufferSize)

	buf := &bytes.Buffer{}
	err = binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return err
	}

	copy(dataBuffer, buf.Bytes())
	return nil
}

func readData(driver core1_0.DeviceDriver, memory core1_0.DeviceMemory, size int) ([]byte, error) {
	memoryPtr, _, err := driver.MapMemory(memory, 0, size, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mapping memory")
	}
	defer driver.UnmapMemory(memory)

	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(memoryPtr), size))
	return out, nil
}

// runSingleTimeCommands records into a throwaway command buffer, submits it
// and waits for the queue to go idle.
func (d *Device) runSingleTimeCommands(record func(cmd core1_0.CommandBuffer) error) error {
	buffers, _, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return errors.Wrap(err, "allocating command buffer")
	}
	cmd := buffers[0]
	defer d.driver.FreeCommandBuffers(cmd)

	_, err = d.driver.BeginCommandBuffer(cmd, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "beginning command buffer")
	}

	err = record(cmd)
	if err != nil {
		return err
	}

	_, err = d.driver.EndCommandBuffer(cmd)
	if err != nil {
		return errors.Wrap(err, "ending command buffer")
	}

	_, err = d.driver.QueueSubmit(d.graphicsQueue, nil, core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{cmd},
	})
	if err != nil {
		return errors.Wrap(err, "submitting command buffer")
	}

	_, err = d.driver.QueueWaitIdle(d.graphicsQueue)
	return errors.Wrap(err, "waiting for queue")
}
