package renderer

import (
	"bytes"
	"encoding/binary"
	"image"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/presentloop/frameloop"
)

// workgroupSize matches local_size_x and local_size_y in mandelbrot.comp.
const workgroupSize = 8

type mandelbrotPushConstants struct {
	Center        mgl32.Vec2
	Span          float32
	MaxIterations uint32
}

func mandelbrotParams(cfg Config) mandelbrotPushConstants {
	return mandelbrotPushConstants{
		Center:        mgl32.Vec2{float32(cfg.CenterX), float32(cfg.CenterY)},
		Span:          float32(2 / cfg.Zoom),
		MaxIterations: uint32(cfg.MaxIterations),
	}
}

// computeJob holds the objects for one Mandelbrot dispatch.
type computeJob struct {
	width, height int

	image       core1_0.Image
	imageMemory core1_0.DeviceMemory
	view        core1_0.ImageView

	setLayout      core1_0.DescriptorSetLayout
	descriptorPool core1_0.DescriptorPool
	descriptorSet  core1_0.DescriptorSet

	layout   core1_0.PipelineLayout
	pipeline core1_0.Pipeline

	readback buffer
}

// RenderMandelbrot runs the Mandelbrot compute shader at the configured size
// and reads the result back to host memory.
func (d *Device) RenderMandelbrot() (*image.RGBA, error) {
	job := &computeJob{width: d.cfg.ImageWidth, height: d.cfg.ImageHeight}
	defer d.destroyComputeJob(job)

	start := hrtime.Now()
	err := d.prepareComputeJob(job)
	if err != nil {
		return nil, err
	}
	frameloop.Logger().Debug("compute pipeline ready", "took", hrtime.Since(start))

	err = d.runSingleTimeCommands(func(cmd core1_0.CommandBuffer) error {
		return d.recordMandelbrot(cmd, job)
	})
	if err != nil {
		return nil, errors.Wrap(err, "dispatching mandelbrot")
	}

	pixels, err := readData(d.driver, job.readback.memory, job.readback.size)
	if err != nil {
		return nil, err
	}

	frameloop.Logger().Info("mandelbrot rendered",
		"extent", frameloop.Extent{Width: job.width, Height: job.height},
		"took", hrtime.Since(start))
	return pixelsToImage(pixels, job.width, job.height)
}

func (d *Device) prepareComputeJob(job *computeJob) error {
	var err error
	job.image, job.imageMemory, err = d.createImage(job.width, job.height,
		core1_0.FormatR8G8B8A8UnsignedNormalized,
		core1_0.ImageUsageStorage|core1_0.ImageUsageTransferSrc)
	if err != nil {
		return err
	}

	job.view, err = d.createImageView(job.image, core1_0.FormatR8G8B8A8UnsignedNormalized)
	if err != nil {
		return err
	}

	job.setLayout, _, err = d.driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeStorageImage,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating descriptor set layout")
	}

	job.descriptorPool, _, err = d.driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeStorageImage,
				DescriptorCount: 1,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating descriptor pool")
	}

	sets, _, err := d.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: job.descriptorPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{job.setLayout},
	})
	if err != nil {
		return errors.Wrap(err, "allocating descriptor set")
	}
	job.descriptorSet = sets[0]

	err = d.driver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:         job.descriptorSet,
			DstBinding:     0,
			DescriptorType: core1_0.DescriptorTypeStorageImage,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   job.view,
					ImageLayout: core1_0.ImageLayoutGeneral,
				},
			},
		},
	}, nil)
	if err != nil {
		return errors.Wrap(err, "updating descriptor set")
	}

	job.layout, _, err = d.driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{job.setLayout},
		PushConstantRanges: []core1_0.PushConstantRange{
			{
				StageFlags: core1_0.StageCompute,
				Offset:     0,
				Size:       int(unsafe.Sizeof(mandelbrotPushConstants{})),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating compute pipeline layout")
	}

	shaders, err := d.loadShaders(d.shaderFS(), mandelbrotShader)
	if err != nil {
		return err
	}
	defer d.destroyShaders(shaders)

	pipelines, _, err := d.driver.CreateComputePipelines(d.cache(), nil, core1_0.ComputePipelineCreateInfo{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: shaders[0],
			Name:   "main",
		},
		Layout:            job.layout,
		BasePipelineIndex: -1,
	})
	if err != nil {
		return errors.Wrap(err, "creating compute pipeline")
	}
	job.pipeline = pipelines[0]

	job.readback, err = d.createBuffer(job.width*job.height*4, core1_0.BufferUsageTransferDst,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	return err
}

func (d *Device) recordMandelbrot(cmd core1_0.CommandBuffer, job *computeJob) error {
	colorRange := core1_0.ImageSubresourceRange{
		AspectMask: core1_0.ImageAspectColor,
		LevelCount: 1,
		LayerCount: 1,
	}

	err := d.driver.CmdPipelineBarrier(cmd, core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageComputeShader, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           core1_0.ImageLayoutUndefined,
			NewLayout:           core1_0.ImageLayoutGeneral,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               job.image,
			SubresourceRange:    colorRange,
			DstAccessMask:       core1_0.AccessShaderWrite,
		},
	})
	if err != nil {
		return err
	}

	pushConstants := &bytes.Buffer{}
	err = binary.Write(pushConstants, common.ByteOrder, mandelbrotParams(d.cfg))
	if err != nil {
		return err
	}

	d.driver.CmdBindPipeline(cmd, core1_0.PipelineBindPointCompute, job.pipeline)
	d.driver.CmdBindDescriptorSets(cmd, core1_0.PipelineBindPointCompute, job.layout, 0, []core1_0.DescriptorSet{job.descriptorSet}, nil)
	d.driver.CmdPushConstants(cmd, job.layout, core1_0.StageCompute, 0, pushConstants.Bytes())
	d.driver.CmdDispatch(cmd, job.width/workgroupSize, job.height/workgroupSize, 1)

	err = d.driver.CmdPipelineBarrier(cmd, core1_0.PipelineStageComputeShader, core1_0.PipelineStageTransfer, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           core1_0.ImageLayoutGeneral,
			NewLayout:           core1_0.ImageLayoutTransferSrcOptimal,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               job.image,
			SubresourceRange:    colorRange,
			SrcAccessMask:       core1_0.AccessShaderWrite,
			DstAccessMask:       core1_0.AccessTransferRead,
		},
	})
	if err != nil {
		return err
	}

	err = d.driver.CmdCopyImageToBuffer(cmd, job.image, core1_0.ImageLayoutTransferSrcOptimal, job.readback.handle,
		core1_0.BufferImageCopy{
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask: core1_0.ImageAspectColor,
				LayerCount: 1,
			},
			ImageExtent: core1_0.Extent3D{Width: job.width, Height: job.height, Depth: 1},
		},
	)
	if err != nil {
		return err
	}

	return d.driver.CmdPipelineBarrier(cmd, core1_0.PipelineStageTransfer, core1_0.PipelineStageHost, 0,
		[]core1_0.MemoryBarrier{
			{
				SrcAccessMask: core1_0.AccessTransferWrite,
				DstAccessMask: core1_0.AccessHostRead,
			},
		}, nil, nil)
}

func (d *Device) createImage(width, height int, format core1_0.Format, usage core1_0.ImageUsageFlags) (core1_0.Image, core1_0.DeviceMemory, error) {
	img, _, err := d.driver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return core1_0.Image{}, core1_0.DeviceMemory{}, errors.Wrap(err, "creating image")
	}

	memReqs := d.driver.GetImageMemoryRequirements(img)
	memoryIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		d.driver.DestroyImage(img, nil)
		return core1_0.Image{}, core1_0.DeviceMemory{}, err
	}

	memory, _, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		d.driver.DestroyImage(img, nil)
		return core1_0.Image{}, core1_0.DeviceMemory{}, errors.Wrap(err, "allocating image memory")
	}

	_, err = d.driver.BindImageMemory(img, memory, 0)
	if err != nil {
		d.driver.DestroyImage(img, nil)
		d.driver.FreeMemory(memory, nil)
		return core1_0.Image{}, core1_0.DeviceMemory{}, errors.Wrap(err, "binding image memory")
	}

	return img, memory, nil
}

func (d *Device) destroyComputeJob(job *computeJob) {
	d.destroyBuffer(job.readback)

	if job.pipeline.Initialized() {
		d.driver.DestroyPipeline(job.pipeline, nil)
	}
	if job.layout.Initialized() {
		d.driver.DestroyPipelineLayout(job.layout, nil)
	}
	if job.descriptorPool.Initialized() {
		d.driver.DestroyDescriptorPool(job.descriptorPool, nil)
	}
	if job.setLayout.Initialized() {
		d.driver.DestroyDescriptorSetLayout(job.setLayout, nil)
	}
	if job.view.Initialized() {
		d.driver.DestroyImageView(job.view, nil)
	}
	if job.image.Initialized() {
		d.driver.DestroyImage(job.image, nil)
	}
	if job.imageMemory.Initialized() {
		d.driver.FreeMemory(job.imageMemory, nil)
	}
}
