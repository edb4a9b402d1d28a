package renderer

import (
	"io/fs"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"golang.org/x/sync/errgroup"
)

const spirvMagic = 0x07230203

const (
	triangleVertexShader   = "triangle.vert.spv"
	triangleFragmentShader = "triangle.frag.spv"
	mandelbrotShader       = "mandelbrot.comp.spv"
)

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

func decodeSPIRV(name string, b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("shader %s: %d bytes is not a whole number of SPIR-V words", name, len(b))
	}

	code := bytesToBytecode(b)
	if code[0] != spirvMagic {
		return nil, errors.Newf("shader %s: bad SPIR-V magic %#08x", name, code[0])
	}
	return code, nil
}

// loadShaders reads and creates the named shader modules concurrently. The
// modules come back in the order they were named.
func (d *Device) loadShaders(fsys fs.FS, names ...string) ([]core1_0.ShaderModule, error) {
	modules := make([]core1_0.ShaderModule, len(names))

	var group errgroup.Group
	for i, name := range names {
		i, name := i, name
		group.Go(func() error {
			b, err := fs.ReadFile(fsys, name)
			if err != nil {
				return errors.Wrapf(err, "reading shader %s", name)
			}

			code, err := decodeSPIRV(name, b)
			if err != nil {
				return err
			}

			modules[i], _, err = d.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
				Code: code,
			})
			return errors.Wrapf(err, "creating shader module %s", name)
		})
	}

	err := group.Wait()
	if err != nil {
		d.destroyShaders(modules)
		return nil, err
	}
	return modules, nil
}

func (d *Device) destroyShaders(modules []core1_0.ShaderModule) {
	for _, module := range modules {
		if module.Initialized() {
			d.driver.DestroyShaderModule(module, nil)
		}
	}
}

func (d *Device) shaderFS() fs.FS {
	return os.DirFS(d.cfg.ShaderDir)
}

// drawPushConstants is pushed to the vertex stage before every draw.
type drawPushConstants struct {
	Transform mgl32.Mat4
}

func vertexBindingDescription() []core1_0.VertexInputBindingDescription {
	v := Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
	}
}

// drawPipeline is the render pass and graphics pipeline for one swapchain
// format. Viewport and scissor are dynamic, so it outlives resizes and is
// only rebuilt when the format changes.
type drawPipeline struct {
	format     core1_0.Format
	renderPass core1_0.RenderPass
	layout     core1_0.PipelineLayout
	pipeline   core1_0.Pipeline
}

func (d *Device) createDrawPipeline(format core1_0.Format) (*drawPipeline, error) {
	p := &drawPipeline{format: format}

	err := d.createRenderPass(p)
	if err != nil {
		d.destroyDrawPipeline(p)
		return nil, err
	}

	err = d.createGraphicsPipeline(p)
	if err != nil {
		d.destroyDrawPipeline(p)
		return nil, err
	}

	return p, nil
}

func (d *Device) createRenderPass(p *drawPipeline) error {
	var err error
	p.renderPass, _, err = d.driver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         p.format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		// Orders this pass after any earlier color writes on the queue, the
		// previous frame's included.
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: core1_0.AccessColorAttachmentWrite,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	return errors.Wrap(err, "creating render pass")
}

func (d *Device) createGraphicsPipeline(p *drawPipeline) error {
	shaders, err := d.loadShaders(d.shaderFS(), triangleVertexShader, triangleFragmentShader)
	if err != nil {
		return err
	}
	defer d.destroyShaders(shaders)

	p.layout, _, err = d.driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		PushConstantRanges: []core1_0.PushConstantRange{
			{
				StageFlags: core1_0.StageVertex,
				Offset:     0,
				Size:       int(unsafe.Sizeof(drawPushConstants{})),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating pipeline layout")
	}

	pipelines, _, err := d.driver.CreateGraphicsPipelines(d.cache(), nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{
					Stage:  core1_0.StageVertex,
					Module: shaders[0],
					Name:   "main",
				},
				{
					Stage:  core1_0.StageFragment,
					Module: shaders[1],
					Name:   "main",
				},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   vertexBindingDescription(),
				VertexAttributeDescriptions: vertexAttributeDescriptions(),
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology: core1_0.PrimitiveTopologyTriangleList,
			},
			// Counts only; the rectangles are set while recording.
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{{}},
				Scissors:  []core1_0.Rect2D{{}},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				PolygonMode: core1_0.PolygonModeFill,
				CullMode:    core1_0.CullModeNone,
				FrontFace:   core1_0.FrontFaceCounterClockwise,
				LineWidth:   1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOp: core1_0.LogicOpCopy,
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					{
						ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
					},
				},
			},
			DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
				DynamicStates: []core1_0.DynamicState{core1_0.DynamicStateViewport, core1_0.DynamicStateScissor},
			},
			Layout:            p.layout,
			RenderPass:        p.renderPass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	)
	if err != nil {
		return errors.Wrap(err, "creating graphics pipeline")
	}
	p.pipeline = pipelines[0]

	return nil
}

func (d *Device) destroyDrawPipeline(p *drawPipeline) {
	if p == nil {
		return
	}

	if p.pipeline.Initialized() {
		d.driver.DestroyPipeline(p.pipeline, nil)
	}
	if p.layout.Initialized() {
		d.driver.DestroyPipelineLayout(p.layout, nil)
	}
	if p.renderPass.Initialized() {
		d.driver.DestroyRenderPass(p.renderPass, nil)
	}
}
