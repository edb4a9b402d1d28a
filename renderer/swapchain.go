package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/presentloop/frameloop"
)

type swapchainSupport struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

func (d *Device) querySwapchainSupport(device core1_0.PhysicalDevice) (swapchainSupport, error) {
	var support swapchainSupport
	var err error

	support.Capabilities, _, err = d.surfaceDriver.GetPhysicalDeviceSurfaceCapabilities(d.surface, device)
	if err != nil {
		return support, errors.Wrap(err, "querying surface capabilities")
	}

	support.Formats, _, err = d.surfaceDriver.GetPhysicalDeviceSurfaceFormats(d.surface, device)
	if err != nil {
		return support, errors.Wrap(err, "querying surface formats")
	}

	support.PresentModes, _, err = d.surfaceDriver.GetPhysicalDeviceSurfacePresentModes(d.surface, device)
	return support, errors.Wrap(err, "querying present modes")
}

func chooseSwapSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

// chooseSwapPresentMode falls back to FIFO, the only mode every surface
// supports.
func chooseSwapPresentMode(availablePresentModes []khr_surface.PresentMode, preferMailbox bool) khr_surface.PresentMode {
	if preferMailbox {
		for _, presentMode := range availablePresentModes {
			if presentMode == khr_surface.PresentModeMailbox {
				return presentMode
			}
		}
	}

	return khr_surface.PresentModeFIFO
}

// chooseSwapExtent picks the swapchain size for a window of the given
// drawable size. Sizes the surface can't back right now, such as a zero-area
// window, are reported as frameloop.ErrInvalidSize so the rebuild is retried.
func chooseSwapExtent(capabilities *khr_surface.SurfaceCapabilities, size frameloop.Extent) (core1_0.Extent2D, error) {
	if capabilities.CurrentExtent.Width != -1 {
		extent := capabilities.CurrentExtent
		if extent.Width <= 0 || extent.Height <= 0 {
			return core1_0.Extent2D{}, frameloop.InvalidSize(errors.Newf("surface extent is %dx%d", extent.Width, extent.Height))
		}
		return extent, nil
	}

	if size.Empty() {
		return core1_0.Extent2D{}, frameloop.InvalidSize(errors.Newf("drawable size is %s", size))
	}

	minExtent, maxExtent := capabilities.MinImageExtent, capabilities.MaxImageExtent
	if size.Width < minExtent.Width || size.Width > maxExtent.Width ||
		size.Height < minExtent.Height || size.Height > maxExtent.Height {
		return core1_0.Extent2D{}, frameloop.InvalidSize(errors.Newf("drawable size %s outside %dx%d..%dx%d",
			size, minExtent.Width, minExtent.Height, maxExtent.Width, maxExtent.Height))
	}

	return core1_0.Extent2D{Width: size.Width, Height: size.Height}, nil
}

func swapImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

type swapchain struct {
	driver khr_swapchain.ExtensionDriver
	handle khr_swapchain.Swapchain

	format core1_0.Format
	extent core1_0.Extent2D

	images       []core1_0.Image
	views        []core1_0.ImageView
	framebuffers []core1_0.Framebuffer
}

func (d *Device) createSwapchain(support swapchainSupport, extent core1_0.Extent2D) (*swapchain, error) {
	surfaceFormat := chooseSwapSurfaceFormat(support.Formats)
	presentMode := chooseSwapPresentMode(support.PresentModes, d.cfg.PreferMailbox)

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int
	if *d.families.Graphics != *d.families.Present {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *d.families.Graphics, *d.families.Present)
	}

	sc := &swapchain{
		driver: khr_swapchain.CreateExtensionDriverFromCoreDriver(d.driver),
		format: surfaceFormat.Format,
		extent: extent,
	}

	var err error
	sc.handle, _, err = sc.driver.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: d.surface,

		MinImageCount:    swapImageCount(support.Capabilities),
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating swapchain")
	}

	sc.images, _, err = sc.driver.GetSwapchainImages(sc.handle)
	if err != nil {
		d.destroySwapchain(sc)
		return nil, errors.Wrap(err, "listing swapchain images")
	}

	for _, image := range sc.images {
		view, err := d.createImageView(image, sc.format)
		if err != nil {
			d.destroySwapchain(sc)
			return nil, err
		}
		sc.views = append(sc.views, view)
	}

	frameloop.Logger().Info("swapchain created",
		"extent", frameloop.Extent{Width: extent.Width, Height: extent.Height},
		"images", len(sc.images),
		"format", sc.format.String(),
		"presentMode", presentMode.String())
	return sc, nil
}

func (d *Device) createFramebuffers(sc *swapchain, renderPass core1_0.RenderPass) error {
	for _, view := range sc.views {
		framebuffer, _, err := d.driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass:  renderPass,
			Layers:      1,
			Attachments: []core1_0.ImageView{view},
			Width:       sc.extent.Width,
			Height:      sc.extent.Height,
		})
		if err != nil {
			return errors.Wrap(err, "creating framebuffer")
		}

		sc.framebuffers = append(sc.framebuffers, framebuffer)
	}
	return nil
}

func (d *Device) createImageView(image core1_0.Image, format core1_0.Format) (core1_0.ImageView, error) {
	imageView, _, err := d.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	return imageView, errors.Wrap(err, "creating image view")
}

func (d *Device) destroySwapchain(sc *swapchain) {
	if sc == nil {
		return
	}

	for _, framebuffer := range sc.framebuffers {
		d.driver.DestroyFramebuffer(framebuffer, nil)
	}
	sc.framebuffers = nil

	for _, view := range sc.views {
		d.driver.DestroyImageView(view, nil)
	}
	sc.views = nil

	if sc.handle.Initialized() {
		sc.driver.DestroySwapchain(sc.handle, nil)
		sc.handle = khr_swapchain.Swapchain{}
	}
}
