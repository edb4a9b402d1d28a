package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/presentloop/frameloop"
)

func flexibleCapabilities() *khr_surface.SurfaceCapabilities {
	return &khr_surface.SurfaceCapabilities{
		MinImageCount:  2,
		MaxImageCount:  0,
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
	}
}

func TestChooseSwapExtent(t *testing.T) {
	t.Run("surface dictates extent", func(t *testing.T) {
		caps := flexibleCapabilities()
		caps.CurrentExtent = core1_0.Extent2D{Width: 640, Height: 480}

		extent, err := chooseSwapExtent(caps, frameloop.Extent{Width: 800, Height: 600})
		require.NoError(t, err)
		assert.Equal(t, core1_0.Extent2D{Width: 640, Height: 480}, extent)
	})

	t.Run("surface reports zero extent", func(t *testing.T) {
		caps := flexibleCapabilities()
		caps.CurrentExtent = core1_0.Extent2D{Width: 0, Height: 0}

		_, err := chooseSwapExtent(caps, frameloop.Extent{Width: 800, Height: 600})
		assert.True(t, errors.Is(err, frameloop.ErrInvalidSize))
	})

	t.Run("drawable size within limits", func(t *testing.T) {
		extent, err := chooseSwapExtent(flexibleCapabilities(), frameloop.Extent{Width: 1024, Height: 768})
		require.NoError(t, err)
		assert.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, extent)
	})

	invalid := map[string]frameloop.Extent{
		"zero":       {},
		"zero width": {Width: 0, Height: 600},
		"too wide":   {Width: 5000, Height: 600},
		"too tall":   {Width: 800, Height: 5000},
	}
	for name, size := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := chooseSwapExtent(flexibleCapabilities(), size)
			assert.True(t, errors.Is(err, frameloop.ErrInvalidSize))
			assert.True(t, frameloop.IsTransient(err))
		})
	}
}

func TestSwapImageCount(t *testing.T) {
	caps := flexibleCapabilities()
	assert.Equal(t, 3, swapImageCount(caps))

	caps.MaxImageCount = 2
	assert.Equal(t, 2, swapImageCount(caps))
}

func TestChooseSwapSurfaceFormat(t *testing.T) {
	srgb := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	unorm := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}

	assert.Equal(t, srgb, chooseSwapSurfaceFormat([]khr_surface.SurfaceFormat{unorm, srgb}))
	assert.Equal(t, unorm, chooseSwapSurfaceFormat([]khr_surface.SurfaceFormat{unorm}))
}

func TestChooseSwapPresentMode(t *testing.T) {
	modes := []khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox}

	assert.Equal(t, khr_surface.PresentModeMailbox, chooseSwapPresentMode(modes, true))
	assert.Equal(t, khr_surface.PresentModeFIFO, chooseSwapPresentMode(modes, false))
	assert.Equal(t, khr_surface.PresentModeFIFO, chooseSwapPresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO}, true))
}

func TestDeviceTypeRank(t *testing.T) {
	ordered := []core1_0.PhysicalDeviceType{
		core1_0.PhysicalDeviceTypeDiscreteGPU,
		core1_0.PhysicalDeviceTypeIntegratedGPU,
		core1_0.PhysicalDeviceTypeVirtualGPU,
		core1_0.PhysicalDeviceTypeCPU,
		core1_0.PhysicalDeviceTypeOther,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, deviceTypeRank(ordered[i-1]), deviceTypeRank(ordered[i]), "%v before %v", ordered[i-1], ordered[i])
	}
}
