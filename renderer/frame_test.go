package renderer

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func assertVec(t *testing.T, expected, actual mgl32.Vec4) {
	t.Helper()
	assert.True(t, expected.ApproxEqualThreshold(actual, 1e-5), "expected %v, got %v", expected, actual)
}

func TestFrameTransform(t *testing.T) {
	square := core1_0.Extent2D{Width: 600, Height: 600}
	top := mgl32.Vec4{0, 0.5, 0, 1}

	// Flipped into Vulkan's y-down clip space.
	assertVec(t, mgl32.Vec4{0, -0.5, 0, 1}, frameTransform(0, square).Mul4x1(top))

	// A quarter turn after one second.
	assertVec(t, mgl32.Vec4{-0.5, 0, 0, 1}, frameTransform(time.Second, square).Mul4x1(top))

	// The period is four seconds.
	assertVec(t, frameTransform(time.Second, square).Mul4x1(top), frameTransform(5*time.Second, square).Mul4x1(top))

	wide := core1_0.Extent2D{Width: 1200, Height: 600}
	assertVec(t, mgl32.Vec4{0.5, 0, 0, 1}, frameTransform(0, wide).Mul4x1(mgl32.Vec4{1, 0, 0, 1}))
}
