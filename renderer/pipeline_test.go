package renderer

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesToBytecode(t *testing.T) {
	code := bytesToBytecode([]byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00})
	assert.Equal(t, []uint32{spirvMagic, 0x00010000}, code)
}

func TestDecodeSPIRV(t *testing.T) {
	code, err := decodeSPIRV("ok.spv", []byte{0x03, 0x02, 0x23, 0x07})
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic}, code)

	_, err = decodeSPIRV("empty.spv", nil)
	assert.ErrorContains(t, err, "empty.spv")

	_, err = decodeSPIRV("short.spv", []byte{0x03, 0x02, 0x23})
	assert.ErrorContains(t, err, "whole number")

	_, err = decodeSPIRV("text.spv", []byte("#version 450"))
	assert.ErrorContains(t, err, "magic")
}

func TestVertexLayout(t *testing.T) {
	bindings := vertexBindingDescription()
	require.Len(t, bindings, 1)
	assert.Equal(t, 24, bindings[0].Stride)

	attributes := vertexAttributeDescriptions()
	require.Len(t, attributes, 2)
	assert.Equal(t, 0, attributes[0].Offset)
	assert.Equal(t, 12, attributes[1].Offset)
}

func TestPushConstantSizes(t *testing.T) {
	assert.Equal(t, uintptr(64), unsafe.Sizeof(drawPushConstants{}))
	assert.Equal(t, uintptr(16), unsafe.Sizeof(mandelbrotPushConstants{}))
}
