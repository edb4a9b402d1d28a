// Package renderer is a Vulkan implementation of the frame loop's Surface
// and Queue, plus a headless compute path that renders the Mandelbrot set.
//
// Shaders are loaded from Config.ShaderDir as SPIR-V. Rebuild them with
// go generate after editing the GLSL sources.
package renderer

//go:generate glslc ../shaders/triangle.vert -o ../shaders/triangle.vert.spv
//go:generate glslc ../shaders/triangle.frag -o ../shaders/triangle.frag.spv
//go:generate glslc ../shaders/mandelbrot.comp -o ../shaders/mandelbrot.comp.spv
