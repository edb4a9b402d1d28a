package renderer

import (
	"flag"

	"github.com/cockroachdb/errors"
)

// Config controls window, device and pipeline setup.
type Config struct {
	Title  string
	Width  int
	Height int

	// Validation enables VK_LAYER_KHRONOS_validation and routes its messages
	// to the logger.
	Validation bool
	// PreferMailbox picks mailbox presentation when the surface offers it,
	// FIFO otherwise.
	PreferMailbox bool

	// ShaderDir holds the compiled SPIR-V shaders.
	ShaderDir string
	// MeshPath is an optional OBJ file drawn instead of the built-in triangle.
	MeshPath string
	// PipelineCachePath is where the pipeline cache is loaded from and saved
	// to. Empty disables the on-disk cache.
	PipelineCachePath string

	// Mandelbrot output.
	ImageWidth    int
	ImageHeight   int
	ImagePath     string
	MaxIterations int
	Zoom          float64
	CenterX       float64
	CenterY       float64
}

func DefaultConfig() Config {
	return Config{
		Title:             "presentloop",
		Width:             800,
		Height:            600,
		Validation:        true,
		PreferMailbox:     true,
		ShaderDir:         "shaders",
		PipelineCachePath: "pipeline_cache.data",
		ImageWidth:        1024,
		ImageHeight:       1024,
		ImagePath:         "image.png",
		MaxIterations:     200,
		Zoom:              1,
		CenterX:           -1,
		CenterY:           0,
	}
}

// RegisterFlags binds the config fields to command line flags, using the
// current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Title, "title", c.Title, "Window title")
	fs.IntVar(&c.Width, "width", c.Width, "Initial window width")
	fs.IntVar(&c.Height, "height", c.Height, "Initial window height")
	fs.BoolVar(&c.Validation, "validation", c.Validation, "Enable the Khronos validation layer")
	fs.BoolVar(&c.PreferMailbox, "mailbox", c.PreferMailbox, "Prefer mailbox presentation over FIFO")
	fs.StringVar(&c.ShaderDir, "shaders", c.ShaderDir, "Directory holding compiled SPIR-V shaders")
	fs.StringVar(&c.MeshPath, "mesh", c.MeshPath, "OBJ mesh to draw instead of the triangle")
	fs.StringVar(&c.PipelineCachePath, "pipeline-cache", c.PipelineCachePath, "Pipeline cache file, empty to disable")
	fs.IntVar(&c.ImageWidth, "image-width", c.ImageWidth, "Compute output width")
	fs.IntVar(&c.ImageHeight, "image-height", c.ImageHeight, "Compute output height")
	fs.StringVar(&c.ImagePath, "out", c.ImagePath, "Compute output PNG")
	fs.IntVar(&c.MaxIterations, "iterations", c.MaxIterations, "Mandelbrot iteration limit")
	fs.Float64Var(&c.Zoom, "zoom", c.Zoom, "Mandelbrot zoom factor")
	fs.Float64Var(&c.CenterX, "cx", c.CenterX, "Mandelbrot view center, real part")
	fs.Float64Var(&c.CenterY, "cy", c.CenterY, "Mandelbrot view center, imaginary part")
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Newf("window size %dx%d must be positive", c.Width, c.Height)
	}
	if c.ShaderDir == "" {
		return errors.New("shader directory must be set")
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return errors.Newf("image size %dx%d must be positive", c.ImageWidth, c.ImageHeight)
	}
	if c.ImageWidth%workgroupSize != 0 || c.ImageHeight%workgroupSize != 0 {
		return errors.Newf("image size %dx%d must be a multiple of %d", c.ImageWidth, c.ImageHeight, workgroupSize)
	}
	if c.MaxIterations <= 0 {
		return errors.Newf("iteration limit %d must be positive", c.MaxIterations)
	}
	if c.Zoom <= 0 {
		return errors.Newf("zoom %g must be positive", c.Zoom)
	}
	return nil
}
