package renderer

import (
	"bufio"
	"image"
	"image/png"
	"os"

	"github.com/cockroachdb/errors"
)

// pixelsToImage wraps tightly packed rgba8 rows in an image.RGBA.
func pixelsToImage(pixels []byte, width, height int) (*image.RGBA, error) {
	if len(pixels) != width*height*4 {
		return nil, errors.Newf("got %d bytes for a %dx%d rgba8 image", len(pixels), width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pixels)
	return img, nil
}

func WritePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating image file")
	}

	writer := bufio.NewWriter(file)
	err = png.Encode(writer, img)
	if err == nil {
		err = writer.Flush()
	}
	if err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "encoding %s", path)
	}

	return errors.Wrapf(file.Close(), "closing %s", path)
}
