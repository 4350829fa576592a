package tiles

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/webp"
)

// Image is a decoded tile raster. It is immutable once built and safe to share between waiters.
type Image struct {
	img    image.Image
	format string
}

// NewImage wraps an already decoded image.
func NewImage(img image.Image, format string) *Image {
	return &Image{img: img, format: format}
}

// DecodeImage reads a PNG, JPEG or WebP tile.
func DecodeImage(r io.Reader) (*Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode tile image: %w", err)
	}
	return &Image{img: img, format: format}, nil
}

func (i *Image) Image() image.Image { return i.img }

func (i *Image) Format() string { return i.format }

func (i *Image) Bounds() image.Rectangle {
	if i.img == nil {
		return image.Rectangle{}
	}
	return i.img.Bounds()
}
