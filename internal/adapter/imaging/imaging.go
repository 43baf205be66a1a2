package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/niksmo/product-intake/internal/core/port"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	DefaultWidth   = 800
	DefaultHeight  = 800
	DefaultQuality = 100
)

var _ port.ImageEncoder = JPEGEncoder{}

// A JPEGEncoder decodes an image, scales it to a fixed box and re-encodes it
// as JPEG.
//
// The scale is non-uniform: the aspect ratio of the source is not kept.
type JPEGEncoder struct {
	width   int
	height  int
	quality int
}

func NewJPEGEncoder(width, height, quality int) (JPEGEncoder, error) {
	const op = "imaging.NewJPEGEncoder"

	if width <= 0 || height <= 0 {
		return JPEGEncoder{}, fmt.Errorf(
			"%s: invalid box %dx%d", op, width, height,
		)
	}
	if quality < 1 || quality > 100 {
		return JPEGEncoder{}, fmt.Errorf("%s: invalid quality %d", op, quality)
	}
	return JPEGEncoder{width, height, quality}, nil
}

// DefaultJPEGEncoder scales to 800x800 at maximum quality.
func DefaultJPEGEncoder() JPEGEncoder {
	return JPEGEncoder{DefaultWidth, DefaultHeight, DefaultQuality}
}

func (e JPEGEncoder) ContentType() string {
	return "image/jpeg"
}

func (e JPEGEncoder) Encode(src []byte) ([]byte, error) {
	const op = "JPEGEncoder.Encode"

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, e.width, e.height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: e.quality})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return buf.Bytes(), nil
}
