package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

const (
	// PixelMean and PixelStd normalize float model inputs: (v - 128) / 128.
	PixelMean = 128.0
	PixelStd  = 128.0
)

// Pixels is a square HWC RGB buffer ready to be copied into the model input.
// Exactly one of Float and Bytes is used, depending on Quantized.
type Pixels struct {
	Size      int
	Quantized bool
	Float     []float32
	Bytes     []uint8
}

// NewPixels allocates a buffer for a size x size input.
func NewPixels(size int, quantized bool) *Pixels {
	p := &Pixels{Size: size, Quantized: quantized}
	if quantized {
		p.Bytes = make([]uint8, size*size*3)
	} else {
		p.Float = make([]float32, size*size*3)
	}
	return p
}

// PrepareInput stretches img to dst.Size x dst.Size and writes it into dst.
//
// Float buffers hold (v - PixelMean) / PixelStd per channel; quantized buffers hold
// the raw 8-bit values. The layout is HWC in RGB order.
//
// Arguments:
//   - img: The frame, normally already cropped to the network input.
//   - dst: The destination buffer.
//
// Returns:
//   - error: An error if the buffer is too small for its size.
func PrepareInput(img image.Image, dst *Pixels) error {
	if img == nil {
		return errors.New("nil image")
	}
	n := dst.Size * dst.Size * 3
	if dst.Size <= 0 || (dst.Quantized && len(dst.Bytes) < n) || (!dst.Quantized && len(dst.Float) < n) {
		return errors.Errorf("pixel buffer too small for %dx%d input", dst.Size, dst.Size)
	}

	b := img.Bounds()
	if b.Dx() != dst.Size || b.Dy() != dst.Size {
		img = resize.Resize(uint(dst.Size), uint(dst.Size), img, resize.Bilinear)
		b = img.Bounds()
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if dst.Quantized {
				dst.Bytes[i] = uint8(r >> 8)
				dst.Bytes[i+1] = uint8(g >> 8)
				dst.Bytes[i+2] = uint8(bl >> 8)
			} else {
				dst.Float[i] = (float32(r>>8) - PixelMean) / PixelStd
				dst.Float[i+1] = (float32(g>>8) - PixelMean) / PixelStd
				dst.Float[i+2] = (float32(bl>>8) - PixelMean) / PixelStd
			}
			i += 3
		}
	}
	return nil
}
