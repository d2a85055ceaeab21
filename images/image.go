// Package images - Frame decoding, encoding and cropping.
package images

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatUnknown is any other format.
	FormatUnknown ImageFormat = ""
)

// DetectFormat sniffs the format from the leading magic bytes.
func DetectFormat(data []byte) ImageFormat {
	switch {
	case len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff:
		return FormatJPEG
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// Decode decodes JPEG, PNG, WebP or any other format registered with the image
// package. EXIF orientation is applied to JPEGs.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The sniffed format.
//   - error: An error if the data cannot be decoded.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	if len(data) == 0 {
		return nil, FormatUnknown, errors.New("empty image")
	}

	format := DetectFormat(data)
	if format == FormatWebP {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, format, errors.Wrap(err, "failed to decode webp")
		}
		return img, format, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, errors.Wrap(err, "failed to decode image")
	}
	return img, format, nil
}

// EncodeJPEG encodes img at quality (1 to 100).
func EncodeJPEG(img image.Image, quality int) (Image, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Image{}, errors.Wrap(err, "failed to encode jpeg")
	}
	b := img.Bounds()
	return Image{Format: FormatJPEG, Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// CenterSquare returns the largest centered square inside bounds.
func CenterSquare(bounds image.Rectangle) image.Rectangle {
	side := bounds.Dx()
	if bounds.Dy() < side {
		side = bounds.Dy()
	}
	x := bounds.Min.X + (bounds.Dx()-side)/2
	y := bounds.Min.Y + (bounds.Dy()-side)/2
	return image.Rect(x, y, x+side, y+side)
}

// CropSquare cuts the centered square out of img and resizes it to size x size. The
// returned rectangle is the crop in img coordinates.
func CropSquare(img image.Image, size int) (image.Image, image.Rectangle) {
	crop := CenterSquare(img.Bounds())
	out := imaging.Crop(img, crop)
	if size > 0 && crop.Dx() != size {
		out = imaging.Resize(out, size, size, imaging.Linear)
	}
	return out, crop
}
