package decoder

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// BoundingBox is an axis aligned box in pixel coordinates.
type BoundingBox struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Width returns the box width.
func (b BoundingBox) Width() float32 {
	return b.Right - b.Left
}

// Height returns the box height.
func (b BoundingBox) Height() float32 {
	return b.Bottom - b.Top
}

// Center returns the box center.
func (b BoundingBox) Center() (float32, float32) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2
}

// Area returns the box area, 0 for inverted boxes.
func (b BoundingBox) Area() float32 {
	return math32.Max(b.Width(), 0) * math32.Max(b.Height(), 0)
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
func (b BoundingBox) Scale(sx, sy float32) BoundingBox {
	return BoundingBox{
		Left:   b.Left * sx,
		Top:    b.Top * sy,
		Right:  b.Right * sx,
		Bottom: b.Bottom * sy,
	}
}

// Clip clamps the box into [0, width] x [0, height].
func (b BoundingBox) Clip(width, height float32) BoundingBox {
	return BoundingBox{
		Left:   clamp(b.Left, 0, width),
		Top:    clamp(b.Top, 0, height),
		Right:  clamp(b.Right, 0, width),
		Bottom: clamp(b.Bottom, 0, height),
	}
}

// IOU returns the intersection over union of two boxes.
func (b BoundingBox) IOU(other BoundingBox) float32 {
	inter := BoundingBox{
		Left:   math32.Max(b.Left, other.Left),
		Top:    math32.Max(b.Top, other.Top),
		Right:  math32.Min(b.Right, other.Right),
		Bottom: math32.Min(b.Bottom, other.Bottom),
	}.Area()
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ToRect rounds outward to whole pixels, so the rectangle always covers the box.
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(
		int(math32.Floor(b.Left)),
		int(math32.Floor(b.Top)),
		int(math32.Ceil(b.Right)),
		int(math32.Ceil(b.Bottom)),
	).Canon()
}

func clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}

// Detection is one labeled, scored box emitted by a decode call.
//
// ID is the emission order inside a single call and is not stable across frames.
type Detection struct {
	ID         string      `json:"id"`
	Label      string      `json:"label"`
	Class      int         `json:"class"`
	Confidence float32     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

func (d Detection) String() string {
	return fmt.Sprintf("Object %s [%s] (confidence %f): (%f, %f), (%f, %f)",
		d.Label, d.ID, d.Confidence, d.Box.Left, d.Box.Top, d.Box.Right, d.Box.Bottom)
}
