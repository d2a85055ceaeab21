// Package overlay - Draws detections onto frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/palette"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options controls box and label rendering.
type Options struct {
	// Thickness is the box outline width in pixels.
	Thickness int
	// Color is used for labels with no entry in Colors.
	Color color.Color
	// Colors maps labels to outline colors.
	Colors map[string]color.Color
	// ShowConfidence appends the confidence to the label text.
	ShowConfidence bool
}

// DefaultOptions draws 2px outlines, colored like the hold they mark.
func DefaultOptions() Options {
	colors := make(map[string]color.Color)
	for _, e := range palette.Holds().Entries {
		if _, ok := colors[e.Name]; !ok {
			colors[e.Name] = e.Color
		}
	}
	return Options{
		Thickness:      2,
		Color:          color.RGBA{R: 0, G: 255, B: 0, A: 255},
		Colors:         colors,
		ShowConfidence: true,
	}
}

func (o Options) colorFor(label string) color.Color {
	if c, ok := o.Colors[label]; ok {
		return c
	}
	if o.Color == nil {
		return color.White
	}
	return o.Color
}

// Draw renders every detection onto dst. Boxes are clipped to dst.
func Draw(dst draw.Image, dets []decoder.Detection, opts Options) {
	if opts.Thickness <= 0 {
		opts.Thickness = 1
	}
	bounds := dst.Bounds()

	for _, d := range dets {
		r := d.Box.ToRect().Add(bounds.Min).Intersect(bounds)
		if r.Empty() {
			continue
		}
		c := opts.colorFor(d.Label)
		src := image.NewUniform(c)
		t := opts.Thickness

		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
			image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
			image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
		}

		drawLabel(dst, labelText(d, opts.ShowConfidence), r.Min, c)
	}
}

func labelText(d decoder.Detection, confidence bool) string {
	if confidence {
		return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
	}
	return d.Label
}

func drawLabel(dst draw.Image, text string, at image.Point, bg color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	top := at.Y - height
	if top < dst.Bounds().Min.Y {
		top = at.Y
	}
	box := image.Rect(at.X, top, at.X+width+2, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor(bg)),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(at.X + 1), Y: fixed.I(top + face.Metrics().Ascent.Ceil())},
	}
	d.DrawString(text)
}

// textColor picks black or white text for legibility on bg.
func textColor(bg color.Color) color.Color {
	r, g, b, _ := bg.RGBA()
	if 299*r+587*g+114*b > 1000*0x8000 {
		return color.Black
	}
	return color.White
}

// Annotate returns an RGBA copy of img with dets drawn on it.
func Annotate(img image.Image, dets []decoder.Detection, opts Options) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	Draw(out, dets, opts)
	return out
}

// FrameTransform maps boxes from the square network input back to the frame they were
// cropped or stretched from.
type FrameTransform struct {
	// Input is the network input side in pixels.
	Input int
	// Crop is the region of the frame that was fed to the network.
	Crop image.Rectangle
}

// Apply returns copies of dets with boxes in frame coordinates.
func (t FrameTransform) Apply(dets []decoder.Detection) []decoder.Detection {
	if t.Input <= 0 || t.Crop.Empty() {
		return dets
	}
	sx := float32(t.Crop.Dx()) / float32(t.Input)
	sy := float32(t.Crop.Dy()) / float32(t.Input)
	ox, oy := float32(t.Crop.Min.X), float32(t.Crop.Min.Y)

	out := make([]decoder.Detection, len(dets))
	for i, d := range dets {
		b := d.Box.Scale(sx, sy)
		b.Left += ox
		b.Right += ox
		b.Top += oy
		b.Bottom += oy
		d.Box = b
		out[i] = d
	}
	return out
}
