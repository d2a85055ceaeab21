package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/nvr-ai/chroma/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blackFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return img
}

func TestDraw(t *testing.T) {
	img := blackFrame(100, 100)
	opts := DefaultOptions()
	opts.ShowConfidence = false

	Draw(img, []decoder.Detection{{
		Label: "red",
		Box:   decoder.BoundingBox{Left: 10, Top: 10, Right: 50, Bottom: 50},
	}}, opts)

	red := color.RGBAModel.Convert(opts.Colors["red"])
	assert.Equal(t, red, img.At(49, 30), "right edge")
	assert.Equal(t, red, img.At(30, 49), "bottom edge")
	assert.Equal(t, color.RGBA{A: 255}, img.At(30, 30), "interior untouched")
	assert.Equal(t, color.RGBA{A: 255}, img.At(80, 80), "outside untouched")
}

func TestDrawClipsAndSkips(t *testing.T) {
	img := blackFrame(40, 40)
	assert.NotPanics(t, func() {
		Draw(img, []decoder.Detection{
			{Label: "unknown", Box: decoder.BoundingBox{Left: -20, Top: -20, Right: 60, Bottom: 60}},
			{Label: "gone", Box: decoder.BoundingBox{Left: 100, Top: 100, Right: 120, Bottom: 120}},
		}, Options{})
	})
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, img.At(39, 20), "fallback color on clipped edge")
}

func TestAnnotate(t *testing.T) {
	src := blackFrame(64, 48)
	out := Annotate(src, []decoder.Detection{{
		Label:      "yellow",
		Confidence: 0.9,
		Box:        decoder.BoundingBox{Left: 4, Top: 20, Right: 40, Bottom: 40},
	}}, DefaultOptions())

	require.Equal(t, image.Rect(0, 0, 64, 48), out.Bounds())
	assert.NotEqual(t, src.Pix, out.Pix)
	assert.Equal(t, color.RGBA{A: 255}, src.At(39, 30), "source is not modified")
}

func TestTextColor(t *testing.T) {
	assert.Equal(t, color.Black, textColor(color.White))
	assert.Equal(t, color.White, textColor(color.Black))
}

func TestFrameTransform(t *testing.T) {
	tr := FrameTransform{Input: 416, Crop: image.Rect(160, 0, 1120, 960)}
	dets := []decoder.Detection{{Label: "x", Box: decoder.BoundingBox{Left: 0, Top: 0, Right: 416, Bottom: 208}}}

	out := tr.Apply(dets)
	require.Len(t, out, 1)
	assert.InDelta(t, 160, out[0].Box.Left, 1e-3)
	assert.InDelta(t, 1120, out[0].Box.Right, 1e-3)
	assert.InDelta(t, 480, out[0].Box.Bottom, 1e-3)
	assert.Equal(t, float32(416), dets[0].Box.Right, "input is not modified")

	assert.Equal(t, dets, FrameTransform{}.Apply(dets))
}
