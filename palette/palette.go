// Package palette - Nearest climbing hold color lookup.
package palette

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nvr-ai/chroma/decoder"
)

// Metric selects the color distance.
type Metric int

const (
	// MetricRGB is the squared euclidean distance in sRGB.
	MetricRGB Metric = iota
	// MetricLab is the euclidean distance in CIE L*a*b*.
	MetricLab
)

// Entry is one reference color.
type Entry struct {
	Name  string
	Color colorful.Color
}

// Palette is an ordered list of reference colors. Several entries may share a name.
type Palette struct {
	Entries []Entry
	Metric  Metric
}

// Holds returns the reference hold colors sampled from gym photos. Blue and green each
// have a second, darker sample.
func Holds() Palette {
	return Palette{Entries: []Entry{
		{Name: "yellow", Color: colorful.MustParseHex("#ffe9a6")},
		{Name: "blue", Color: colorful.MustParseHex("#718bbe")},
		{Name: "red", Color: colorful.MustParseHex("#df9288")},
		{Name: "black", Color: colorful.MustParseHex("#4f4744")},
		{Name: "green", Color: colorful.MustParseHex("#9abf94")},
		{Name: "orange", Color: colorful.MustParseHex("#f2bfa4")},
		{Name: "white", Color: colorful.MustParseHex("#d8d1c9")},
		{Name: "blue", Color: colorful.MustParseHex("#395c44")},
		{Name: "green", Color: colorful.MustParseHex("#31364a")},
	}}
}

// HoldTagIDs maps hold color names to the class ids of the hold model.
var HoldTagIDs = map[string]int{
	"black":  0,
	"blue":   1,
	"green":  2,
	"orange": 3,
	"red":    4,
	"white":  5,
	"yellow": 6,
}

// Nearest returns the name of the closest entry, or "" for an empty palette or a fully
// transparent color.
func (p Palette) Nearest(c color.Color) string {
	e, _, ok := p.NearestEntry(c)
	if !ok {
		return ""
	}
	return e.Name
}

// NearestEntry returns the closest entry and its distance. The last entry wins ties.
//
// Arguments:
//   - c: The sampled color.
//
// Returns:
//   - Entry: The closest reference color.
//   - float64: The distance under the palette metric.
//   - bool: False if the palette is empty or c is fully transparent.
func (p Palette) NearestEntry(c color.Color) (Entry, float64, bool) {
	sample, ok := colorful.MakeColor(c)
	if !ok || len(p.Entries) == 0 {
		return Entry{}, 0, false
	}

	best, bestDist := 0, math.Inf(1)
	for i, e := range p.Entries {
		if d := p.distance(sample, e.Color); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return p.Entries[best], bestDist, true
}

func (p Palette) distance(a, b colorful.Color) float64 {
	if p.Metric == MetricLab {
		return a.DistanceLab(b)
	}
	dr, dg, db := a.R-b.R, a.G-b.G, a.B-b.B
	return dr*dr + dg*dg + db*db
}

// SampleCenter reads the pixel at the center of box, clamped into the image bounds.
func SampleCenter(img image.Image, box decoder.BoundingBox) color.Color {
	b := img.Bounds()
	cx, cy := box.Center()
	x := clampInt(int(cx)+b.Min.X, b.Min.X, b.Max.X-1)
	y := clampInt(int(cy)+b.Min.Y, b.Min.Y, b.Max.Y-1)
	return img.At(x, y)
}

// Classify samples the box center of img and returns the nearest color name.
func (p Palette) Classify(img image.Image, box decoder.BoundingBox) string {
	if img == nil || img.Bounds().Empty() {
		return ""
	}
	return p.Nearest(SampleCenter(img, box))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
