package decoder

import "math"

// Anchor is a prior box shape expressed in grid cell units.
type Anchor struct {
	Width  float64 `json:"width"  yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// AnchorTemplate is the ordered list of anchor priors the network was trained with.
type AnchorTemplate []Anchor

// DefaultAnchors returns the five priors of the 13x13 reference model.
//
// Returns:
//   - AnchorTemplate: A fresh copy of the reference priors.
func DefaultAnchors() AnchorTemplate {
	return AnchorTemplate{
		{Width: 0.573, Height: 0.677},
		{Width: 1.87, Height: 2.06},
		{Width: 3.34, Height: 5.47},
		{Width: 7.88, Height: 3.53},
		{Width: 9.77, Height: 9.17},
	}
}

// AnchorsFromPairs builds a template from a flat list of width/height pairs.
//
// Arguments:
//   - pairs: Alternating width and height priors, e.g. [w0, h0, w1, h1, ...].
//
// Returns:
//   - AnchorTemplate: The parsed template.
//   - error: A configuration error if the list has odd length or a prior is not positive.
func AnchorsFromPairs(pairs []float64) (AnchorTemplate, error) {
	if len(pairs)%2 != 0 {
		return nil, configErrorf("anchor list has odd length %d", len(pairs))
	}
	anchors := make(AnchorTemplate, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		anchors = append(anchors, Anchor{Width: pairs[i], Height: pairs[i+1]})
	}
	if err := anchors.Validate(); err != nil {
		return nil, err
	}
	return anchors, nil
}

// Len returns the number of anchors.
func (a AnchorTemplate) Len() int {
	return len(a)
}

// Validate checks that the template is non-empty and every prior is a positive finite number.
func (a AnchorTemplate) Validate() error {
	if len(a) == 0 {
		return configErrorf("anchor template is empty")
	}
	for i, anchor := range a {
		if !positiveFinite(anchor.Width) || !positiveFinite(anchor.Height) {
			return configErrorf("anchor %d has invalid prior (%v, %v)", i, anchor.Width, anchor.Height)
		}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
