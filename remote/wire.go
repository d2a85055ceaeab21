// Package remote - Client for fetching detections from a detection service.
package remote

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/nvr-ai/chroma/decoder"
)

// Rect is a box in left/top/width/height form, in upload pixel coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TagID is a class id. It is written as a string and read from either a string or a
// number.
type TagID string

// UnmarshalJSON accepts "3" and 3.
func (t *TagID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TagID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = TagID(n.String())
	return nil
}

// Prediction is one element of the detection service response array.
type Prediction struct {
	Probability float64 `json:"probability"`
	TagID       TagID   `json:"tagId"`
	TagName     string  `json:"tagName"`
	BoundingBox Rect    `json:"boundingBox"`
	// Color is the nearest hold color at the box center, when the service samples it.
	Color string `json:"color,omitempty"`
}

// Detection converts the prediction into a detection with emission id id.
func (p Prediction) Detection(id int) decoder.Detection {
	class, err := strconv.Atoi(string(p.TagID))
	if err != nil {
		class = -1
	}
	b := p.BoundingBox
	return decoder.Detection{
		ID:         strconv.Itoa(id),
		Label:      p.TagName,
		Class:      class,
		Confidence: float32(p.Probability),
		Box: decoder.BoundingBox{
			Left:   float32(b.Left),
			Top:    float32(b.Top),
			Right:  float32(b.Left + b.Width),
			Bottom: float32(b.Top + b.Height),
		},
	}
}

// FromDetection converts a detection into its wire form.
func FromDetection(d decoder.Detection) Prediction {
	return Prediction{
		Probability: float64(d.Confidence),
		TagID:       TagID(strconv.Itoa(d.Class)),
		TagName:     d.Label,
		BoundingBox: Rect{
			Left:   float64(d.Box.Left),
			Top:    float64(d.Box.Top),
			Width:  float64(d.Box.Width()),
			Height: float64(d.Box.Height()),
		},
	}
}

// Detections converts a response array in order.
func Detections(preds []Prediction) []decoder.Detection {
	out := make([]decoder.Detection, 0, len(preds))
	for i, p := range preds {
		out = append(out, p.Detection(i))
	}
	return out
}
