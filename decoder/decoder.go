package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ConfidenceMode selects what value is reported as Detection.Confidence.
type ConfidenceMode int

const (
	// ConfidenceCalibrated reports the calibrated probability of the winning class.
	ConfidenceCalibrated ConfidenceMode = iota
	// ConfidencePlaceholder reports a constant 1.0, as older clients expect.
	ConfidencePlaceholder
)

// AxisOrder says which grid axis the second tensor dimension indexes.
type AxisOrder int

const (
	// AxisRowMajor reads tensor[0][row][col][c]: axis 1 is y, axis 2 is x.
	AxisRowMajor AxisOrder = iota
	// AxisColumnMajor reads tensor[0][col][row][c]: axis 1 is x, axis 2 is y.
	AxisColumnMajor
)

// String returns the configuration name of the axis order.
func (a AxisOrder) String() string {
	switch a {
	case AxisRowMajor:
		return "row-major"
	case AxisColumnMajor:
		return "column-major"
	default:
		return fmt.Sprintf("axis-order(%d)", int(a))
	}
}

// ParseAxisOrder parses an axis order name.
func ParseAxisOrder(s string) (AxisOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "row-major", "row", "hw":
		return AxisRowMajor, nil
	case "column-major", "column", "col", "wh":
		return AxisColumnMajor, nil
	default:
		return 0, configErrorf("unknown axis order %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a AxisOrder) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AxisOrder) UnmarshalText(text []byte) error {
	v, err := ParseAxisOrder(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Config holds the decoding parameters.
type Config struct {
	// InputSize is the side of the square network input in pixels.
	InputSize int `json:"input_size" yaml:"input_size"`
	// Threshold discards candidates whose best class probability is <= Threshold.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// Normalizer is the class probability denominator.
	Normalizer Normalizer `json:"normalizer" yaml:"normalizer"`
	// PlaceholderConfidence reports 1.0 instead of the calibrated probability.
	PlaceholderConfidence bool `json:"placeholder_confidence" yaml:"placeholder_confidence"`
	// AxisOrder maps tensor axes to grid rows and columns.
	AxisOrder AxisOrder `json:"axis_order" yaml:"axis_order"`
}

// DefaultConfig returns the reference decoding parameters.
//
// Returns:
//   - Config: 416px input, 0.0018 threshold, raw-sum normalizer, row-major grid.
func DefaultConfig() Config {
	return Config{
		InputSize:  416,
		Threshold:  0.0018,
		Normalizer: NormalizerRawSum,
		AxisOrder:  AxisRowMajor,
	}
}

// Confidence returns the configured confidence mode.
func (c Config) Confidence() ConfidenceMode {
	if c.PlaceholderConfidence {
		return ConfidencePlaceholder
	}
	return ConfidenceCalibrated
}

// Validate checks the scalar parameters.
func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return configErrorf("input size %d must be positive", c.InputSize)
	}
	if math.IsNaN(c.Threshold) || c.Threshold < 0 {
		return configErrorf("threshold %v must be >= 0", c.Threshold)
	}
	if c.Normalizer != NormalizerRawSum && c.Normalizer != NormalizerSoftmax {
		return configErrorf("unknown normalizer %d", int(c.Normalizer))
	}
	if c.AxisOrder != AxisRowMajor && c.AxisOrder != AxisColumnMajor {
		return configErrorf("unknown axis order %d", int(c.AxisOrder))
	}
	return nil
}

// CheckChannels verifies that channels == numAnchors * (5 + numClasses).
//
// Arguments:
//   - channels: The channel count C of the output tensor.
//   - numAnchors: The number of anchor priors.
//   - numClasses: The number of labels.
//
// Returns:
//   - error: A configuration error describing the mismatch, nil if consistent.
func CheckChannels(channels, numAnchors, numClasses int) error {
	if numAnchors <= 0 {
		return configErrorf("anchor count %d must be positive", numAnchors)
	}
	if channels%numAnchors != 0 {
		return configErrorf("channel count %d is not divisible by %d anchors", channels, numAnchors)
	}
	derived := channels/numAnchors - 5
	if derived <= 0 {
		return configErrorf("channel count %d leaves no class channels for %d anchors", channels, numAnchors)
	}
	if derived != numClasses {
		return configErrorf("tensor encodes %d classes, label table has %d", derived, numClasses)
	}
	return nil
}

// Decoder turns raw output tensors into detections. It holds only immutable
// configuration and is safe for concurrent use.
type Decoder struct {
	anchors AnchorTemplate
	labels  LabelTable
	cfg     Config
}

// NewDecoder validates the anchor template, label table and configuration.
//
// Arguments:
//   - anchors: The anchor priors.
//   - labels: The class names.
//   - cfg: The decoding parameters.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: A configuration error if any input is invalid.
func NewDecoder(anchors AnchorTemplate, labels LabelTable, cfg Config) (*Decoder, error) {
	if err := anchors.Validate(); err != nil {
		return nil, err
	}
	if labels.Len() == 0 {
		return nil, configErrorf("label table is empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Decoder{
		anchors: append(AnchorTemplate(nil), anchors...),
		labels:  labels,
		cfg:     cfg,
	}, nil
}

// Config returns the decoder configuration.
func (d *Decoder) Config() Config {
	return d.cfg
}

// Labels returns the label table.
func (d *Decoder) Labels() LabelTable {
	return d.labels
}

// Channels returns the channel count a tensor must have for this decoder.
func (d *Decoder) Channels() int {
	return d.anchors.Len() * (5 + d.labels.Len())
}

// Decode scans every grid cell and anchor of t and returns the candidates whose best
// class probability is above the threshold, in scan order. Overlapping boxes are not
// suppressed.
//
// Arguments:
//   - t: The raw output tensor.
//
// Returns:
//   - []Detection: The detections in input pixel coordinates, empty if none pass.
//   - error: A configuration error if the tensor does not match the decoder.
func (d *Decoder) Decode(t RawOutputTensor) ([]Detection, error) {
	if t.dense == nil {
		return nil, configErrorf("empty tensor")
	}
	numAnchors := d.anchors.Len()
	if err := CheckChannels(t.Channels(), numAnchors, d.labels.Len()); err != nil {
		return nil, err
	}

	numClasses := d.labels.Len()
	stride := 5 + numClasses
	gridH, gridW := t.Dim(1), t.Dim(2)
	if d.cfg.AxisOrder == AxisColumnMajor {
		gridH, gridW = gridW, gridH
	}
	size := float64(d.cfg.InputSize)
	probs := make([]float64, numClasses)
	detections := []Detection{}

	for a := 0; a < t.Dim(1); a++ {
		for b := 0; b < t.Dim(2); b++ {
			row, col := a, b
			if d.cfg.AxisOrder == AxisColumnMajor {
				row, col = b, a
			}
			cell := t.cell(a, b)

			for k, anchor := range d.anchors {
				ch := cell[k*stride : (k+1)*stride]

				cx := (Sigmoid(float64(ch[0])) + float64(col)) / float64(gridW)
				cy := (Sigmoid(float64(ch[1])) + float64(row)) / float64(gridH)
				w := math.Exp(float64(ch[2])) * anchor.Width / float64(gridW)
				h := math.Exp(float64(ch[3])) * anchor.Height / float64(gridH)
				x := cx - w/2
				y := cy - h/2
				obj := Sigmoid(float64(ch[4]))

				class, prob := Calibrate(probs, ch[5:], obj, d.cfg.Normalizer)
				if class < 0 || prob <= d.cfg.Threshold {
					continue
				}

				confidence := float32(prob)
				if d.cfg.PlaceholderConfidence {
					confidence = 1
				}

				detections = append(detections, Detection{
					ID:         strconv.Itoa(len(detections)),
					Label:      d.labels.Name(class),
					Class:      class,
					Confidence: confidence,
					Box: BoundingBox{
						Left:   float32(x * size),
						Top:    float32(y * size),
						Right:  float32((x + w) * size),
						Bottom: float32((y + h) * size),
					},
				})
			}
		}
	}

	return detections, nil
}

// Decode is the one-shot form of Decoder.Decode using the default normalizer,
// calibrated confidence and row-major grid.
//
// Arguments:
//   - t: The raw output tensor.
//   - anchors: The anchor priors.
//   - labels: The class names.
//   - inputSize: The network input side in pixels.
//   - threshold: The strict lower bound on the best class probability.
//
// Returns:
//   - []Detection: The detections in input pixel coordinates.
//   - error: A configuration error on any shape, anchor or label mismatch.
func Decode(
	t RawOutputTensor,
	anchors AnchorTemplate,
	labels LabelTable,
	inputSize int,
	threshold float64,
) ([]Detection, error) {
	cfg := DefaultConfig()
	cfg.InputSize = inputSize
	cfg.Threshold = threshold

	d, err := NewDecoder(anchors, labels, cfg)
	if err != nil {
		return nil, err
	}
	return d.Decode(t)
}
