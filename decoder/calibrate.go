package decoder

import (
	"fmt"
	"math"
	"strings"
)

// Normalizer selects the denominator used when turning class logits into probabilities.
type Normalizer int

const (
	// NormalizerRawSum divides by the sum of the raw logits. This reproduces the scores of
	// the deployed reference model and is the default.
	NormalizerRawSum Normalizer = iota
	// NormalizerSoftmax divides by the sum of exp(logit - maxLogit), a standard softmax.
	NormalizerSoftmax
)

// String returns the configuration name of the normalizer.
func (n Normalizer) String() string {
	switch n {
	case NormalizerRawSum:
		return "raw-sum"
	case NormalizerSoftmax:
		return "softmax"
	default:
		return fmt.Sprintf("normalizer(%d)", int(n))
	}
}

// ParseNormalizer parses a normalizer name as written in configuration files.
func ParseNormalizer(s string) (Normalizer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw-sum", "rawsum", "legacy":
		return NormalizerRawSum, nil
	case "softmax":
		return NormalizerSoftmax, nil
	default:
		return 0, configErrorf("unknown normalizer %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (n Normalizer) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Normalizer) UnmarshalText(text []byte) error {
	v, err := ParseNormalizer(string(text))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// Sigmoid is the logistic function. The branch on the sign of x keeps exp from
// overflowing for inputs of large magnitude.
func Sigmoid(x float64) float64 {
	if x > 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Calibrate turns the raw class logits of one cell/anchor into objectness-scaled
// class probabilities.
//
// Every probability is written to dst, which must hold at least len(logits) values.
// A degenerate normalizer (zero, negative or not finite) yields all zeros. Each
// probability is capped at objectness, so a class can never score above the
// objectness of its anchor. The arg-max is taken before capping.
//
// Arguments:
//   - dst: Scratch space for the per-class probabilities.
//   - logits: The raw class channels.
//   - objectness: The sigmoid of the objectness channel.
//   - norm: The normalizer to use.
//
// Returns:
//   - int: The arg-max class, or -1 when no class has a positive probability.
//   - float64: The probability of the arg-max class, 0 when there is none.
func Calibrate(dst []float64, logits []float32, objectness float64, norm Normalizer) (int, float64) {
	dst = dst[:len(logits)]
	if len(logits) == 0 {
		return -1, 0
	}

	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if v := float64(l); v > maxLogit {
			maxLogit = v
		}
	}

	var sum float64
	switch norm {
	case NormalizerSoftmax:
		for _, l := range logits {
			sum += math.Exp(float64(l) - maxLogit)
		}
	default:
		for _, l := range logits {
			sum += float64(l)
		}
	}

	if !(sum > 0) || math.IsInf(sum, 0) || math.IsInf(maxLogit, 0) {
		for i := range dst {
			dst[i] = 0
		}
		return -1, 0
	}

	// The arg-max runs on the uncapped values so that classes clamped to the same
	// objectness still rank by logit.
	maxClass, maxRaw := -1, 0.0
	for i, l := range logits {
		p := math.Exp(float64(l)-maxLogit) * objectness / sum
		if p > maxRaw {
			maxClass, maxRaw = i, p
		}
		dst[i] = math.Min(p, objectness)
	}
	if maxClass < 0 {
		return -1, 0
	}

	return maxClass, math.Min(maxRaw, objectness)
}
