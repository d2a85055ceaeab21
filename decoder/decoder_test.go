package decoder

import (
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gridSize = 13
	channels = 60
)

func holdLabels() LabelTable {
	return NewLabelTable("black", "blue", "green", "orange", "red", "white", "yellow")
}

// grid is a writable [1, 13, 13, 60] buffer.
type grid []float32

func newGrid() grid {
	return make(grid, gridSize*gridSize*channels)
}

func (g grid) set(a, b, c int, v float32) {
	g[(a*gridSize+b)*channels+c] = v
}

func (g grid) tensor(t testing.TB) RawOutputTensor {
	t.Helper()
	out, err := NewRawOutputTensor(g, 1, gridSize, gridSize, channels)
	require.NoError(t, err)
	return out
}

func randomGrid(seed int64) grid {
	rng := rand.New(rand.NewSource(seed))
	g := newGrid()
	for i := range g {
		g[i] = float32(rng.NormFloat64() * 2)
	}
	return g
}

// singleObjectGrid places one object centered in the frame at cell (6, 6), anchor 0,
// with a 0.1 x 0.1 box and class 2 dominant.
func singleObjectGrid() grid {
	anchor := DefaultAnchors()[0]
	g := newGrid()
	g.set(6, 6, 0, 0)
	g.set(6, 6, 1, 0)
	g.set(6, 6, 2, float32(math.Log(1.3/anchor.Width)))
	g.set(6, 6, 3, float32(math.Log(1.3/anchor.Height)))
	g.set(6, 6, 4, 20)
	g.set(6, 6, 5+2, 8)
	return g
}

type boxKey struct {
	label string
	box   BoundingBox
}

func keys(dets []Detection) map[boxKey]bool {
	out := make(map[boxKey]bool, len(dets))
	for _, d := range dets {
		out[boxKey{label: d.Label, box: d.Box}] = true
	}
	return out
}

func TestDecodeSingleObject(t *testing.T) {
	dets, err := Decode(singleObjectGrid().tensor(t), DefaultAnchors(), holdLabels(), 416, 0.0018)
	require.NoError(t, err)
	require.Len(t, dets, 1, "exactly one cell/anchor carries an object")

	d := dets[0]
	assert.Equal(t, "0", d.ID)
	assert.Equal(t, "green", d.Label)
	assert.Equal(t, 2, d.Class)
	assert.InDelta(t, 187.2, d.Box.Left, 0.05)
	assert.InDelta(t, 187.2, d.Box.Top, 0.05)
	assert.InDelta(t, 228.8, d.Box.Right, 0.05)
	assert.InDelta(t, 228.8, d.Box.Bottom, 0.05)
	assert.InDelta(t, 41.6, d.Box.Width(), 0.05)
	assert.InDelta(t, Sigmoid(20)/8, d.Confidence, 1e-6)
}

func TestDecodeAllZeroTensor(t *testing.T) {
	tt := newGrid().tensor(t)
	for _, threshold := range []float64{1e-12, 0.0018, 0.19, 0.5} {
		dets, err := Decode(tt, DefaultAnchors(), holdLabels(), 416, threshold)
		require.NoError(t, err)
		assert.Empty(t, dets, "threshold=%v", threshold)
	}
}

func TestDecodeThresholdOne(t *testing.T) {
	inputs := map[string]grid{
		"single object": singleObjectGrid(),
		"random":        randomGrid(3),
	}

	saturated := newGrid()
	for a := 0; a < gridSize; a++ {
		for b := 0; b < gridSize; b++ {
			for k := 0; k < 5; k++ {
				saturated.set(a, b, k*12+4, 60)
				saturated.set(a, b, k*12+5, 0.5)
			}
		}
	}
	inputs["saturated"] = saturated

	for name, g := range inputs {
		t.Run(name, func(t *testing.T) {
			for _, norm := range []Normalizer{NormalizerRawSum, NormalizerSoftmax} {
				cfg := DefaultConfig()
				cfg.Threshold = 1.0
				cfg.Normalizer = norm
				d, err := NewDecoder(DefaultAnchors(), holdLabels(), cfg)
				require.NoError(t, err)

				dets, err := d.Decode(g.tensor(t))
				require.NoError(t, err)
				assert.Empty(t, dets, "normalizer=%s", norm)
			}
		})
	}
}

func TestDecodeMonotonicThreshold(t *testing.T) {
	thresholds := []float64{0, 0.0018, 0.01, 0.05, 0.19, 0.5, 0.9}

	for _, seed := range []int64{1, 2, 42} {
		tt := randomGrid(seed).tensor(t)
		for _, norm := range []Normalizer{NormalizerRawSum, NormalizerSoftmax} {
			var prev map[boxKey]bool
			for i, threshold := range thresholds {
				cfg := DefaultConfig()
				cfg.Threshold = threshold
				cfg.Normalizer = norm
				d, err := NewDecoder(DefaultAnchors(), holdLabels(), cfg)
				require.NoError(t, err)

				dets, err := d.Decode(tt)
				require.NoError(t, err)
				cur := keys(dets)
				if i > 0 {
					assert.LessOrEqual(t, len(cur), len(prev))
					for k := range cur {
						assert.True(t, prev[k], "seed=%d threshold=%v: %v missing at lower threshold", seed, threshold, k)
					}
				}
				prev = cur
			}
		}
	}
}

func TestDecodeDeterministic(t *testing.T) {
	tt := randomGrid(9).tensor(t)
	d, err := NewDecoder(DefaultAnchors(), holdLabels(), DefaultConfig())
	require.NoError(t, err)

	first, err := d.Decode(tt)
	require.NoError(t, err)
	second, err := d.Decode(tt)
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
	for i, det := range first {
		assert.Equal(t, strconv.Itoa(i), det.ID, "ids follow emission order")
	}
}

func TestDecodeConfigurationErrors(t *testing.T) {
	t.Run("channels not divisible by anchors", func(t *testing.T) {
		tt, err := NewRawOutputTensor(make([]float32, 13*13*62), 1, 13, 13, 62)
		require.NoError(t, err)

		dets, err := Decode(tt, DefaultAnchors(), holdLabels(), 416, 0.0018)
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Nil(t, dets)
	})

	t.Run("label count mismatch", func(t *testing.T) {
		labels := NewLabelTable("black", "blue", "green", "orange", "red", "white")
		_, err := Decode(newGrid().tensor(t), DefaultAnchors(), labels, 416, 0.0018)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("no class channels", func(t *testing.T) {
		assert.ErrorIs(t, CheckChannels(25, 5, 0), ErrConfiguration)
	})

	t.Run("empty anchors", func(t *testing.T) {
		_, err := NewDecoder(nil, holdLabels(), DefaultConfig())
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("negative threshold", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Threshold = -0.1
		_, err := NewDecoder(DefaultAnchors(), holdLabels(), cfg)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("zero input size", func(t *testing.T) {
		_, err := Decode(newGrid().tensor(t), DefaultAnchors(), holdLabels(), 0, 0.0018)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("empty tensor", func(t *testing.T) {
		d, err := NewDecoder(DefaultAnchors(), holdLabels(), DefaultConfig())
		require.NoError(t, err)
		_, err = d.Decode(RawOutputTensor{})
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestDecodeChannelStrideFollowsClassCount(t *testing.T) {
	// 2 anchors, 3 classes: 16 channels per cell, stride 8.
	anchors := AnchorTemplate{{Width: 1, Height: 1}, {Width: 2, Height: 2}}
	labels := NewLabelTable("a", "b", "c")
	data := make([]float32, 4*4*16)
	base := (1*4+2)*16 + 8
	data[base+4] = 10
	data[base+5+1] = 5

	tt, err := NewRawOutputTensor(data, 1, 4, 4, 16)
	require.NoError(t, err)

	dets, err := Decode(tt, anchors, labels, 100, 0.0018)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "b", dets[0].Label)

	cx, cy := dets[0].Box.Center()
	assert.InDelta(t, 2.5/4*100, cx, 1e-3)
	assert.InDelta(t, 1.5/4*100, cy, 1e-3)
	assert.InDelta(t, 2.0/4*100, dets[0].Box.Width(), 1e-3)
}

func TestDecodeAxisOrder(t *testing.T) {
	g := newGrid()
	g.set(2, 9, 4, 20)
	g.set(2, 9, 5, 3)
	tt := g.tensor(t)

	rowMajor, err := NewDecoder(DefaultAnchors(), holdLabels(), DefaultConfig())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.AxisOrder = AxisColumnMajor
	colMajor, err := NewDecoder(DefaultAnchors(), holdLabels(), cfg)
	require.NoError(t, err)

	byRow, err := rowMajor.Decode(tt)
	require.NoError(t, err)
	byCol, err := colMajor.Decode(tt)
	require.NoError(t, err)
	require.Len(t, byRow, 1)
	require.Len(t, byCol, 1)

	x, y := byRow[0].Box.Center()
	assert.InDelta(t, 9.5/13*416, x, 1e-3)
	assert.InDelta(t, 2.5/13*416, y, 1e-3)

	x, y = byCol[0].Box.Center()
	assert.InDelta(t, 2.5/13*416, x, 1e-3)
	assert.InDelta(t, 9.5/13*416, y, 1e-3)
}

func TestDecodePlaceholderConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlaceholderConfidence = true
	d, err := NewDecoder(DefaultAnchors(), holdLabels(), cfg)
	require.NoError(t, err)

	dets, err := d.Decode(singleObjectGrid().tensor(t))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(1), dets[0].Confidence)
	assert.Equal(t, ConfidencePlaceholder, cfg.Confidence())
}

func TestDecodeSoftmaxZeroTensor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalizer = NormalizerSoftmax
	d, err := NewDecoder(DefaultAnchors(), holdLabels(), cfg)
	require.NoError(t, err)

	dets, err := d.Decode(newGrid().tensor(t))
	require.NoError(t, err)
	// Uniform logits give 0.5/7 per class, above the default threshold everywhere.
	assert.Len(t, dets, gridSize*gridSize*5)
	assert.InDelta(t, 0.5/7, dets[0].Confidence, 1e-6)
}
