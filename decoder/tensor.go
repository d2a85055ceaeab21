package decoder

import (
	"gorgonia.org/tensor"
)

// RawOutputTensor is the read-only [1, H, W, C] grid produced by one inference call.
type RawOutputTensor struct {
	dense *tensor.Dense
	data  []float32
}

// NewRawOutputTensor wraps data with the given shape without copying it.
//
// Arguments:
//   - data: The flattened row-major tensor values.
//   - shape: The logical shape, which must be [1, H, W, C].
//
// Returns:
//   - RawOutputTensor: The wrapped tensor.
//   - error: A configuration error if the shape is not rank 4 with batch 1, or does not
//     match len(data).
func NewRawOutputTensor(data []float32, shape ...int) (RawOutputTensor, error) {
	if err := checkShape(shape); err != nil {
		return RawOutputTensor{}, err
	}
	if n := tensor.Shape(shape).TotalSize(); n != len(data) {
		return RawOutputTensor{}, configErrorf("shape %v needs %d values, got %d", shape, n, len(data))
	}

	dense := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return RawOutputTensor{dense: dense, data: data}, nil
}

// FromDense wraps an existing float32 dense tensor. Views are materialized first.
func FromDense(d *tensor.Dense) (RawOutputTensor, error) {
	if d == nil {
		return RawOutputTensor{}, configErrorf("nil tensor")
	}
	if d.Dtype() != tensor.Float32 {
		return RawOutputTensor{}, configErrorf("tensor dtype %v, want float32", d.Dtype())
	}
	if d.IsView() {
		m, ok := d.Materialize().(*tensor.Dense)
		if !ok {
			return RawOutputTensor{}, configErrorf("cannot materialize tensor view")
		}
		d = m
	}
	if err := checkShape(d.Shape()); err != nil {
		return RawOutputTensor{}, err
	}
	data, ok := d.Data().([]float32)
	if !ok {
		return RawOutputTensor{}, configErrorf("tensor backing is %T, want []float32", d.Data())
	}

	return RawOutputTensor{dense: d, data: data}, nil
}

func checkShape(shape []int) error {
	if len(shape) != 4 {
		return configErrorf("tensor rank %d, want 4 ([1, H, W, C])", len(shape))
	}
	if shape[0] != 1 {
		return configErrorf("tensor batch %d, want 1", shape[0])
	}
	for i, d := range shape[1:] {
		if d <= 0 {
			return configErrorf("tensor dimension %d is %d", i+1, d)
		}
	}
	return nil
}

// Shape returns a copy of the tensor shape.
func (t RawOutputTensor) Shape() []int {
	if t.dense == nil {
		return nil
	}
	return t.dense.Shape().Clone()
}

// Dim returns the size of tensor axis i (1 or 2 for the grid, 3 for channels).
func (t RawOutputTensor) Dim(i int) int {
	if t.dense == nil {
		return 0
	}
	return t.dense.Shape()[i]
}

// Channels returns C.
func (t RawOutputTensor) Channels() int {
	return t.Dim(3)
}

// Dense exposes the underlying tensor. Callers must not mutate it.
func (t RawOutputTensor) Dense() *tensor.Dense {
	return t.dense
}

// At returns the value at grid position (a, b) on tensor axes 1 and 2, channel c.
func (t RawOutputTensor) At(a, b, c int) float32 {
	return t.data[t.offset(a, b)+c]
}

// cell returns the channel vector of grid position (a, b).
func (t RawOutputTensor) cell(a, b int) []float32 {
	off := t.offset(a, b)
	return t.data[off : off+t.Channels()]
}

func (t RawOutputTensor) offset(a, b int) int {
	s := t.dense.Shape()
	return (a*s[2] + b) * s[3]
}
