// Package tensor implements the dense float32 tensors and numeric kernels
// used by the inference engine and the CAM algorithms. Everything runs on the
// CPU; layouts are row-major with channel-first ([C,H,W]) image tensors.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape   []int
	Strides []int
	Data    []float32
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, len(t.Data))
}

// New creates a tensor of the given shape backed by data. The data length
// must match the shape's element count exactly.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := numElements(shape)
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Strides: calculateStrides(shape), Data: data}, nil
}

// Zeros creates a zero-filled tensor of the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return &Tensor{
		Shape:   append([]int(nil), shape...),
		Strides: calculateStrides(shape),
		Data:    make([]float32, numElements(shape)),
	}, nil
}

// Full creates a tensor of the given shape with every element set to v.
func Full(shape []int, v float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = v
	}
	return t, nil
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:   append([]int(nil), t.Shape...),
		Strides: append([]int(nil), t.Strides...),
		Data:    data,
	}
}

// NumElems returns the number of elements in t.
func (t *Tensor) NumElems() int { return len(t.Data) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// At3 reads element (c,h,w) of a rank-3 tensor. Callers are expected to have
// validated the rank; indices are not bounds-checked beyond the slice itself.
func (t *Tensor) At3(c, h, w int) float32 {
	return t.Data[c*t.Strides[0]+h*t.Strides[1]+w*t.Strides[2]]
}

// Set3 writes element (c,h,w) of a rank-3 tensor.
func (t *Tensor) Set3(c, h, w int, v float32) {
	t.Data[c*t.Strides[0]+h*t.Strides[1]+w*t.Strides[2]] = v
}

// At2 reads element (h,w) of a rank-2 tensor.
func (t *Tensor) At2(h, w int) float32 {
	return t.Data[h*t.Strides[0]+w*t.Strides[1]]
}

// Set2 writes element (h,w) of a rank-2 tensor.
func (t *Tensor) Set2(h, w int, v float32) {
	t.Data[h*t.Strides[0]+w*t.Strides[1]] = v
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// IsFinite reports whether every element of t is a finite number.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func numElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("empty shape")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
