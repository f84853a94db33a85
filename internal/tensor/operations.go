package tensor

import (
	"fmt"
	"math"
)

func checkShapesMatch(t1, t2 *Tensor) error {
	if !SameShape(t1, t2) {
		return fmt.Errorf("tensor shapes must match: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

// Add returns t1 + t2 elementwise.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkShapesMatch(t1, t2); err != nil {
		return nil, err
	}
	out := t1.Clone()
	for i := range out.Data {
		out.Data[i] += t2.Data[i]
	}
	return out, nil
}

// Mul returns t1 * t2 elementwise.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkShapesMatch(t1, t2); err != nil {
		return nil, err
	}
	out := t1.Clone()
	for i := range out.Data {
		out.Data[i] *= t2.Data[i]
	}
	return out, nil
}

// Scale returns t * s elementwise.
func Scale(t *Tensor, s float32) *Tensor {
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] *= s
	}
	return out
}

// AddScaledInPlace accumulates dst += s * src. Shapes must match.
func AddScaledInPlace(dst, src *Tensor, s float32) error {
	if err := checkShapesMatch(dst, src); err != nil {
		return err
	}
	for i := range dst.Data {
		dst.Data[i] += s * src.Data[i]
	}
	return nil
}

// ReLU returns max(x, 0) elementwise.
func ReLU(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out
}

// ReLUInPlace clamps negative elements of t to zero.
func ReLUInPlace(t *Tensor) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
}

// Sigmoid returns 1/(1+exp(-x)) elementwise.
func Sigmoid(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}
	return out
}

// Mean returns the arithmetic mean of all elements.
func Mean(t *Tensor) float32 {
	if len(t.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return float32(sum / float64(len(t.Data)))
}

// Sum returns the sum of all elements.
func Sum(t *Tensor) float32 {
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return float32(sum)
}

// MinMax returns the smallest and largest element of t.
func MinMax(t *Tensor) (min, max float32) {
	min = t.Data[0]
	max = t.Data[0]
	for _, v := range t.Data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// ChannelMeans returns, for a [C,H,W] tensor, the per-channel mean over the
// spatial dimensions.
func ChannelMeans(t *Tensor) ([]float32, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("ChannelMeans expects rank-3 tensor, got shape %v", t.Shape)
	}
	c, h, w := t.Shape[0], t.Shape[1], t.Shape[2]
	plane := h * w
	means := make([]float32, c)
	for ch := 0; ch < c; ch++ {
		var sum float64
		base := ch * plane
		for i := 0; i < plane; i++ {
			sum += float64(t.Data[base+i])
		}
		means[ch] = float32(sum / float64(plane))
	}
	return means, nil
}

// Channel returns channel ch of a [C,H,W] tensor as a [H,W] view-copy.
func Channel(t *Tensor, ch int) (*Tensor, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("Channel expects rank-3 tensor, got shape %v", t.Shape)
	}
	if ch < 0 || ch >= t.Shape[0] {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", ch, t.Shape[0])
	}
	h, w := t.Shape[1], t.Shape[2]
	plane := h * w
	data := make([]float32, plane)
	copy(data, t.Data[ch*plane:(ch+1)*plane])
	return New([]int{h, w}, data)
}

// ScrubNonFinite replaces NaN and ±Inf elements with zero. Returns the number
// of elements replaced.
func ScrubNonFinite(t *Tensor) int {
	n := 0
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			t.Data[i] = 0
			n++
		}
	}
	return n
}
