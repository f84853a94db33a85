package tensor

import (
	"fmt"
	"math"
)

// ResizeBilinear resamples a [H,W] map to [outH,outW] using bilinear
// interpolation with half-pixel centers (the convention used by the
// training-side tooling, so saliency maps land on the same grid).
func ResizeBilinear(src *Tensor, outH, outW int) (*Tensor, error) {
	if src.Rank() != 2 {
		return nil, fmt.Errorf("ResizeBilinear expects rank-2 tensor, got shape %v", src.Shape)
	}
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("ResizeBilinear target size must be positive, got %dx%d", outW, outH)
	}
	h, w := src.Shape[0], src.Shape[1]
	out, err := Zeros([]int{outH, outW})
	if err != nil {
		return nil, err
	}
	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)
	for oy := 0; oy < outH; oy++ {
		sy := (float64(oy)+0.5)*scaleY - 0.5
		y0 := int(math.Floor(sy))
		fy := sy - float64(y0)
		y1 := y0 + 1
		if y0 < 0 {
			y0, y1, fy = 0, 0, 0
		}
		if y1 >= h {
			y1 = h - 1
			if y0 > y1 {
				y0 = y1
			}
		}
		for ox := 0; ox < outW; ox++ {
			sx := (float64(ox)+0.5)*scaleX - 0.5
			x0 := int(math.Floor(sx))
			fx := sx - float64(x0)
			x1 := x0 + 1
			if x0 < 0 {
				x0, x1, fx = 0, 0, 0
			}
			if x1 >= w {
				x1 = w - 1
				if x0 > x1 {
					x0 = x1
				}
			}
			v00 := float64(src.At2(y0, x0))
			v01 := float64(src.At2(y0, x1))
			v10 := float64(src.At2(y1, x0))
			v11 := float64(src.At2(y1, x1))
			top := v00 + (v01-v00)*fx
			bot := v10 + (v11-v10)*fx
			out.Set2(oy, ox, float32(top+(bot-top)*fy))
		}
	}
	return out, nil
}

// SoftmaxFlat normalizes all elements of t with a softmax over the flattened
// tensor, so the result sums to one. Numerically stabilized by subtracting
// the maximum before exponentiation.
func SoftmaxFlat(t *Tensor) *Tensor {
	out := t.Clone()
	_, max := MinMax(t)
	var sum float64
	for i, v := range t.Data {
		e := math.Exp(float64(v - max))
		out.Data[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		uniform := float32(1.0 / float64(len(out.Data)))
		for i := range out.Data {
			out.Data[i] = uniform
		}
		return out
	}
	inv := 1.0 / sum
	for i := range out.Data {
		out.Data[i] = float32(float64(out.Data[i]) * inv)
	}
	return out
}

// NormalizeMinMax rescales t into [0,1] with an epsilon-guarded denominator.
// A flat tensor (max == min) normalizes to all zeros rather than dividing by
// a vanishing range.
func NormalizeMinMax(t *Tensor, eps float32) *Tensor {
	out := t.Clone()
	min, max := MinMax(t)
	if max <= min {
		for i := range out.Data {
			out.Data[i] = 0
		}
		return out
	}
	inv := 1.0 / (float64(max) - float64(min) + float64(eps))
	for i, v := range out.Data {
		out.Data[i] = float32((float64(v) - float64(min)) * inv)
	}
	return out
}

// Clamp01 clips every element into [0,1].
func Clamp01(t *Tensor) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		} else if v > 1 {
			t.Data[i] = 1
		}
	}
}
