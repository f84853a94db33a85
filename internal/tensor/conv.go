package tensor

import (
	"fmt"
)

// Conv2D computes a 2-D cross-correlation of x [Cin,H,W] with weight
// [Cout,Cin,KH,KW] and optional bias [Cout], producing [Cout,Hout,Wout].
// Padding is symmetric zero padding.
func Conv2D(x, weight, bias *Tensor, stride, pad int) (*Tensor, error) {
	if x.Rank() != 3 {
		return nil, fmt.Errorf("Conv2D input must be rank-3 [C,H,W], got %v", x.Shape)
	}
	if weight.Rank() != 4 {
		return nil, fmt.Errorf("Conv2D weight must be rank-4 [Cout,Cin,KH,KW], got %v", weight.Shape)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("Conv2D stride must be positive, got %d", stride)
	}
	cin, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	cout, wcin, kh, kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]
	if cin != wcin {
		return nil, fmt.Errorf("Conv2D channel mismatch: input has %d, weight expects %d", cin, wcin)
	}
	if bias != nil && bias.NumElems() != cout {
		return nil, fmt.Errorf("Conv2D bias length %d does not match output channels %d", bias.NumElems(), cout)
	}
	hout := (h+2*pad-kh)/stride + 1
	wout := (w+2*pad-kw)/stride + 1
	if hout <= 0 || wout <= 0 {
		return nil, fmt.Errorf("Conv2D output would be empty for input %v kernel %dx%d stride %d pad %d", x.Shape, kh, kw, stride, pad)
	}
	out, err := Zeros([]int{cout, hout, wout})
	if err != nil {
		return nil, err
	}
	for co := 0; co < cout; co++ {
		var b float32
		if bias != nil {
			b = bias.Data[co]
		}
		for oh := 0; oh < hout; oh++ {
			for ow := 0; ow < wout; ow++ {
				var acc float32
				for ci := 0; ci < cin; ci++ {
					for fy := 0; fy < kh; fy++ {
						iy := oh*stride - pad + fy
						if iy < 0 || iy >= h {
							continue
						}
						for fx := 0; fx < kw; fx++ {
							ix := ow*stride - pad + fx
							if ix < 0 || ix >= w {
								continue
							}
							acc += x.At3(ci, iy, ix) * weight.Data[((co*cin+ci)*kh+fy)*kw+fx]
						}
					}
				}
				out.Set3(co, oh, ow, acc+b)
			}
		}
	}
	return out, nil
}

// Conv2DBackwardInput computes the gradient of a Conv2D with respect to its
// input: given gradOut [Cout,Hout,Wout] and the forward weight, it scatters
// contributions back to an [Cin,H,W] gradient. Weights are frozen here, so no
// weight gradient is produced.
func Conv2DBackwardInput(gradOut, weight *Tensor, inputShape []int, stride, pad int) (*Tensor, error) {
	if gradOut.Rank() != 3 || weight.Rank() != 4 {
		return nil, fmt.Errorf("Conv2DBackwardInput shapes: gradOut %v weight %v", gradOut.Shape, weight.Shape)
	}
	if len(inputShape) != 3 {
		return nil, fmt.Errorf("Conv2DBackwardInput input shape must be rank-3, got %v", inputShape)
	}
	cout, hout, wout := gradOut.Shape[0], gradOut.Shape[1], gradOut.Shape[2]
	wcout, cin, kh, kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]
	if cout != wcout {
		return nil, fmt.Errorf("Conv2DBackwardInput channel mismatch: gradOut has %d, weight has %d", cout, wcout)
	}
	h, w := inputShape[1], inputShape[2]
	gradIn, err := Zeros(inputShape)
	if err != nil {
		return nil, err
	}
	for co := 0; co < cout; co++ {
		for oh := 0; oh < hout; oh++ {
			for ow := 0; ow < wout; ow++ {
				g := gradOut.At3(co, oh, ow)
				if g == 0 {
					continue
				}
				for ci := 0; ci < cin; ci++ {
					for fy := 0; fy < kh; fy++ {
						iy := oh*stride - pad + fy
						if iy < 0 || iy >= h {
							continue
						}
						for fx := 0; fx < kw; fx++ {
							ix := ow*stride - pad + fx
							if ix < 0 || ix >= w {
								continue
							}
							gradIn.Data[(ci*h+iy)*w+ix] += g * weight.Data[((co*cin+ci)*kh+fy)*kw+fx]
						}
					}
				}
			}
		}
	}
	return gradIn, nil
}

// MaxPool2D applies kernel×kernel max pooling with the given stride to a
// [C,H,W] tensor. It also returns the flat input index of each maximum so the
// backward pass can route gradients.
func MaxPool2D(x *Tensor, kernel, stride int) (*Tensor, []int, error) {
	if x.Rank() != 3 {
		return nil, nil, fmt.Errorf("MaxPool2D input must be rank-3 [C,H,W], got %v", x.Shape)
	}
	if kernel <= 0 || stride <= 0 {
		return nil, nil, fmt.Errorf("MaxPool2D kernel and stride must be positive, got %d/%d", kernel, stride)
	}
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	hout := (h-kernel)/stride + 1
	wout := (w-kernel)/stride + 1
	if hout <= 0 || wout <= 0 {
		return nil, nil, fmt.Errorf("MaxPool2D output would be empty for input %v kernel %d stride %d", x.Shape, kernel, stride)
	}
	out, err := Zeros([]int{c, hout, wout})
	if err != nil {
		return nil, nil, err
	}
	argmax := make([]int, c*hout*wout)
	for ch := 0; ch < c; ch++ {
		for oh := 0; oh < hout; oh++ {
			for ow := 0; ow < wout; ow++ {
				best := float32(0)
				bestIdx := -1
				for fy := 0; fy < kernel; fy++ {
					iy := oh*stride + fy
					for fx := 0; fx < kernel; fx++ {
						ix := ow*stride + fx
						idx := (ch*h+iy)*w + ix
						v := x.Data[idx]
						if bestIdx < 0 || v > best {
							best = v
							bestIdx = idx
						}
					}
				}
				oidx := (ch*hout+oh)*wout + ow
				out.Data[oidx] = best
				argmax[oidx] = bestIdx
			}
		}
	}
	return out, argmax, nil
}

// MaxPool2DBackward routes gradOut entries to the input positions recorded in
// argmax by the forward pass.
func MaxPool2DBackward(gradOut *Tensor, argmax []int, inputShape []int) (*Tensor, error) {
	if gradOut.NumElems() != len(argmax) {
		return nil, fmt.Errorf("MaxPool2DBackward argmax length %d does not match gradOut %v", len(argmax), gradOut.Shape)
	}
	gradIn, err := Zeros(inputShape)
	if err != nil {
		return nil, err
	}
	for i, g := range gradOut.Data {
		gradIn.Data[argmax[i]] += g
	}
	return gradIn, nil
}

// MatVec computes weight [Out,In] · x [In] + bias [Out].
func MatVec(weight, x, bias *Tensor) (*Tensor, error) {
	if weight.Rank() != 2 || x.Rank() != 1 {
		return nil, fmt.Errorf("MatVec shapes: weight %v x %v", weight.Shape, x.Shape)
	}
	rows, cols := weight.Shape[0], weight.Shape[1]
	if cols != x.NumElems() {
		return nil, fmt.Errorf("MatVec dimension mismatch: weight columns %d vs input %d", cols, x.NumElems())
	}
	if bias != nil && bias.NumElems() != rows {
		return nil, fmt.Errorf("MatVec bias length %d does not match rows %d", bias.NumElems(), rows)
	}
	out, err := Zeros([]int{rows})
	if err != nil {
		return nil, err
	}
	for r := 0; r < rows; r++ {
		var acc float64
		base := r * cols
		for c := 0; c < cols; c++ {
			acc += float64(weight.Data[base+c]) * float64(x.Data[c])
		}
		if bias != nil {
			acc += float64(bias.Data[r])
		}
		out.Data[r] = float32(acc)
	}
	return out, nil
}

// MatVecT computes weightᵀ · g, i.e. the gradient of MatVec with respect to
// its input vector.
func MatVecT(weight, g *Tensor) (*Tensor, error) {
	if weight.Rank() != 2 || g.Rank() != 1 {
		return nil, fmt.Errorf("MatVecT shapes: weight %v g %v", weight.Shape, g.Shape)
	}
	rows, cols := weight.Shape[0], weight.Shape[1]
	if rows != g.NumElems() {
		return nil, fmt.Errorf("MatVecT dimension mismatch: weight rows %d vs gradient %d", rows, g.NumElems())
	}
	out, err := Zeros([]int{cols})
	if err != nil {
		return nil, err
	}
	for r := 0; r < rows; r++ {
		gv := float64(g.Data[r])
		if gv == 0 {
			continue
		}
		base := r * cols
		for c := 0; c < cols; c++ {
			out.Data[c] += float32(gv * float64(weight.Data[base+c]))
		}
	}
	return out, nil
}

// GlobalAvgPool reduces a [C,H,W] tensor to [C] by averaging each channel.
func GlobalAvgPool(x *Tensor) (*Tensor, error) {
	means, err := ChannelMeans(x)
	if err != nil {
		return nil, err
	}
	return New([]int{len(means)}, means)
}

// GlobalAvgPoolBackward spreads each channel gradient uniformly over the
// channel's spatial positions.
func GlobalAvgPoolBackward(gradOut *Tensor, inputShape []int) (*Tensor, error) {
	if gradOut.Rank() != 1 || len(inputShape) != 3 {
		return nil, fmt.Errorf("GlobalAvgPoolBackward shapes: gradOut %v input %v", gradOut.Shape, inputShape)
	}
	if gradOut.NumElems() != inputShape[0] {
		return nil, fmt.Errorf("GlobalAvgPoolBackward channel mismatch: %d vs %d", gradOut.NumElems(), inputShape[0])
	}
	gradIn, err := Zeros(inputShape)
	if err != nil {
		return nil, err
	}
	plane := inputShape[1] * inputShape[2]
	inv := 1.0 / float32(plane)
	for c := 0; c < inputShape[0]; c++ {
		g := gradOut.Data[c] * inv
		base := c * plane
		for i := 0; i < plane; i++ {
			gradIn.Data[base+i] = g
		}
	}
	return gradIn, nil
}
