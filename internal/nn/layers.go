package nn

import (
	"fmt"
	"math"

	"xrayd/internal/tensor"
)

// Conv2DLayer applies a 2-D convolution with frozen weights.
type Conv2DLayer struct {
	name   string
	Weight *tensor.Tensor // [Cout,Cin,KH,KW]
	Bias   *tensor.Tensor // [Cout], may be nil
	Stride int
	Pad    int
}

// NewConv2D builds a convolution layer and validates its weight shape.
func NewConv2D(name string, weight, bias *tensor.Tensor, stride, pad int) (*Conv2DLayer, error) {
	if weight == nil || weight.Rank() != 4 {
		return nil, fmt.Errorf("conv2d %q: weight must be rank-4 [Cout,Cin,KH,KW]", name)
	}
	if bias != nil && bias.NumElems() != weight.Shape[0] {
		return nil, fmt.Errorf("conv2d %q: bias length %d does not match %d output channels", name, bias.NumElems(), weight.Shape[0])
	}
	if stride <= 0 {
		return nil, fmt.Errorf("conv2d %q: stride must be positive, got %d", name, stride)
	}
	if pad < 0 {
		return nil, fmt.Errorf("conv2d %q: padding must be non-negative, got %d", name, pad)
	}
	return &Conv2DLayer{name: name, Weight: weight, Bias: bias, Stride: stride, Pad: pad}, nil
}

func (l *Conv2DLayer) Name() string { return l.name }
func (l *Conv2DLayer) Kind() Kind   { return KindConv2D }

func (l *Conv2DLayer) Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr != nil {
		fr.Input = x
	}
	out, err := tensor.Conv2D(x, l.Weight, l.Bias, l.Stride, l.Pad)
	if err != nil {
		return nil, fmt.Errorf("conv2d %q: %w", l.name, err)
	}
	return out, nil
}

func (l *Conv2DLayer) Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr == nil || fr.Input == nil {
		return nil, fmt.Errorf("conv2d %q backward: %w", l.name, ErrCaptureEmpty)
	}
	gradIn, err := tensor.Conv2DBackwardInput(gradOut, l.Weight, fr.Input.Shape, l.Stride, l.Pad)
	if err != nil {
		return nil, fmt.Errorf("conv2d %q backward: %w", l.name, err)
	}
	return gradIn, nil
}

// BatchNorm2DLayer applies per-channel affine normalization with the running
// statistics frozen at their trained values. The transform collapses to
// y = x*scale + shift per channel, which keeps both passes a single multiply.
type BatchNorm2DLayer struct {
	name  string
	scale []float32
	shift []float32
}

// NewBatchNorm2D folds gamma, beta and the running statistics into the
// per-channel scale and shift used at inference time.
func NewBatchNorm2D(name string, gamma, beta, mean, variance []float32, eps float64) (*BatchNorm2DLayer, error) {
	c := len(gamma)
	if c == 0 || len(beta) != c || len(mean) != c || len(variance) != c {
		return nil, fmt.Errorf("batchnorm2d %q: parameter lengths disagree (gamma=%d beta=%d mean=%d var=%d)",
			name, len(gamma), len(beta), len(mean), len(variance))
	}
	if eps <= 0 {
		eps = 1e-5
	}
	scale := make([]float32, c)
	shift := make([]float32, c)
	for i := 0; i < c; i++ {
		s := float64(gamma[i]) / math.Sqrt(float64(variance[i])+eps)
		scale[i] = float32(s)
		shift[i] = float32(float64(beta[i]) - float64(mean[i])*s)
	}
	return &BatchNorm2DLayer{name: name, scale: scale, shift: shift}, nil
}

func (l *BatchNorm2DLayer) Name() string { return l.name }
func (l *BatchNorm2DLayer) Kind() Kind   { return KindBatchNorm2D }

func (l *BatchNorm2DLayer) Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if x.Rank() != 3 {
		return nil, fmt.Errorf("batchnorm2d %q: input must be rank-3 [C,H,W], got %v", l.name, x.Shape)
	}
	if x.Shape[0] != len(l.scale) {
		return nil, fmt.Errorf("batchnorm2d %q: %d input channels, layer has %d", l.name, x.Shape[0], len(l.scale))
	}
	if fr != nil {
		fr.Input = x
	}
	out := x.Clone()
	plane := x.Shape[1] * x.Shape[2]
	for c := 0; c < x.Shape[0]; c++ {
		s, sh := l.scale[c], l.shift[c]
		base := c * plane
		for i := 0; i < plane; i++ {
			out.Data[base+i] = out.Data[base+i]*s + sh
		}
	}
	return out, nil
}

func (l *BatchNorm2DLayer) Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if gradOut.Rank() != 3 || gradOut.Shape[0] != len(l.scale) {
		return nil, fmt.Errorf("batchnorm2d %q backward: gradient shape %v does not match %d channels", l.name, gradOut.Shape, len(l.scale))
	}
	gradIn := gradOut.Clone()
	plane := gradOut.Shape[1] * gradOut.Shape[2]
	for c := 0; c < gradOut.Shape[0]; c++ {
		s := l.scale[c]
		base := c * plane
		for i := 0; i < plane; i++ {
			gradIn.Data[base+i] *= s
		}
	}
	return gradIn, nil
}

// ReLULayer clamps negatives to zero.
type ReLULayer struct {
	name string
}

func NewReLU(name string) *ReLULayer { return &ReLULayer{name: name} }

func (l *ReLULayer) Name() string { return l.name }
func (l *ReLULayer) Kind() Kind   { return KindReLU }

func (l *ReLULayer) Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr != nil {
		fr.Input = x
	}
	return tensor.ReLU(x), nil
}

func (l *ReLULayer) Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr == nil || fr.Input == nil {
		return nil, fmt.Errorf("relu %q backward: %w", l.name, ErrCaptureEmpty)
	}
	if !tensor.SameShape(gradOut, fr.Input) {
		return nil, fmt.Errorf("relu %q backward: gradient shape %v does not match input %v", l.name, gradOut.Shape, fr.Input.Shape)
	}
	gradIn := gradOut.Clone()
	for i, v := range fr.Input.Data {
		if v <= 0 {
			gradIn.Data[i] = 0
		}
	}
	return gradIn, nil
}

// MaxPool2DLayer applies square max pooling.
type MaxPool2DLayer struct {
	name   string
	Kernel int
	Stride int
}

func NewMaxPool2D(name string, kernel, stride int) (*MaxPool2DLayer, error) {
	if kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("maxpool2d %q: kernel and stride must be positive, got %d/%d", name, kernel, stride)
	}
	return &MaxPool2DLayer{name: name, Kernel: kernel, Stride: stride}, nil
}

func (l *MaxPool2DLayer) Name() string { return l.name }
func (l *MaxPool2DLayer) Kind() Kind   { return KindMaxPool2D }

func (l *MaxPool2DLayer) Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	out, argmax, err := tensor.MaxPool2D(x, l.Kernel, l.Stride)
	if err != nil {
		return nil, fmt.Errorf("maxpool2d %q: %w", l.name, err)
	}
	if fr != nil {
		fr.Input = x
		fr.Argmax = argmax
	}
	return out, nil
}

func (l *MaxPool2DLayer) Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr == nil || fr.Input == nil || fr.Argmax == nil {
		return nil, fmt.Errorf("maxpool2d %q backward: %w", l.name, ErrCaptureEmpty)
	}
	gradIn, err := tensor.MaxPool2DBackward(gradOut, fr.Argmax, fr.Input.Shape)
	if err != nil {
		return nil, fmt.Errorf("maxpool2d %q backward: %w", l.name, err)
	}
	return gradIn, nil
}

// GlobalAvgPoolLayer reduces [C,H,W] to a [C] vector of channel means.
type GlobalAvgPoolLayer struct {
	name string
}

func NewGlobalAvgPool(name string) *GlobalAvgPoolLayer { return &GlobalAvgPoolLayer{name: name} }

func (l *GlobalAvgPoolLayer) Name() string { return l.name }
func (l *GlobalAvgPoolLayer) Kind() Kind   { return KindGlobalAvgPool }

func (l *GlobalAvgPoolLayer) Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr != nil {
		fr.Input = x
	}
	out, err := tensor.GlobalAvgPool(x)
	if err != nil {
		return nil, fmt.Errorf("globalavgpool %q: %w", l.name, err)
	}
	return out, nil
}

func (l *GlobalAvgPoolLayer) Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr == nil || fr.Input == nil {
		return nil, fmt.Errorf("globalavgpool %q backward: %w", l.name, ErrCaptureEmpty)
	}
	gradIn, err := tensor.GlobalAvgPoolBackward(gradOut, fr.Input.Shape)
	if err != nil {
		return nil, fmt.Errorf("globalavgpool %q backward: %w", l.name, err)
	}
	return gradIn, nil
}

// FlattenLayer reshapes any input to a rank-1 vector.
type FlattenLayer struct {
	name string
}

func NewFlatten(name string) *FlattenLayer { return &FlattenLayer{name: name} }

func (l *FlattenLayer) Name() string { return l.name }
func (l *FlattenLayer) Kind() Kind   { return KindFlatten }

func (l *FlattenLayer) Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr != nil {
		fr.Input = x
	}
	flat := make([]float32, len(x.Data))
	copy(flat, x.Data)
	return tensor.New([]int{len(flat)}, flat)
}

func (l *FlattenLayer) Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr == nil || fr.Input == nil {
		return nil, fmt.Errorf("flatten %q backward: %w", l.name, ErrCaptureEmpty)
	}
	if gradOut.NumElems() != fr.Input.NumElems() {
		return nil, fmt.Errorf("flatten %q backward: gradient has %d elements, input had %d", l.name, gradOut.NumElems(), fr.Input.NumElems())
	}
	data := make([]float32, len(gradOut.Data))
	copy(data, gradOut.Data)
	return tensor.New(fr.Input.Shape, data)
}

// DenseLayer is a fully connected layer over a rank-1 input.
type DenseLayer struct {
	name   string
	Weight *tensor.Tensor // [Out,In]
	Bias   *tensor.Tensor // [Out], may be nil
}

func NewDense(name string, weight, bias *tensor.Tensor) (*DenseLayer, error) {
	if weight == nil || weight.Rank() != 2 {
		return nil, fmt.Errorf("dense %q: weight must be rank-2 [Out,In]", name)
	}
	if bias != nil && bias.NumElems() != weight.Shape[0] {
		return nil, fmt.Errorf("dense %q: bias length %d does not match %d outputs", name, bias.NumElems(), weight.Shape[0])
	}
	return &DenseLayer{name: name, Weight: weight, Bias: bias}, nil
}

func (l *DenseLayer) Name() string { return l.name }
func (l *DenseLayer) Kind() Kind   { return KindDense }

func (l *DenseLayer) Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	if fr != nil {
		fr.Input = x
	}
	out, err := tensor.MatVec(l.Weight, x, l.Bias)
	if err != nil {
		return nil, fmt.Errorf("dense %q: %w", l.name, err)
	}
	return out, nil
}

func (l *DenseLayer) Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error) {
	gradIn, err := tensor.MatVecT(l.Weight, gradOut)
	if err != nil {
		return nil, fmt.Errorf("dense %q backward: %w", l.name, err)
	}
	return gradIn, nil
}
