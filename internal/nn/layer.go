package nn

import "xrayd/internal/tensor"

// Kind identifies a layer implementation. The string values appear verbatim
// in checkpoint files.
type Kind string

const (
	KindConv2D        Kind = "conv2d"
	KindBatchNorm2D   Kind = "batchnorm2d"
	KindReLU          Kind = "relu"
	KindMaxPool2D     Kind = "maxpool2d"
	KindGlobalAvgPool Kind = "globalavgpool"
	KindFlatten       Kind = "flatten"
	KindDense         Kind = "dense"
)

// Frame holds what a single layer recorded during a forward pass so its
// backward pass can run later. Layers only fill the fields they need.
type Frame struct {
	// Input is the tensor the layer received. Layers never mutate their
	// inputs, so this is a reference, not a copy.
	Input *tensor.Tensor

	// Argmax holds the winning input index per pooled output element for
	// max-pool layers.
	Argmax []int
}

// Layer is a single step of the network. Forward may be called with a nil
// frame for record-free inference; Backward requires the frame filled by the
// matching Forward call. Backward propagates gradients with respect to the
// layer input only, parameters are frozen at inference time.
type Layer interface {
	Name() string
	Kind() Kind
	Forward(x *tensor.Tensor, fr *Frame) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor, fr *Frame) (*tensor.Tensor, error)
}
