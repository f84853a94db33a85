// Package cam implements the class activation mapping algorithms that turn a
// recorded inference pass into a saliency map over the target layer's spatial
// grid (or the input grid for the score-based method). All maps come back
// min-max normalized into [0,1]; a flat map normalizes to all zeros.
package cam

import (
	"context"
	"errors"
	"fmt"

	"xrayd/internal/nn"
	"xrayd/internal/tensor"
)

// Method names a supported CAM algorithm. The string values are the wire
// values clients send.
type Method string

const (
	GradCAM   Method = "gradcam"
	GradCAMPP Method = "gradcam++"
	ScoreCAM  Method = "scorecam"
)

// Methods lists every supported method in presentation order.
func Methods() []Method { return []Method{GradCAM, GradCAMPP, ScoreCAM} }

// ParseMethod validates a client-supplied method name. Matching is exact;
// unknown names fail before any model work happens.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case GradCAM, GradCAMPP, ScoreCAM:
		return Method(s), nil
	default:
		return "", &UnsupportedMethodError{Method: s}
	}
}

// UnsupportedMethodError reports a CAM method this build does not implement.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported CAM method %q", e.Method)
}

// IsUnsupportedMethod reports whether err is an UnsupportedMethodError.
func IsUnsupportedMethod(err error) bool {
	var e *UnsupportedMethodError
	return errors.As(err, &e)
}

// Network is the slice of the inference engine the CAM algorithms need.
// *nn.Model satisfies it.
type Network interface {
	Forward(x *tensor.Tensor, rec *nn.Recorder) (*tensor.Tensor, error)
	Backward(classIdx int, rec *nn.Recorder) (*tensor.Tensor, error)
}

// Generator computes a saliency map for one class of one recorded pass.
//
// rec must hold the forward pass of x; the gradient methods replay it, the
// score method reuses its captured activations and runs fresh record-free
// passes over masked inputs.
type Generator interface {
	Method() Method
	Generate(ctx context.Context, net Network, x *tensor.Tensor, rec *nn.Recorder, classIdx int) (*tensor.Tensor, error)
}

// Options tunes generator construction.
type Options struct {
	// Workers bounds the concurrent masked forward passes of the score
	// method. Zero means defaultScoreWorkers.
	Workers int
}

// NewGenerator returns the generator for method.
func NewGenerator(method Method, opts Options) (Generator, error) {
	switch method {
	case GradCAM:
		return &gradCAM{}, nil
	case GradCAMPP:
		return &gradCAMPP{}, nil
	case ScoreCAM:
		w := opts.Workers
		if w <= 0 {
			w = defaultScoreWorkers
		}
		return &scoreCAM{workers: w}, nil
	default:
		return nil, &UnsupportedMethodError{Method: string(method)}
	}
}

const normEpsilon = 1e-8

// finalize applies the shared post-processing: non-finite values are scrubbed
// to zero, negatives clipped, and the map min-max normalized into [0,1].
func finalize(m *tensor.Tensor) *tensor.Tensor {
	tensor.ScrubNonFinite(m)
	tensor.ReLUInPlace(m)
	return tensor.NormalizeMinMax(m, normEpsilon)
}

// weightedSum collapses [C,H,W] activations into a [H,W] map with one weight
// per channel.
func weightedSum(acts *tensor.Tensor, weights []float32) (*tensor.Tensor, error) {
	if acts.Rank() != 3 {
		return nil, fmt.Errorf("activations must be rank-3 [C,H,W], got %v", acts.Shape)
	}
	c, h, w := acts.Shape[0], acts.Shape[1], acts.Shape[2]
	if len(weights) != c {
		return nil, fmt.Errorf("%d weights for %d channels", len(weights), c)
	}
	out, err := tensor.Zeros([]int{h, w})
	if err != nil {
		return nil, err
	}
	plane := h * w
	for ch := 0; ch < c; ch++ {
		wt := weights[ch]
		if wt == 0 {
			continue
		}
		base := ch * plane
		for i := 0; i < plane; i++ {
			out.Data[i] += wt * acts.Data[base+i]
		}
	}
	return out, nil
}

// capturedActivations fetches the recorded target-layer output and checks it
// is spatial.
func capturedActivations(rec *nn.Recorder) (*tensor.Tensor, error) {
	acts, err := rec.Capture()
	if err != nil {
		return nil, err
	}
	if acts.Rank() != 3 {
		return nil, fmt.Errorf("target layer produced rank-%d output, saliency needs [C,H,W]", acts.Rank())
	}
	return acts, nil
}
