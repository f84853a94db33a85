package cam

import (
	"context"
	"fmt"

	"xrayd/internal/nn"
	"xrayd/internal/tensor"
)

// gradCAM weights each activation channel by the spatial mean of its
// rectified gradient. Gradients are rectified before averaging, so channels
// that only suppress the class contribute nothing rather than subtracting.
type gradCAM struct{}

func (g *gradCAM) Method() Method { return GradCAM }

func (g *gradCAM) Generate(_ context.Context, net Network, _ *tensor.Tensor, rec *nn.Recorder, classIdx int) (*tensor.Tensor, error) {
	acts, err := capturedActivations(rec)
	if err != nil {
		return nil, fmt.Errorf("gradcam: %w", err)
	}
	grads, err := net.Backward(classIdx, rec)
	if err != nil {
		return nil, fmt.Errorf("gradcam: %w", err)
	}
	if !tensor.SameShape(grads, acts) {
		return nil, fmt.Errorf("gradcam: gradient shape %v does not match activations %v", grads.Shape, acts.Shape)
	}

	weights, err := tensor.ChannelMeans(tensor.ReLU(grads))
	if err != nil {
		return nil, fmt.Errorf("gradcam: %w", err)
	}
	m, err := weightedSum(acts, weights)
	if err != nil {
		return nil, fmt.Errorf("gradcam: %w", err)
	}
	return finalize(m), nil
}
