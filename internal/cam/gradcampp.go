package cam

import (
	"context"
	"fmt"

	"xrayd/internal/nn"
	"xrayd/internal/tensor"
)

// gradCAMPP refines the channel weights with the closed-form alpha
// coefficients of Grad-CAM++: alpha = g² / (2g² + Σ_spatial(a·g³) + ε),
// evaluated per position with the channel sum broadcast, then
// w_c = Σ_spatial alpha · relu(g). Better suited than plain averaging when a
// finding appears in several disjoint regions.
type gradCAMPP struct{}

func (g *gradCAMPP) Method() Method { return GradCAMPP }

func (g *gradCAMPP) Generate(_ context.Context, net Network, _ *tensor.Tensor, rec *nn.Recorder, classIdx int) (*tensor.Tensor, error) {
	acts, err := capturedActivations(rec)
	if err != nil {
		return nil, fmt.Errorf("gradcam++: %w", err)
	}
	grads, err := net.Backward(classIdx, rec)
	if err != nil {
		return nil, fmt.Errorf("gradcam++: %w", err)
	}
	if !tensor.SameShape(grads, acts) {
		return nil, fmt.Errorf("gradcam++: gradient shape %v does not match activations %v", grads.Shape, acts.Shape)
	}

	c, h, w := acts.Shape[0], acts.Shape[1], acts.Shape[2]
	plane := h * w
	weights := make([]float32, c)
	for ch := 0; ch < c; ch++ {
		base := ch * plane

		// channel term of the alpha denominator
		var s float64
		for i := 0; i < plane; i++ {
			gv := float64(grads.Data[base+i])
			s += float64(acts.Data[base+i]) * gv * gv * gv
		}

		var wt float64
		for i := 0; i < plane; i++ {
			gv := float64(grads.Data[base+i])
			if gv <= 0 {
				continue
			}
			g2 := gv * gv
			alpha := g2 / (2*g2 + s + normEpsilon)
			wt += alpha * gv
		}
		weights[ch] = float32(wt)
	}

	m, err := weightedSum(acts, weights)
	if err != nil {
		return nil, fmt.Errorf("gradcam++: %w", err)
	}
	return finalize(m), nil
}
