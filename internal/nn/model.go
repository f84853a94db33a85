package nn

import (
	"fmt"

	"xrayd/internal/tensor"
)

// Model is an immutable feed-forward network. All mutable state for a single
// inference lives on the caller's Recorder, so one Model serves any number of
// concurrent record-free forward passes.
type Model struct {
	layers     []Layer
	index      map[string]int
	inputShape []int
	numClasses int
	targetIdx  int
}

// New assembles a model from an ordered layer list. targetLayer names the
// layer whose output the CAM algorithms inspect; it must exist and must not
// be the final layer.
func New(layers []Layer, inputShape []int, numClasses int, targetLayer string) (*Model, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("model has no layers")
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("model must declare a positive class count, got %d", numClasses)
	}
	if len(inputShape) != 3 {
		return nil, fmt.Errorf("model input shape must be rank-3 [C,H,W], got %v", inputShape)
	}
	index := make(map[string]int, len(layers))
	for i, l := range layers {
		name := l.Name()
		if name == "" {
			return nil, fmt.Errorf("layer %d has an empty name", i)
		}
		if prev, ok := index[name]; ok {
			return nil, fmt.Errorf("duplicate layer name %q (positions %d and %d)", name, prev, i)
		}
		index[name] = i
	}
	targetIdx, ok := index[targetLayer]
	if !ok {
		return nil, fmt.Errorf("target layer %q not found in model", targetLayer)
	}
	if targetIdx == len(layers)-1 {
		return nil, fmt.Errorf("target layer %q is the model head; saliency needs a spatial layer", targetLayer)
	}
	if last := layers[len(layers)-1]; last.Kind() == KindDense {
		if out := last.(*DenseLayer).Weight.Shape[0]; out != numClasses {
			return nil, fmt.Errorf("head produces %d outputs but model declares %d classes", out, numClasses)
		}
	}
	return &Model{
		layers:     layers,
		index:      index,
		inputShape: append([]int(nil), inputShape...),
		numClasses: numClasses,
		targetIdx:  targetIdx,
	}, nil
}

// NumClasses returns the size of the logit vector.
func (m *Model) NumClasses() int { return m.numClasses }

// InputShape returns the expected [C,H,W] input shape.
func (m *Model) InputShape() []int { return append([]int(nil), m.inputShape...) }

// TargetLayer returns the name of the layer the CAM algorithms inspect.
func (m *Model) TargetLayer() string { return m.layers[m.targetIdx].Name() }

// Forward runs the network on x and returns the logits. When rec is non-nil
// the pass is recorded: target-layer activations become available through
// rec.Capture and a later Backward can replay the tape. A nil rec runs a
// record-free pass, which is the cheap path the masked ScoreCAM forwards use.
func (m *Model) Forward(x *tensor.Tensor, rec *Recorder) (*tensor.Tensor, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	if rec != nil {
		rec.Reset()
		rec.ensure(len(m.layers))
	}
	cur := x
	for i, layer := range m.layers {
		var fr *Frame
		if rec != nil {
			fr = &rec.frames[i]
		}
		out, err := layer.Forward(cur, fr)
		if err != nil {
			return nil, err
		}
		if rec != nil && i == m.targetIdx {
			rec.activations = out
		}
		cur = out
	}
	if cur.NumElems() != m.numClasses {
		return nil, fmt.Errorf("model produced %d logits, expected %d", cur.NumElems(), m.numClasses)
	}
	if rec != nil {
		rec.logits = cur
	}
	return cur, nil
}

// Backward computes the gradient of logit classIdx with respect to the
// target-layer activations recorded on rec. Only the layers above the target
// participate; parameters stay frozen throughout.
func (m *Model) Backward(classIdx int, rec *Recorder) (*tensor.Tensor, error) {
	if rec == nil || rec.logits == nil {
		return nil, ErrCaptureEmpty
	}
	if classIdx < 0 || classIdx >= m.numClasses {
		return nil, fmt.Errorf("class index %d out of range [0,%d)", classIdx, m.numClasses)
	}
	seed, err := tensor.Zeros([]int{m.numClasses})
	if err != nil {
		return nil, err
	}
	seed.Data[classIdx] = 1
	grad := seed
	for i := len(m.layers) - 1; i > m.targetIdx; i-- {
		grad, err = m.layers[i].Backward(grad, &rec.frames[i])
		if err != nil {
			return nil, err
		}
	}
	return grad, nil
}

func (m *Model) checkInput(x *tensor.Tensor) error {
	if x.Rank() != len(m.inputShape) {
		return fmt.Errorf("input rank %d does not match model input %v", x.Rank(), m.inputShape)
	}
	for i, d := range m.inputShape {
		if x.Shape[i] != d {
			return fmt.Errorf("input shape %v does not match model input %v", x.Shape, m.inputShape)
		}
	}
	return nil
}
