// Package classify turns model logits into per-disease outcomes.
package classify

import (
	"fmt"

	"github.com/samber/lo"

	"xrayd/internal/nn"
	"xrayd/internal/tensor"
)

// DefaultLabels is the NIH ChestX-ray14 label set in training order. The
// index of a label is its class index in the model head.
var DefaultLabels = []string{
	"Atelectasis", "Cardiomegaly", "Effusion", "Infiltration",
	"Mass", "Nodule", "Pneumonia", "Pneumothorax",
	"Consolidation", "Edema", "Emphysema", "Fibrosis",
	"Pleural_Thickening", "Hernia",
}

// DefaultThreshold is used for every class when no tuned thresholds ship with
// the model bundle.
const DefaultThreshold = 0.5

// Outcome is the per-disease verdict sent back to clients.
type Outcome struct {
	Positive    bool
	Probability float64
}

// Result holds one classification pass over a preprocessed image.
type Result struct {
	Labels        []string
	Probabilities []float64
	Positive      []bool

	// TargetClass is the index of the highest-probability class. It is the
	// class the saliency map explains, chosen independently of the decision
	// thresholds: an image negative across the board still gets its most
	// likely finding highlighted.
	TargetClass int
}

// TargetLabel returns the label of the class the saliency map explains.
func (r *Result) TargetLabel() string { return r.Labels[r.TargetClass] }

// TargetProbability returns the probability of the target class.
func (r *Result) TargetProbability() float64 { return r.Probabilities[r.TargetClass] }

// Outcomes returns the per-label verdict map.
func (r *Result) Outcomes() map[string]Outcome {
	out := make(map[string]Outcome, len(r.Labels))
	for i, label := range r.Labels {
		out[label] = Outcome{Positive: r.Positive[i], Probability: r.Probabilities[i]}
	}
	return out
}

// PositiveLabels returns the labels whose probability cleared their threshold.
func (r *Result) PositiveLabels() []string {
	return lo.Filter(r.Labels, func(_ string, i int) bool { return r.Positive[i] })
}

// Classifier applies sigmoid activation and per-class decision thresholds to
// a model's logits.
type Classifier struct {
	model      *nn.Model
	labels     []string
	thresholds []float64
}

// New builds a classifier over model. labels and thresholds must both match
// the model's class count; thresholds come from the bundle's tuning run or
// default to 0.5 everywhere.
func New(model *nn.Model, labels []string, thresholds []float64) (*Classifier, error) {
	n := model.NumClasses()
	if len(labels) != n {
		return nil, fmt.Errorf("classifier: %d labels for a %d-class model", len(labels), n)
	}
	if len(thresholds) != n {
		return nil, fmt.Errorf("classifier: %d thresholds for a %d-class model", len(thresholds), n)
	}
	return &Classifier{
		model:      model,
		labels:     append([]string(nil), labels...),
		thresholds: append([]float64(nil), thresholds...),
	}, nil
}

// Labels returns the class labels in model order.
func (c *Classifier) Labels() []string { return c.labels }

// Thresholds returns the per-class decision thresholds in model order.
func (c *Classifier) Thresholds() []float64 { return c.thresholds }

// Model returns the underlying network.
func (c *Classifier) Model() *nn.Model { return c.model }

// Classify runs one forward pass and applies the decision rule: a class is
// positive when its probability strictly exceeds its threshold. Passing a
// recorder makes the pass replayable for the gradient-based CAM methods.
func (c *Classifier) Classify(x *tensor.Tensor, rec *nn.Recorder) (*Result, error) {
	logits, err := c.model.Forward(x, rec)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	probs := tensor.Sigmoid(logits)

	res := &Result{
		Labels:        c.labels,
		Probabilities: make([]float64, len(c.labels)),
		Positive:      make([]bool, len(c.labels)),
	}
	for i := range c.labels {
		p := float64(probs.Data[i])
		res.Probabilities[i] = p
		res.Positive[i] = p > c.thresholds[i]
		if p > res.Probabilities[res.TargetClass] {
			res.TargetClass = i
		}
	}
	return res, nil
}
