package nn

import "xrayd/internal/tensor"

// Recorder is the per-call tape a Model writes to during Forward so a later
// Backward can replay it. A Recorder belongs to exactly one inference call at
// a time; it carries no locking. The model itself stays read-only, which is
// what makes concurrent record-free passes safe.
type Recorder struct {
	frames      []Frame
	activations *tensor.Tensor
	logits      *tensor.Tensor
}

// NewRecorder returns an empty tape.
func NewRecorder() *Recorder { return &Recorder{} }

// Reset clears everything recorded by a previous forward pass.
func (r *Recorder) Reset() {
	for i := range r.frames {
		r.frames[i] = Frame{}
	}
	r.activations = nil
	r.logits = nil
}

// Capture returns the activations of the model's target layer from the last
// recorded forward pass. Callers must treat the tensor as read-only.
func (r *Recorder) Capture() (*tensor.Tensor, error) {
	if r.activations == nil {
		return nil, ErrCaptureEmpty
	}
	return r.activations, nil
}

// Logits returns the model output of the last recorded forward pass.
func (r *Recorder) Logits() (*tensor.Tensor, error) {
	if r.logits == nil {
		return nil, ErrCaptureEmpty
	}
	return r.logits, nil
}

func (r *Recorder) ensure(n int) {
	if len(r.frames) != n {
		r.frames = make([]Frame, n)
	}
}
