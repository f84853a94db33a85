package nn

import "errors"

// ErrCaptureEmpty is returned when target activations or gradients are
// requested from a Recorder that has not seen a forward pass.
var ErrCaptureEmpty = errors.New("nn: recorder holds no forward pass")
