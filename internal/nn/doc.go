// Package nn implements the CPU inference engine the classifier and the CAM
// algorithms run on. Models are immutable once loaded, so concurrent
// forward-only passes are safe; anything a backward pass needs is recorded on
// a per-call Recorder rather than on the model itself.
//
// The package is organized across several focused files:
//   - model.go: Model assembly, Forward and Backward
//   - layers.go: the individual layer implementations
//   - layer.go: the Layer interface, layer kinds and per-layer frames
//   - recorder.go: the per-call activation/gradient tape
//   - checkpoint.go: the JSON snapshot format and loader
//   - errors.go: sentinel errors
package nn
