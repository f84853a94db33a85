// Package pipeline orchestrates one explanation pass end to end: admission,
// cache lookup, preprocessing, classification, saliency, rendering and
// persistence. It is structured into small files by concern:
//
//   - pipeline.go: core Pipeline type, constructor, the Predict flow.
//   - config.go: Config and package defaults; New applies defaults.
//   - admission.go: bounded queue + in-flight slot reservation.
//   - errors.go: error types and helpers (IsInvalidInput, IsTooBusy).
//   - metrics.go: prometheus collectors for the prediction funnel.
//   - status.go: /status and readiness reporting.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (New, Predict, OpenImage, Status, Ready).
package pipeline
