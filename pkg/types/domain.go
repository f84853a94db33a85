package types

// ModelStatus describes the artifact bundle a daemon is serving.
type ModelStatus struct {
	// Number of findings the classifier scores.
	// example: 14
	Classes int `json:"classes" example:"14"`
	// Layer whose activations drive the CAM methods.
	// example: feat
	TargetLayer string `json:"target_layer" example:"feat"`
	// Network input size as [width, height] pixels.
	InputSize [2]int `json:"input_size"`
	// Directory the bundle was loaded from.
	// example: /var/lib/xrayd/model
	Dir string `json:"dir,omitempty" example:"/var/lib/xrayd/model"`
	// Finding labels in classifier order.
	Labels []string `json:"labels,omitempty"`
}
