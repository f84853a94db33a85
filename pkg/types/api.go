package types

// Prediction is the outcome for a single finding in one classification pass.
type Prediction struct {
	// Sigmoid probability for the finding.
	// example: 0.8231
	Probability float64 `json:"probability" example:"0.8231"`
	// True when the probability clears the finding's decision threshold.
	// example: true
	Positive bool `json:"positive" example:"true"`
}

// PredictResponse is the result of one explanation pass, returned by
// POST /api/v1/predict. Cached responses are byte-identical to fresh ones.
type PredictResponse struct {
	// Per-finding outcomes keyed by label.
	Predictions map[string]Prediction `json:"predictions"`
	// CAM algorithm that produced the explanation images.
	// example: gradcam
	CAMMethod string `json:"cam_method" example:"gradcam"`
	// Heatmap image name, served by GET /api/v1/images/{name}.
	// example: heatmap_gradcam_1b4e28ba-2fa1-41d2-883f-0016d3cca427.png
	HeatmapPath string `json:"heatmap_path" example:"heatmap_gradcam_1b4e28ba-2fa1-41d2-883f-0016d3cca427.png"`
	// Overlay image name: the heatmap blended over the radiograph.
	// example: superimposed_gradcam_1b4e28ba-2fa1-41d2-883f-0016d3cca427.png
	SuperimposedPath string `json:"superimposed_path" example:"superimposed_gradcam_1b4e28ba-2fa1-41d2-883f-0016d3cca427.png"`
	// Uploaded image size as [width, height] pixels.
	OriginalSize [2]int `json:"original_size"`
	// Network input size as [width, height] pixels.
	ModelInputSize [2]int `json:"model_input_size"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid CAM method
	Error string `json:"error" example:"invalid CAM method"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall daemon state.
	// example: ready
	State string `json:"state" example:"ready"`
	// Loaded model description.
	Model ModelStatus `json:"model"`
	// Requests waiting for a prediction slot.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Predictions currently executing.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Queued requests allowed before admission rejects with 429.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Maximum concurrent predictions.
	// example: 4
	Workers int `json:"workers" example:"4"`
	// Whether the prediction cache backend is reachable.
	// example: true
	CacheEnabled bool `json:"cache_enabled" example:"true"`
	// Predictions served since start, cache hits included.
	// example: 42
	PredictionsTotal uint64 `json:"predictions_total" example:"42"`
	// Prediction cache hits since start.
	// example: 10
	CacheHits uint64 `json:"cache_hits_total" example:"10"`
	// Uptime of the daemon in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
