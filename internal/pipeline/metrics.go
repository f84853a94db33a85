package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xrayd",
			Subsystem: "pipeline",
			Name:      "predictions_total",
			Help:      "Prediction requests by CAM method and outcome",
		},
		[]string{"method", "outcome"},
	)

	cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xrayd",
			Subsystem: "pipeline",
			Name:      "cache_events_total",
			Help:      "Prediction cache lookups by result",
		},
		[]string{"result"},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xrayd",
			Subsystem: "pipeline",
			Name:      "inference_duration_seconds",
			Help:      "Wall time of the classification and saliency stages",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(predictionsTotal, cacheEventsTotal, inferenceDuration)
}

// Outcome labels for predictionsTotal. Unparseable client method strings are
// folded into invalidMethodLabel to keep the label space bounded.
const (
	outcomeOK          = "ok"
	outcomeCacheHit    = "cache_hit"
	outcomeInvalid     = "invalid_input"
	outcomeUnsupported = "unsupported_method"
	outcomeTooBusy     = "too_busy"
	outcomeCanceled    = "canceled"
	outcomeError       = "error"

	invalidMethodLabel = "invalid"
)
