package cam

import "github.com/prometheus/client_golang/prometheus"

// maskedPassesTotal counts the record-free forward passes the score-based
// method runs, one per scored channel, at most min(maxScoreChannels, C) per
// request.
var maskedPassesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "xrayd",
		Subsystem: "cam",
		Name:      "scorecam_masked_passes_total",
		Help:      "Masked forward passes run by the score-based CAM method",
	},
)

func init() {
	prometheus.MustRegister(maskedPassesTotal)
}
