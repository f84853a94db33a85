package pipeline

import (
	"time"

	"xrayd/pkg/types"
)

const stateReady = "ready"

// Ready reports whether the pipeline can serve predictions. The model loads
// at construction, so a built pipeline is always ready.
func (p *Pipeline) Ready() bool { return true }

// Status builds a detailed status response for /status.
func (p *Pipeline) Status() types.StatusResponse {
	return types.StatusResponse{
		State: stateReady,
		Model: types.ModelStatus{
			Classes:     p.model.NumClasses(),
			TargetLayer: p.model.TargetLayer(),
			InputSize:   [2]int{p.inputW, p.inputH},
			Dir:         p.bundleDir,
			Labels:      append([]string(nil), p.labels...),
		},
		QueueLen:         p.adm.queueLen(),
		Inflight:         p.adm.inflight(),
		MaxQueueDepth:    cap(p.adm.queueCh),
		Workers:          p.workers,
		CacheEnabled:     p.cache != nil && p.cache.Enabled(),
		PredictionsTotal: p.served.Load(),
		CacheHits:        p.hits.Load(),
		UptimeSeconds:    int64(time.Since(p.startTime).Seconds()),
		ServerTimeUnix:   time.Now().Unix(),
	}
}
