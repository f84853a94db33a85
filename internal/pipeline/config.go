package pipeline

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"xrayd/internal/cache"
	"xrayd/internal/registry"
	"xrayd/internal/store"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	maxDefaultWorkers    = 4
)

// Config encapsulates all tunables for Pipeline construction.
type Config struct {
	// Bundle carries the model, labels and thresholds. Required.
	Bundle *registry.Bundle
	// Store persists the rendered images. Required.
	Store *store.FS
	// Cache short-circuits repeated uploads. Nil disables caching.
	Cache cache.Cache
	// Logger receives stage and per-finding events.
	Logger zerolog.Logger

	// Workers bounds concurrent predictions. Zero means NumCPU capped at 4.
	Workers int
	// MaxQueueDepth bounds waiters behind the workers. Zero means 32.
	MaxQueueDepth int
	// MaxWait bounds how long admission blocks before rejecting. Zero means 30s.
	MaxWait time.Duration
	// CAMWorkers bounds the masked forward passes inside one score-based
	// saliency computation. Zero takes the cam package default.
	CAMWorkers int
	// CacheTTL bounds how long results stay cached. Zero takes the cache
	// package default.
	CacheTTL time.Duration
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > maxDefaultWorkers {
		n = maxDefaultWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}
