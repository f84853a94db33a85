// Package cache provides best-effort caching for prediction results. Every
// operation is fallible without consequence: a broken or absent backend
// degrades to cache misses with a logged warning, never to request failures.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultPredictionTTL is how long a prediction result stays cached. The
// rendered images on disk outlive the cache entry; the TTL only bounds how
// long identical uploads short-circuit the pipeline.
const DefaultPredictionTTL = 10 * time.Minute

const keyPrefix = "chest_xray"

// Cache stores opaque result payloads under content-derived keys.
type Cache interface {
	// Get returns the cached payload and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores payload under key for ttl. Failures are absorbed.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
	// Enabled reports whether the backend is reachable. A disabled cache
	// still accepts calls; they just miss and absorb.
	Enabled() bool
}

// Key derives the cache key for one upload and CAM method. The content hash
// makes re-uploads of the same bytes hit regardless of filename; the method
// segment keeps the per-method results apart.
func Key(content []byte, method string) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%s:%s:%s", keyPrefix, hex.EncodeToString(sum[:]), method)
}
