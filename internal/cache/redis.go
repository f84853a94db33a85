package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Redis caches payloads in a Redis instance. Construction never fails: if
// the URL does not parse or the instance is unreachable, the cache runs
// disabled and every lookup misses.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedis connects to url and verifies the connection with a ping.
func NewRedis(ctx context.Context, url string, log zerolog.Logger) *Redis {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("invalid redis url, cache disabled")
		return &Redis{log: log}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("redis unreachable, cache disabled")
		_ = client.Close()
		return &Redis{log: log}
	}
	log.Info().Str("addr", opts.Addr).Msg("redis cache connected")
	return &Redis{client: client, log: log}
}

// Enabled reports whether a backend connection exists.
func (r *Redis) Enabled() bool { return r.client != nil }

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	if r.client == nil {
		return nil, false
	}
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	return payload, true
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if r.client == nil {
		return
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
