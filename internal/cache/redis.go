package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisCache backs the Cache interface with a shared Redis instance, used
// for multi-instance deployments when REDIS_ADDR is set.
type redisCache struct {
	client *redis.Client
}

// NewRedisCache dials addr lazily; connection errors surface per-call and
// degrade to cache misses rather than failing callers.
func NewRedisCache(addr string) Cache {
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *redisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return "", false
	}
	return v, true
}

func (r *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("redis cache set failed")
	}
}
