package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/kreatum/kreatum/config"
	redis_db "github.com/kreatum/kreatum/internal/redis-db"
)

// localEntries sizes the in-process TinyLFU tier. Catalog rows are small and
// few, so the tier mostly exists to keep hot model lookups off redis entirely.
const localEntries = 64000

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

// NewCache builds the two-tier cache from the configured redis address.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return newRedisCache(fmt.Sprintf("redis://%s", cfg.Redis.Dns))
}

type RedisCache struct {
	cache *cache.Cache
}

func newRedisCache(address string) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient([]string{address})
	if err != nil {
		return nil, err
	}

	return &RedisCache{
		cache: cache.New(&cache.Options{
			Redis:      client.Client(),
			LocalCache: cache.NewTinyLFU(localEntries, time.Minute),
		}),
	}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

// Get treats a miss as a nil read. Callers check that the destination was
// actually populated before trusting it.
func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
