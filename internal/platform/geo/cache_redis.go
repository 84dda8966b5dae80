package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "visitgrid:coord:"

// RedisCache is a CoordCache shared across server instances. Entries expire
// after the configured TTL so stale geocodes are eventually refreshed.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache parses url (redis://host:port/db), pings the server with a few
// retries and returns a ready cache.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration, logger zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	const attempts = 3
	for i := 1; ; i++ {
		err = client.Ping(ctx).Err()
		if err == nil {
			break
		}
		if i == attempts {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Warn().Err(err).Int("attempt", i).Msg("redis not ready, retrying")
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}

	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (Coord, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug().Err(err).Str("key", key).Msg("coordinate cache read failed")
		}
		return Coord{}, false
	}
	var c Coord
	if err := json.Unmarshal(raw, &c); err != nil {
		return Coord{}, false
	}
	return c, true
}

func (r *RedisCache) Set(ctx context.Context, key string, c Coord) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

// Close releases the underlying connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
