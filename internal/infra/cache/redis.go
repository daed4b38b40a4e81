package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

const geoKeyPrefix = "leadrouter:geo:"

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rc := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rc, nil
}

// RedisGeoCache stores geocode results in Redis as JSON.
// Read failures are treated as misses.
type RedisGeoCache struct {
	rc     *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGeoCache wraps a connected client.
func NewRedisGeoCache(rc *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGeoCache {
	return &RedisGeoCache{rc: rc, ttl: ttl, logger: logger}
}

func (c *RedisGeoCache) GetCoordinates(ctx context.Context, key string) (*domain.Coordinates, bool) {
	bs, err := c.rc.Get(ctx, geoKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis geocode read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var coords domain.Coordinates
	if err := json.Unmarshal(bs, &coords); err != nil {
		return nil, false
	}
	return &coords, true
}

func (c *RedisGeoCache) SetCoordinates(ctx context.Context, key string, coords domain.Coordinates) error {
	bs, err := json.Marshal(coords)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, geoKeyPrefix+key, bs, c.ttl).Err()
}

// Ping reports whether Redis is reachable.
func (c *RedisGeoCache) Ping(ctx context.Context) error {
	return c.rc.Ping(ctx).Err()
}
