package cache

import (
	"context"
	"fmt"

	"github.com/fjod/storefront-sync/internal/config"
	"github.com/redis/go-redis/v9"
)

// Open builds the configured backend. Redis is pinged before it is returned.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "pebble":
		return NewPebbleStore(cfg.PebbleDir, cfg.SessionTTL)
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return NewRedisStore(client, cfg.SessionTTL), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
