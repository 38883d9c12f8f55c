package driver

import (
	"context"
	"fmt"

	"message-bundle/internal/platform/config"
	"message-bundle/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient 建立 Redis 客戶端並測試連線
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(ctx, "Redis connected successfully", logger.WithDetails(map[string]interface{}{
		"addr": cfg.Addr,
		"db":   cfg.DB,
	}))
	return client, nil
}
