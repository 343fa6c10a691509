package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
)

// NewRedisClient creates a Redis client using configuration.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.CallTimeout,
		ReadTimeout:  cfg.CallTimeout,
		WriteTimeout: cfg.CallTimeout,
	})
	return client, client.Ping(ctx).Err()
}
