package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RevocationCache представляет черный список токенов в Redis.
// Запись живет не дольше остаточного времени жизни токена: потеря записи
// до истечения лишь временно ревалидирует токен, ограниченно его же expiry.
type RevocationCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRevocationCache создает новый экземпляр RevocationCache
func NewRevocationCache(client *redis.Client, logger *zap.Logger) *RevocationCache {
	return &RevocationCache{
		client: client,
		logger: logger,
	}
}

// Revoke добавляет jti токена в черный список до его естественного истечения
func (c *RevocationCache) Revoke(ctx context.Context, tokenID string, ttl time.Duration, reason string) error {
	if ttl <= 0 {
		// Токен уже истек, запись не нужна
		return nil
	}

	key := fmt.Sprintf("blacklist:token:%s", tokenID)
	if err := c.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		c.logger.Error("Failed to add token to blacklist", zap.Error(err), zap.String("token_id", tokenID))
		return err
	}
	return nil
}

// IsRevoked проверяет, отозван ли токен
func (c *RevocationCache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	key := fmt.Sprintf("blacklist:token:%s", tokenID)
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Error("Failed to check if token is revoked", zap.Error(err), zap.String("token_id", tokenID))
		return false, err
	}
	return exists > 0, nil
}
