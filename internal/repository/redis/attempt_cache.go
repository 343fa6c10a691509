package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AttemptCache хранит счетчики неудачных попыток аутентификации в Redis
type AttemptCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewAttemptCache создает новый экземпляр AttemptCache
func NewAttemptCache(client *redis.Client, logger *zap.Logger) *AttemptCache {
	return &AttemptCache{
		client: client,
		logger: logger,
	}
}

func attemptKey(identifier string) string {
	return fmt.Sprintf("bruteforce:attempts:%s", identifier)
}

// Increment атомарно увеличивает счетчик и задает окно истечения.
// INCR и EXPIRE уходят одним pipeline: счетчик не может остаться без TTL,
// даже если вызывающий процесс упадет сразу после вызова.
func (c *AttemptCache) Increment(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	key := attemptKey(identifier)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to increment attempt counter", zap.Error(err), zap.String("identifier", identifier))
		return 0, err
	}
	return incr.Val(), nil
}

// Get возвращает текущее значение счетчика (0, если счетчика нет)
func (c *AttemptCache) Get(ctx context.Context, identifier string) (int64, error) {
	count, err := c.client.Get(ctx, attemptKey(identifier)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		c.logger.Error("Failed to get attempt counter", zap.Error(err), zap.String("identifier", identifier))
		return 0, err
	}
	return count, nil
}

// TTL возвращает остаток окна счетчика
func (c *AttemptCache) TTL(ctx context.Context, identifier string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, attemptKey(identifier)).Result()
	if err != nil {
		c.logger.Error("Failed to get attempt counter TTL", zap.Error(err), zap.String("identifier", identifier))
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Delete сбрасывает счетчик после успешной аутентификации
func (c *AttemptCache) Delete(ctx context.Context, identifier string) error {
	if err := c.client.Del(ctx, attemptKey(identifier)).Err(); err != nil {
		c.logger.Error("Failed to delete attempt counter", zap.Error(err), zap.String("identifier", identifier))
		return err
	}
	return nil
}
