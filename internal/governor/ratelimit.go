package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/metrics"
)

// RateLimiter defines the interface for a rate limiting service.
type RateLimiter interface {
	// Allow checks if an action identified by key is allowed under the given
	// limit and window, incrementing the counter for the key.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Reset resets the counter for a key.
	Reset(ctx context.Context, key string) error
}

type redisRateLimiter struct {
	client *redis.Client
	cfg    config.RateLimitConfig
	logger *zap.Logger

	mu         sync.Mutex
	rejections map[string]uint64
}

// NewRedisRateLimiter creates a new Redis-backed RateLimiter using a fixed
// window counter (TTL armed once at window start).
func NewRedisRateLimiter(client *redis.Client, cfg config.RateLimitConfig, logger *zap.Logger) RateLimiter {
	return &redisRateLimiter{
		client:     client,
		cfg:        cfg,
		logger:     logger,
		rejections: make(map[string]uint64),
	}
}

func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.cfg.Enabled {
		return true, nil
	}

	redisKey := fmt.Sprintf("rate:%s", key)

	count, err := r.client.Get(ctx, redisKey).Int()
	if err != nil && err != redis.Nil {
		r.logger.Error("Failed to get rate limit count", zap.Error(err), zap.String("key", key))
		// В случае ошибки Redis разрешаем запрос, чтобы не блокировать
		// пользователей; сам сбой виден по логу и ошибке
		return true, fmt.Errorf("redis operation failed during rate limit check: %w", err)
	}

	// Ключа нет или окно истекло - начинаем новое окно. TTL ставится только
	// здесь, при создании ключа, чтобы окно закрывалось независимо от трафика
	if err == redis.Nil {
		if err := r.client.Set(ctx, redisKey, 1, window).Err(); err != nil {
			r.logger.Error("Failed to set rate limit count", zap.Error(err), zap.String("key", key))
			return true, fmt.Errorf("redis operation failed during rate limit check: %w", err)
		}
		return true, nil
	}

	// Превышение лимита не трогает ни счетчик, ни TTL
	if count >= limit {
		r.logger.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", count),
			zap.Int("limit", limit),
		)
		metrics.RateLimitRejectionsTotal.WithLabelValues(scopeOf(key)).Inc()
		r.mu.Lock()
		r.rejections[scopeOf(key)]++
		r.mu.Unlock()
		return false, nil
	}

	if err := r.client.Incr(ctx, redisKey).Err(); err != nil {
		r.logger.Error("Failed to increment rate limit count", zap.Error(err), zap.String("key", key))
		return true, fmt.Errorf("redis operation failed during rate limit check: %w", err)
	}
	return true, nil
}

func (r *redisRateLimiter) Reset(ctx context.Context, key string) error {
	if !r.cfg.Enabled {
		return nil
	}
	if err := r.client.Del(ctx, fmt.Sprintf("rate:%s", key)).Err(); err != nil {
		r.logger.Error("Redis DEL for rate limit reset failed", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

// RejectionCounts returns a copy of per-scope rejection counters.
func (r *redisRateLimiter) RejectionCounts() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.rejections))
	for k, v := range r.rejections {
		out[k] = v
	}
	return out
}

// scopeOf извлекает класс действия из ключа "scope:subject"
func scopeOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// BucketLimiter ограничивает локальный поток событий одного соединения.
// Соединение прибито к процессу, поэтому общий Redis-счетчик здесь ничего
// не добавляет, а лишний сетевой вызов на каждый входящий кадр - именно та
// нагрузка на кэш, от которой governor и защищает.
type BucketLimiter struct {
	limiter *rate.Limiter
}

// NewBucketLimiter создает token bucket на limit событий за window
func NewBucketLimiter(limit int, window time.Duration, burst int) *BucketLimiter {
	if burst <= 0 {
		burst = limit
	}
	interval := rate.Every(window / time.Duration(limit))
	return &BucketLimiter{limiter: rate.NewLimiter(interval, burst)}
}

// Allow сообщает, проходит ли событие под локальный лимит
func (b *BucketLimiter) Allow() bool {
	return b.limiter.Allow()
}
