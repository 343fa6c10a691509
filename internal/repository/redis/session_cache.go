package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
)

// SessionCache представляет зеркало сессий в Redis
type SessionCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSessionCache создает новый экземпляр SessionCache
func NewSessionCache(client *redis.Client, logger *zap.Logger) *SessionCache {
	return &SessionCache{
		client: client,
		logger: logger,
	}
}

// Set сохраняет сессию в кэш с TTL до истечения самой сессии
func (c *SessionCache) Set(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		c.logger.Error("Failed to marshal session data", zap.Error(err), zap.String("session_id", session.ID.String()))
		return err
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	key := fmt.Sprintf("session:id:%s", session.ID.String())
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Error("Failed to set session in cache", zap.Error(err), zap.String("session_id", session.ID.String()))
		return err
	}

	// Индекс по пользователю для logout-all
	userKey := fmt.Sprintf("user:%s:sessions", session.UserID.String())
	if err := c.client.SAdd(ctx, userKey, session.ID.String()).Err(); err != nil {
		c.logger.Error("Failed to add session to user index",
			zap.Error(err),
			zap.String("user_id", session.UserID.String()),
			zap.String("session_id", session.ID.String()),
		)
		return err
	}
	if err := c.client.Expire(ctx, userKey, ttl).Err(); err != nil {
		c.logger.Error("Failed to set TTL for user sessions index",
			zap.Error(err),
			zap.String("user_id", session.UserID.String()),
		)
	}

	return nil
}

// GetByID получает сессию по ID из кэша
func (c *SessionCache) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	key := fmt.Sprintf("session:id:%s", id.String())
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domainErrors.ErrSessionNotFound
		}
		c.logger.Error("Failed to get session from cache", zap.Error(err), zap.String("session_id", id.String()))
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		c.logger.Error("Failed to unmarshal session data", zap.Error(err), zap.String("session_id", id.String()))
		return nil, err
	}
	return &session, nil
}

// Delete удаляет сессию из кэша
func (c *SessionCache) Delete(ctx context.Context, id uuid.UUID) error {
	key := fmt.Sprintf("session:id:%s", id.String())
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Error("Failed to delete session from cache", zap.Error(err), zap.String("session_id", id.String()))
		return err
	}
	return nil
}

// DeleteByUserID удаляет все зеркала сессий пользователя
func (c *SessionCache) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	userKey := fmt.Sprintf("user:%s:sessions", userID.String())
	sessionIDs, err := c.client.SMembers(ctx, userKey).Result()
	if err != nil {
		c.logger.Error("Failed to get user sessions from cache", zap.Error(err), zap.String("user_id", userID.String()))
		return err
	}

	for _, sessionID := range sessionIDs {
		key := fmt.Sprintf("session:id:%s", sessionID)
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Error("Failed to delete session from cache", zap.Error(err), zap.String("session_id", sessionID))
		}
	}

	if err := c.client.Del(ctx, userKey).Err(); err != nil {
		c.logger.Error("Failed to delete user sessions index", zap.Error(err), zap.String("user_id", userID.String()))
		return err
	}
	return nil
}
