package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
)

// SessionRepository - durable хранилище сессий (источник истины).
// Каждая операция - одна durable операция; удаление идемпотентно.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// Delete удаляет сессию; отсутствие строки не является ошибкой
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)
	// DeleteExpired удаляет истекшие сессии и возвращает их количество
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionCache зеркалирует сессии в быстрый кэш. Кэш не авторитетен:
// его отсутствие замедляет, но не ломает валидацию.
type SessionCache interface {
	Set(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

// RevocationCache - авторитетный список отозванных токенов по jti.
// Запись живет не дольше остаточного времени жизни самого токена.
type RevocationCache interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration, reason string) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// AttemptCache хранит счетчики неудачных попыток аутентификации
type AttemptCache interface {
	// Increment атомарно увеличивает счетчик и задает окно истечения,
	// возвращая новое значение
	Increment(ctx context.Context, identifier string, window time.Duration) (int64, error)
	Get(ctx context.Context, identifier string) (int64, error)
	// TTL возвращает остаток окна счетчика
	TTL(ctx context.Context, identifier string) (time.Duration, error)
	Delete(ctx context.Context, identifier string) error
}
