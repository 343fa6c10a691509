package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
)

// IdentityProvider - внешний identity слой. Сервис сессий не владеет
// пользователями и не проверяет пароли; он только резолвит субъекта.
type IdentityProvider interface {
	// GetUserByID возвращает errors.ErrUserNotFound, если пользователя нет
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}
