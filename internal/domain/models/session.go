package models

import (
	"time"

	"github.com/google/uuid"
)

// Session представляет durable запись активного входа пользователя.
// Ровно одна строка на активный логин; строка удаляется при logout,
// при ротации (заменяется новой) и при зачистке истекших сессий.
type Session struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	AccessTokenID  uuid.UUID `json:"access_token_id" db:"access_token_id"`
	RefreshTokenID uuid.UUID `json:"refresh_token_id" db:"refresh_token_id"`
	DeviceInfo     string    `json:"device_info,omitempty" db:"device_info"`
	IPAddress      string    `json:"ip_address,omitempty" db:"ip_address"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsExpired сообщает, истекла ли сессия на момент now
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionMetadata описывает клиента, создающего сессию
type SessionMetadata struct {
	DeviceInfo string `json:"device_info"`
	IPAddress  string `json:"ip_address"`
}
