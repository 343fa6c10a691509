package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType определяет тип JWT токена
type TokenType string

const (
	// AccessToken используется для доступа к защищенным ресурсам
	AccessToken TokenType = "access"
	// RefreshToken используется только для выпуска новой пары токенов
	RefreshToken TokenType = "refresh"
)

// Claims представляет полезную нагрузку подписанного токена.
// Полезная нагрузка фиксированная и валидируется при декодировании,
// а не принимается на веру.
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair представляет пару access/refresh токенов, выданную клиенту
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// IssueResult - результат выпуска пары токенов.
// CacheDegraded выставляется, когда сессия сохранена durable, но
// зеркалирование в быстрый кэш не удалось: низколатентный путь деградировал.
type IssueResult struct {
	Pair          TokenPair `json:"pair"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	CacheDegraded bool      `json:"cache_degraded,omitempty"`
}

// ValidationReason - стабильный код причины отказа в валидации
type ValidationReason string

const (
	ReasonInvalidFormat         ValidationReason = "invalid_format"
	ReasonMalformed             ValidationReason = "malformed"
	ReasonExpired               ValidationReason = "expired"
	ReasonWrongTokenType        ValidationReason = "wrong_token_type"
	ReasonRevoked               ValidationReason = "revoked"
	ReasonSessionNotFound       ValidationReason = "session_not_found"
	ReasonRateLimited           ValidationReason = "rate_limited"
	ReasonDependencyUnavailable ValidationReason = "dependency_unavailable"
)

// ValidationResult возвращается как данные: вызывающая сторона ветвится
// по Reason, а не разбирает исключения.
type ValidationResult struct {
	Valid  bool             `json:"valid"`
	Reason ValidationReason `json:"reason,omitempty"`
	Claims *Claims          `json:"claims,omitempty"`
}
