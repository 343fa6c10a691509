package errors

import (
	"errors"
	"fmt"
)

// Определение типов ошибок
var (
	// Общие ошибки
	ErrInternal   = errors.New("internal error")
	ErrNotFound   = errors.New("resource not found")
	ErrForbidden  = errors.New("access denied")

	// Ошибки выдачи токенов
	ErrInvalidSubject       = errors.New("invalid subject identifier")
	ErrSubjectNotFound      = errors.New("subject not found")
	ErrSessionPersistFailed = errors.New("failed to persist session")
	ErrSessionCacheFailed   = errors.New("failed to mirror session into cache")

	// Ошибки валидации токенов
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrRevokedToken   = errors.New("token has been revoked")
	ErrWrongTokenType = errors.New("wrong token type")

	// Ошибки сессий
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")

	// Ошибки пользователей
	ErrUserNotFound = errors.New("user not found")

	// Ошибки защиты
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrTooManyAttempts  = errors.New("too many failed attempts")
	ErrChannelFull      = errors.New("channel is full")

	// Ошибки зависимостей
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrBreakerOpen           = errors.New("circuit breaker is open")
)

// AppError представляет ошибку приложения с дополнительной информацией
type AppError struct {
	Err        error  // Оригинальная ошибка
	Message    string // Сообщение для пользователя
	StatusCode int    // HTTP статус-код
	Code       string // Код ошибки для API
}

// Error возвращает строковое представление ошибки
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap возвращает оригинальную ошибку
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError создает новую ошибку приложения
func NewAppError(err error, message string, statusCode int, code string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
		Code:       code,
	}
}

// IsNotFound проверяет, является ли ошибка ошибкой "не найдено"
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSubjectNotFound)
}

// IsUnauthorized проверяет, является ли ошибка ошибкой "не авторизован"
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrRevokedToken) ||
		errors.Is(err, ErrWrongTokenType) ||
		errors.Is(err, ErrSessionExpired)
}

// IsRateLimited проверяет, является ли ошибка следствием сработавшей защиты.
// Такие ошибки - это система, работающая как задумано, а не сбой.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTooManyAttempts)
}

// IsUnavailable проверяет, исчерпаны ли повторы обращения к зависимости
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrDependencyUnavailable) ||
		errors.Is(err, ErrBreakerOpen)
}
