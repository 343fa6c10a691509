package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
)

// ResponseError представляет структуру ошибки в ответе API
type ResponseError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RespondWithError отправляет ответ с ошибкой
func RespondWithError(c *gin.Context, statusCode int, message string, errorCode string, logger *zap.Logger) {
	logger.Error("API error response",
		zap.Int("status_code", statusCode),
		zap.String("error_message", message),
		zap.String("error_code", errorCode),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)

	c.JSON(statusCode, ResponseError{
		Error: message,
		Code:  errorCode,
	})
}

// RespondWithAppError отправляет ответ по AppError
func RespondWithAppError(c *gin.Context, appErr *domainErrors.AppError, logger *zap.Logger) {
	RespondWithError(c, appErr.StatusCode, appErr.Message, appErr.Code, logger)
}

// toAppError переводит ошибку сервисного слоя в AppError с HTTP статусом.
// Порядок веток важен: защита проверяется раньше остальных классов.
func toAppError(err error) *domainErrors.AppError {
	switch {
	case domainErrors.IsRateLimited(err):
		return domainErrors.NewAppError(err, "Too many requests", http.StatusTooManyRequests, "too_many_attempts")
	case domainErrors.IsUnauthorized(err):
		return domainErrors.NewAppError(err, "Invalid refresh token", http.StatusUnauthorized, "invalid_refresh_token")
	case domainErrors.IsNotFound(err):
		return domainErrors.NewAppError(err, "Session not found", http.StatusUnauthorized, "session_not_found")
	case domainErrors.IsUnavailable(err):
		return domainErrors.NewAppError(err, "Dependency unavailable", http.StatusServiceUnavailable, "dependency_unavailable")
	case errors.Is(err, domainErrors.ErrForbidden):
		return domainErrors.NewAppError(err, "Access denied", http.StatusForbidden, "forbidden")
	default:
		return domainErrors.NewAppError(fmt.Errorf("%w: %v", domainErrors.ErrInternal, err),
			"Internal server error", http.StatusInternalServerError, "internal_error")
	}
}

// RespondWithData отправляет успешный ответ только с данными
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// RespondWithMessage отправляет успешный ответ только с сообщением
func RespondWithMessage(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"message": message,
	})
}
