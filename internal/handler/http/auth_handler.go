package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/service"
)

// AuthHandler обрабатывает HTTP запросы жизненного цикла токенов
type AuthHandler struct {
	logger            *zap.Logger
	tokenService      *service.TokenService
	bruteForceService *service.BruteForceService
}

// NewAuthHandler создает новый AuthHandler
func NewAuthHandler(
	logger *zap.Logger,
	tokenService *service.TokenService,
	bruteForceService *service.BruteForceService,
) *AuthHandler {
	return &AuthHandler{
		logger:            logger.Named("auth_handler"),
		tokenService:      tokenService,
		bruteForceService: bruteForceService,
	}
}

// IssueTokenRequest - тело запроса на выпуск пары токенов. Субъект уже
// аутентифицирован вышестоящим сервисом, здесь только выпуск сессии.
type IssueTokenRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

// RefreshTokenRequest - тело запроса на ротацию пары
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ValidateTokenRequest - тело запроса на проверку access токена
type ValidateTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// LogoutRequest - тело запроса на завершение сессии
type LogoutRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// LogoutAllRequest - тело запроса на завершение всех сессий пользователя
type LogoutAllRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ReportAttemptRequest - тело запроса о неудачной проверке пароля на стороне
// вызывающего сервиса. Сам пароль сюда не попадает, только факт неудачи.
type ReportAttemptRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// IssueToken выпускает новую пару токенов для субъекта.
// POST /api/v1/auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid request payload", "invalid_payload", h.logger)
		return
	}

	// Счетчик неудачных попыток ведется по паре субъект + адрес клиента,
	// чтобы перебор идентификаторов с одного адреса не размазывался по ключам
	guardKey := fmt.Sprintf("%s:%s", req.UserID, c.ClientIP())

	decision := h.bruteForceService.Check(c.Request.Context(), guardKey)
	if !decision.Allowed {
		c.Header("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
		RespondWithAppError(c, toAppError(domainErrors.ErrTooManyAttempts), h.logger)
		return
	}

	result, err := h.tokenService.Issue(c.Request.Context(), req.UserID, models.SessionMetadata{
		DeviceInfo: req.DeviceInfo,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, domainErrors.ErrInvalidSubject), errors.Is(err, domainErrors.ErrSubjectNotFound):
			h.bruteForceService.RecordFailure(c.Request.Context(), guardKey)
			RespondWithError(c, http.StatusUnauthorized, "Unknown subject", "unknown_subject", h.logger)
		case errors.Is(err, domainErrors.ErrSessionPersistFailed):
			RespondWithError(c, http.StatusServiceUnavailable, "Session store unavailable", "store_unavailable", h.logger)
		default:
			RespondWithError(c, http.StatusInternalServerError, "Failed to issue tokens", "internal_error", h.logger)
		}
		return
	}

	h.bruteForceService.Clear(c.Request.Context(), guardKey)

	h.logger.Info("Token pair issued",
		zap.String("user_id", result.UserID),
		zap.String("session_id", result.SessionID),
		zap.Bool("cache_degraded", result.CacheDegraded),
	)
	RespondWithData(c, http.StatusCreated, result)
}

// ReportAttempt фиксирует неудачную проверку пароля, выполненную вызывающим
// сервисом. Ключ счетчика тот же, что и при выпуске токенов, поэтому провалы
// на стороне коллаборатора и неизвестные субъекты складываются в один лимит.
// POST /api/v1/auth/attempts
func (h *AuthHandler) ReportAttempt(c *gin.Context) {
	var req ReportAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid request payload", "invalid_payload", h.logger)
		return
	}

	guardKey := fmt.Sprintf("%s:%s", req.UserID, c.ClientIP())
	h.bruteForceService.RecordFailure(c.Request.Context(), guardKey)

	decision := h.bruteForceService.Check(c.Request.Context(), guardKey)
	if !decision.Allowed {
		c.Header("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
		RespondWithAppError(c, toAppError(domainErrors.ErrTooManyAttempts), h.logger)
		return
	}

	RespondWithMessage(c, http.StatusOK, "Attempt recorded")
}

// RefreshToken ротирует пару по refresh токену.
// POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid request payload", "invalid_payload", h.logger)
		return
	}

	result, err := h.tokenService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		RespondWithAppError(c, toAppError(err), h.logger)
		return
	}

	RespondWithData(c, http.StatusOK, result)
}

// ValidateToken проверяет access токен и возвращает результат с причиной.
// Ответ всегда 200: отказ в валидации - это не ошибка транспорта.
// POST /api/v1/auth/validate
func (h *AuthHandler) ValidateToken(c *gin.Context) {
	var req ValidateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid request payload", "invalid_payload", h.logger)
		return
	}

	result := h.tokenService.ValidateAccess(c.Request.Context(), req.Token)
	RespondWithData(c, http.StatusOK, result)
}

// Logout завершает сессию предъявленного access токена.
// Выход всегда успешен, даже если токен уже истек или сессия не найдена.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid request payload", "invalid_payload", h.logger)
		return
	}

	h.tokenService.Logout(c.Request.Context(), req.AccessToken)
	RespondWithMessage(c, http.StatusOK, "Logged out")
}

// LogoutAll завершает все сессии пользователя.
// POST /api/v1/auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	var req LogoutAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "Invalid request payload", "invalid_payload", h.logger)
		return
	}

	h.tokenService.LogoutAll(c.Request.Context(), req.UserID)
	RespondWithMessage(c, http.StatusOK, "All sessions terminated")
}
