package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/interfaces"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/repository"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/governor"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/infrastructure/security"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/backoff"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/metrics"
)

// TokenService - единственный арбитр валидности предъявленной идентичности.
// Выпускает, проверяет, обновляет и отзывает пары токенов.
type TokenService struct {
	jwtManager   *security.JWTManager
	sessionRepo  repository.SessionRepository
	sessionCache repository.SessionCache
	revocations  repository.RevocationCache
	identity     interfaces.IdentityProvider
	limiter      governor.RateLimiter
	cacheBreaker *governor.CircuitBreaker
	retry        backoff.Policy
	rateCfg      config.RateLimitConfig
	logger       *zap.Logger
}

// NewTokenService создает новый экземпляр TokenService
func NewTokenService(
	jwtManager *security.JWTManager,
	sessionRepo repository.SessionRepository,
	sessionCache repository.SessionCache,
	revocations repository.RevocationCache,
	identity interfaces.IdentityProvider,
	limiter governor.RateLimiter,
	cacheBreaker *governor.CircuitBreaker,
	retry backoff.Policy,
	rateCfg config.RateLimitConfig,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		jwtManager:   jwtManager,
		sessionRepo:  sessionRepo,
		sessionCache: sessionCache,
		revocations:  revocations,
		identity:     identity,
		limiter:      limiter,
		cacheBreaker: cacheBreaker,
		retry:        retry,
		rateCfg:      rateCfg,
		logger:       logger,
	}
}

// Issue выпускает новую пару токенов и durable сессию для пользователя.
// Зеркалирование сессии в кэш - best-effort: его сбой деградирует
// низколатентный путь, но не отменяет выпуск.
func (s *TokenService) Issue(ctx context.Context, userID string, meta models.SessionMetadata) (*models.IssueResult, error) {
	uid, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil || uid == uuid.Nil {
		return nil, domainErrors.ErrInvalidSubject
	}

	if _, err := s.identity.GetUserByID(ctx, uid); err != nil {
		if errors.Is(err, domainErrors.ErrUserNotFound) {
			return nil, domainErrors.ErrSubjectNotFound
		}
		s.logger.Error("Failed to resolve subject", zap.Error(err), zap.String("user_id", uid.String()))
		return nil, fmt.Errorf("%w: identity lookup: %v", domainErrors.ErrDependencyUnavailable, err)
	}

	sessionID := uuid.New()

	accessToken, accessClaims, err := s.jwtManager.Generate(models.AccessToken, uid.String(), sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, refreshClaims, err := s.jwtManager.Generate(models.RefreshToken, uid.String(), sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	accessTokenID, err := uuid.Parse(accessClaims.ID)
	if err != nil {
		return nil, fmt.Errorf("unexpected access token id: %w", err)
	}
	refreshTokenID, err := uuid.Parse(refreshClaims.ID)
	if err != nil {
		return nil, fmt.Errorf("unexpected refresh token id: %w", err)
	}

	session := &models.Session{
		ID:             sessionID,
		UserID:         uid,
		AccessTokenID:  accessTokenID,
		RefreshTokenID: refreshTokenID,
		DeviceInfo:     meta.DeviceInfo,
		IPAddress:      meta.IPAddress,
		ExpiresAt:      refreshClaims.ExpiresAt.Time,
		CreatedAt:      refreshClaims.IssuedAt.Time,
	}

	if err := s.retry.Do(ctx, func() error {
		return s.sessionRepo.Create(ctx, session)
	}); err != nil {
		s.logger.Error("Failed to persist session", zap.Error(err), zap.String("session_id", sessionID.String()))
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrSessionPersistFailed, err)
	}

	result := &models.IssueResult{
		Pair: models.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    accessClaims.ExpiresAt.Time,
			TokenType:    "Bearer",
		},
		SessionID: sessionID.String(),
		UserID:    uid.String(),
	}

	if err := s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
		return s.sessionCache.Set(ctx, session)
	}); err != nil {
		s.logger.Warn("Session cache mirror failed, fast path degraded",
			zap.Error(fmt.Errorf("%w: %v", domainErrors.ErrSessionCacheFailed, err)),
			zap.String("session_id", sessionID.String()))
		metrics.SessionCacheDegradedTotal.Inc()
		result.CacheDegraded = true
	}

	metrics.TokenIssuedTotal.WithLabelValues("issue").Inc()
	return result, nil
}

// ValidateAccess проверяет access токен и возвращает результат как данные.
// Неоднозначный сбой зависимости никогда не превращается в "valid":
// после исчерпания повторов результат - fail closed.
func (s *TokenService) ValidateAccess(ctx context.Context, tokenString string) *models.ValidationResult {
	result := s.validateAccess(ctx, tokenString)
	if result.Valid {
		metrics.TokenValidationsTotal.WithLabelValues("valid").Inc()
	} else {
		metrics.TokenValidationsTotal.WithLabelValues(string(result.Reason)).Inc()
	}
	return result
}

func (s *TokenService) validateAccess(ctx context.Context, tokenString string) *models.ValidationResult {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" || strings.Count(tokenString, ".") != 2 {
		return &models.ValidationResult{Valid: false, Reason: models.ReasonInvalidFormat}
	}

	claims, err := s.jwtManager.Parse(tokenString)
	if err != nil {
		if errors.Is(err, domainErrors.ErrExpiredToken) {
			return &models.ValidationResult{Valid: false, Reason: models.ReasonExpired}
		}
		return &models.ValidationResult{Valid: false, Reason: models.ReasonMalformed}
	}

	if claims.TokenType != string(models.AccessToken) {
		return &models.ValidationResult{Valid: false, Reason: models.ReasonWrongTokenType}
	}

	revoked, err := s.isRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("Revocation check failed after retries", zap.Error(err), zap.String("token_id", claims.ID))
		return &models.ValidationResult{Valid: false, Reason: models.ReasonDependencyUnavailable}
	}
	if revoked {
		return &models.ValidationResult{Valid: false, Reason: models.ReasonRevoked}
	}

	session, err := s.lookupSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSessionNotFound) {
			return &models.ValidationResult{Valid: false, Reason: models.ReasonSessionNotFound}
		}
		s.logger.Error("Session lookup failed after retries", zap.Error(err), zap.String("session_id", claims.SessionID))
		return &models.ValidationResult{Valid: false, Reason: models.ReasonDependencyUnavailable}
	}
	if session.IsExpired(time.Now()) {
		return &models.ValidationResult{Valid: false, Reason: models.ReasonSessionNotFound}
	}

	allowed, err := s.limiter.Allow(ctx,
		fmt.Sprintf("validate:%s", claims.ID),
		s.rateCfg.ValidationsPerToken,
		s.rateCfg.ValidationsWindow,
	)
	if err != nil {
		// Сбой лимитера не делает валидный токен невалидным; отказ только
		// при явном превышении
		s.logger.Warn("Validation rate limiter unavailable", zap.Error(err), zap.String("token_id", claims.ID))
	}
	if !allowed && err == nil {
		return &models.ValidationResult{Valid: false, Reason: models.ReasonRateLimited}
	}

	return &models.ValidationResult{Valid: true, Claims: claims}
}

// Refresh обновляет пару токенов по refresh токену с ротацией: запись об
// отзыве старого refresh jti пишется ДО удаления старой сессии и выпуска
// новой пары, поэтому параллельная валидация старого токена видит либо
// состояние до ротации, либо уже отозванный токен.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*models.IssueResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, domainErrors.ErrInvalidToken
	}

	claims, err := s.jwtManager.Parse(refreshToken)
	if err != nil {
		if errors.Is(err, domainErrors.ErrExpiredToken) {
			return nil, domainErrors.ErrExpiredToken
		}
		return nil, domainErrors.ErrInvalidToken
	}
	if claims.TokenType != string(models.RefreshToken) {
		return nil, domainErrors.ErrWrongTokenType
	}

	revoked, err := s.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: revocation check: %v", domainErrors.ErrDependencyUnavailable, err)
	}
	if revoked {
		return nil, domainErrors.ErrRevokedToken
	}

	session, err := s.lookupSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSessionNotFound) {
			// Отсутствующая строка неотличима для клиента от истекшей:
			// обе означают, что сессии больше нет
			return nil, domainErrors.ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: session lookup: %v", domainErrors.ErrDependencyUnavailable, err)
	}

	if session.IsExpired(time.Now()) {
		// Ленивая зачистка истекшей строки; удаление идемпотентно
		if err := s.deleteSession(ctx, session); err != nil {
			s.logger.Warn("Failed to delete stale session", zap.Error(err), zap.String("session_id", session.ID.String()))
		}
		return nil, domainErrors.ErrSessionExpired
	}

	if session.RefreshTokenID.String() != claims.ID {
		// Токен не является текущим refresh токеном этой сессии
		return nil, domainErrors.ErrInvalidToken
	}

	// Ротация: сначала запись об отзыве старого refresh токена
	remaining := time.Until(claims.ExpiresAt.Time)
	if err := s.retry.Do(ctx, func() error {
		return s.revocations.Revoke(ctx, claims.ID, remaining, "rotated")
	}); err != nil {
		s.logger.Error("Failed to revoke old refresh token during rotation",
			zap.Error(err), zap.String("token_id", claims.ID))
		return nil, fmt.Errorf("%w: revocation write: %v", domainErrors.ErrDependencyUnavailable, err)
	}

	if err := s.deleteSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: session delete: %v", domainErrors.ErrDependencyUnavailable, err)
	}

	result, err := s.Issue(ctx, session.UserID.String(), models.SessionMetadata{
		DeviceInfo: session.DeviceInfo,
		IPAddress:  session.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	metrics.TokenIssuedTotal.WithLabelValues("refresh").Inc()
	return result, nil
}

// Logout отзывает сессию по access токену. Best-effort: некорректный или
// истекший токен не приводит к ошибке, запись об отзыве пишется всегда,
// когда из токена извлекается jti.
func (s *TokenService) Logout(ctx context.Context, accessToken string) {
	claims, err := s.jwtManager.ParseAllowExpired(strings.TrimSpace(accessToken))
	if err != nil {
		s.logger.Debug("Logout with unparseable token", zap.Error(err))
		return
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if err := s.revocations.Revoke(ctx, claims.ID, remaining, "logout"); err != nil {
		s.logger.Warn("Failed to blacklist token on logout", zap.Error(err), zap.String("token_id", claims.ID))
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return
	}

	session, err := s.lookupSession(ctx, claims.SessionID)
	if err == nil {
		// Отзываем и парный refresh токен до конца жизни сессии
		refreshRemaining := time.Until(session.ExpiresAt)
		if err := s.revocations.Revoke(ctx, session.RefreshTokenID.String(), refreshRemaining, "logout"); err != nil {
			s.logger.Warn("Failed to blacklist refresh token on logout",
				zap.Error(err), zap.String("session_id", session.ID.String()))
		}
	}

	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to delete session on logout", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	if err := s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
		return s.sessionCache.Delete(ctx, sessionID)
	}); err != nil {
		s.logger.Warn("Failed to remove session mirror on logout", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// LogoutAll отзывает все сессии пользователя. Best-effort.
func (s *TokenService) LogoutAll(ctx context.Context, userID string) {
	uid, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return
	}

	sessions, err := s.sessionRepo.ListByUserID(ctx, uid)
	if err != nil {
		s.logger.Warn("Failed to list sessions for logout-all", zap.Error(err), zap.String("user_id", uid.String()))
	}
	for _, session := range sessions {
		remaining := time.Until(session.ExpiresAt)
		if err := s.revocations.Revoke(ctx, session.AccessTokenID.String(), remaining, "logout_all"); err != nil {
			s.logger.Warn("Failed to blacklist access token", zap.Error(err), zap.String("session_id", session.ID.String()))
		}
		if err := s.revocations.Revoke(ctx, session.RefreshTokenID.String(), remaining, "logout_all"); err != nil {
			s.logger.Warn("Failed to blacklist refresh token", zap.Error(err), zap.String("session_id", session.ID.String()))
		}
	}

	deleted, err := s.sessionRepo.DeleteByUserID(ctx, uid)
	if err != nil {
		s.logger.Warn("Failed to delete sessions for logout-all", zap.Error(err), zap.String("user_id", uid.String()))
	} else {
		s.logger.Info("Revoked all sessions for user",
			zap.String("user_id", uid.String()), zap.Int64("deleted_count", deleted))
	}

	if err := s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
		return s.sessionCache.DeleteByUserID(ctx, uid)
	}); err != nil {
		s.logger.Warn("Failed to remove session mirrors for logout-all", zap.Error(err), zap.String("user_id", uid.String()))
	}
}

// isRevoked проверяет черный список с повторами под circuit breaker
func (s *TokenService) isRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.retry.Do(ctx, func() error {
		return s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
			var innerErr error
			revoked, innerErr = s.revocations.IsRevoked(ctx, tokenID)
			return innerErr
		})
	})
	return revoked, err
}

// lookupSession подтверждает существование сессии, сначала по кэшу, затем
// по durable хранилищу. Промах или недоступность кэша не авторитетны -
// источником истины остается хранилище.
func (s *TokenService) lookupSession(ctx context.Context, sessionID string) (*models.Session, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, domainErrors.ErrSessionNotFound
	}

	var cached *models.Session
	cacheErr := s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		cached, innerErr = s.sessionCache.GetByID(ctx, id)
		return innerErr
	})
	if cacheErr == nil && cached != nil {
		return cached, nil
	}
	if cacheErr != nil && !errors.Is(cacheErr, domainErrors.ErrSessionNotFound) {
		metrics.SessionCacheDegradedTotal.Inc()
	}

	var session *models.Session
	if err := s.retry.Do(ctx, func() error {
		var innerErr error
		session, innerErr = s.sessionRepo.GetByID(ctx, id)
		if errors.Is(innerErr, domainErrors.ErrSessionNotFound) {
			// Отсутствие строки - ответ, а не сбой; повторы не нужны
			session = nil
			return nil
		}
		return innerErr
	}); err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domainErrors.ErrSessionNotFound
	}
	return session, nil
}

// deleteSession удаляет строку сессии и ее зеркало в кэше
func (s *TokenService) deleteSession(ctx context.Context, session *models.Session) error {
	if err := s.retry.Do(ctx, func() error {
		return s.sessionRepo.Delete(ctx, session.ID)
	}); err != nil {
		return err
	}
	if err := s.cacheBreaker.Do(ctx, func(ctx context.Context) error {
		return s.sessionCache.Delete(ctx, session.ID)
	}); err != nil {
		s.logger.Warn("Failed to remove session mirror", zap.Error(err), zap.String("session_id", session.ID.String()))
	}
	return nil
}
