package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/repository"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/metrics"
)

// Decision - результат проверки идентификатора перед аутентификацией
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// BruteForceService защищает выдачу токенов от перебора. Проверка стоит
// ПЕРЕД дорогой работой по верификации учетных данных, а не после нее.
type BruteForceService struct {
	attempts repository.AttemptCache
	cfg      config.BruteForceConfig
	logger   *zap.Logger
}

// NewBruteForceService создает новый экземпляр BruteForceService
func NewBruteForceService(attempts repository.AttemptCache, cfg config.BruteForceConfig, logger *zap.Logger) *BruteForceService {
	return &BruteForceService{
		attempts: attempts,
		cfg:      cfg,
		logger:   logger,
	}
}

// Check сообщает, допущен ли идентификатор к попытке аутентификации.
// При достигнутом пороге возвращается остаток окна как подсказка повтора.
// Сбой кэша не блокирует пользователей: проверка fail open со счетчиком.
func (s *BruteForceService) Check(ctx context.Context, identifier string) Decision {
	if !s.cfg.Enabled {
		return Decision{Allowed: true}
	}

	count, err := s.attempts.Get(ctx, identifier)
	if err != nil {
		s.logger.Error("Brute force check failed open", zap.Error(err), zap.String("identifier", identifier))
		metrics.BruteForceCheckErrorsTotal.Inc()
		return Decision{Allowed: true}
	}

	if count >= int64(s.cfg.MaxAttempts) {
		retryAfter, err := s.attempts.TTL(ctx, identifier)
		if err != nil {
			retryAfter = s.cfg.Window
		}
		s.logger.Warn("Authentication attempt blocked",
			zap.String("identifier", identifier),
			zap.Int64("failed_attempts", count),
		)
		metrics.BruteForceBlockedTotal.Inc()
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	return Decision{Allowed: true}
}

// RecordFailure отмечает неудачную попытку аутентификации
func (s *BruteForceService) RecordFailure(ctx context.Context, identifier string) {
	if !s.cfg.Enabled {
		return
	}
	if _, err := s.attempts.Increment(ctx, identifier, s.cfg.Window); err != nil {
		s.logger.Error("Failed to record failed attempt", zap.Error(err), zap.String("identifier", identifier))
	}
}

// Clear сбрасывает счетчик после успешной аутентификации
func (s *BruteForceService) Clear(ctx context.Context, identifier string) {
	if !s.cfg.Enabled {
		return
	}
	if err := s.attempts.Delete(ctx, identifier); err != nil {
		s.logger.Error("Failed to clear attempt counter", zap.Error(err), zap.String("identifier", identifier))
	}
}
