package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики для мониторинга сервиса
var (
	// TokenIssuedTotal счетчик выданных пар токенов
	TokenIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_service_tokens_issued_total",
		Help: "The total number of issued token pairs",
	}, []string{"operation"})

	// TokenValidationsTotal счетчик валидаций по результату
	TokenValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_service_token_validations_total",
		Help: "The total number of access token validations by outcome",
	}, []string{"reason"})

	// SessionCacheDegradedTotal счетчик деградаций быстрого пути
	SessionCacheDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_service_cache_degraded_total",
		Help: "The total number of operations that fell back to the durable store",
	})

	// BruteForceBlockedTotal счетчик заблокированных попыток
	BruteForceBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_service_bruteforce_blocked_total",
		Help: "The total number of authentication attempts blocked by the brute force guard",
	})

	// BruteForceCheckErrorsTotal счетчик ошибок Redis при проверке счетчиков
	BruteForceCheckErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_service_bruteforce_check_errors_total",
		Help: "The total number of brute force checks that failed open due to cache errors",
	})

	// RateLimitRejectionsTotal счетчик отклоненных по лимиту событий
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_service_rate_limit_rejections_total",
		Help: "The total number of rate limited actions by scope",
	}, []string{"scope"})

	// BreakerStateGauge текущее состояние circuit breaker по зависимости
	// (0 - closed, 1 - open, 2 - half-open)
	BreakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_service_circuit_breaker_state",
		Help: "The current circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
	}, []string{"dependency"})

	// ActiveConnectionsGauge количество живых realtime соединений
	ActiveConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_service_active_connections",
		Help: "The current number of live realtime connections",
	})

	// CleanupReclaimedTotal счетчик сущностей, убранных зачисткой
	CleanupReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_service_cleanup_reclaimed_total",
		Help: "The total number of ephemeral entries reclaimed by the cleanup sweep",
	}, []string{"kind"})
)
