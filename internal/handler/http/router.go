package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/cleanup"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/gateway"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/governor"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/handler/http/middleware"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/service"
)

// SetupRouter настраивает маршрутизацию HTTP
func SetupRouter(
	tokenService *service.TokenService,
	bruteForceService *service.BruteForceService,
	hub *gateway.Hub,
	breakers []*governor.CircuitBreaker,
	scheduler *cleanup.Scheduler,
	limiter governor.RateLimiter,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	authHandler := NewAuthHandler(logger, tokenService, bruteForceService)
	adminHandler := NewAdminHandler(logger, hub, breakers, scheduler, limiter)

	// Маршруты для метрик и проверки работоспособности
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Realtime шлюз: handshake проверяет токен сам, вне middleware
	router.GET("/ws", gin.WrapF(hub.ServeWS))

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/token", authHandler.IssueToken)
			auth.POST("/attempts", authHandler.ReportAttempt)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/validate", authHandler.ValidateToken)
			auth.POST("/logout", authHandler.Logout)
			auth.POST("/logout-all", authHandler.LogoutAll)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/introspection", adminHandler.Introspection)
		}
	}

	return router
}
