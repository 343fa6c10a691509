package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/cleanup"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/events"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/events/kafka"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/gateway"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/governor"
	httpHandler "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/handler/http"
	infraPostgres "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/infrastructure/database/postgres"
	infraRedis "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/infrastructure/database/redis"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/infrastructure/security"
	repoPostgres "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/repository/postgres"
	repoRedis "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/repository/redis"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/service"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/backoff"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/logger"
)

func main() {
	// Инициализация конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Инициализация логгера
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Server.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Применение миграций
	if cfg.Database.AutoMigrate {
		log.Info("Running database migrations")
		migrationURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, cfg.Database.SSLMode)
		m, err := migrate.New("file://migrations", migrationURL)
		if err != nil {
			log.Fatal("Failed to create migration instance", zap.Error(err))
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
		log.Info("Migrations applied successfully")
	}

	// Инициализация подключения к PostgreSQL
	dbPool, err := infraPostgres.NewDBPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize PostgreSQL connection pool", zap.Error(err))
	}
	defer dbPool.Close()

	// Инициализация подключения к Redis
	redisClient, err := infraRedis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to initialize Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	// Инициализация репозиториев
	sessionRepo := repoPostgres.NewSessionRepositoryPostgres(dbPool)
	userRepo := repoPostgres.NewUserRepositoryPostgres(dbPool)
	sessionCache := repoRedis.NewSessionCache(redisClient, log)
	revocationCache := repoRedis.NewRevocationCache(redisClient, log)
	attemptCache := repoRedis.NewAttemptCache(redisClient, log)

	// Инициализация защитных механизмов
	clk := clock.New()
	limiter := governor.NewRedisRateLimiter(redisClient, cfg.RateLimit, log)
	cacheBreaker := governor.NewCircuitBreaker("redis",
		cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, cfg.Breaker.CallTimeout, clk, log)
	// Промах кэша - отрицательный ответ, а не сбой Redis
	cacheBreaker.MarkBenign(domainErrors.ErrSessionNotFound)

	// Инициализация сервисов
	jwtManager := security.NewJWTManager(cfg.JWT)
	tokenService := service.NewTokenService(
		jwtManager,
		sessionRepo,
		sessionCache,
		revocationCache,
		userRepo,
		limiter,
		cacheBreaker,
		backoff.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      backoff.Default().Jitter,
		},
		cfg.RateLimit,
		log,
	)
	bruteForceService := service.NewBruteForceService(attemptCache, cfg.BruteForce, log)

	// Шина событий соединений; производитель Kafka зеркалирует события наружу
	bus := events.NewBus(log)
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		defer producer.Close()
		bus.Subscribe(func(event events.Event) {
			if err := producer.Publish(event); err != nil {
				log.Error("Failed to publish event to Kafka", zap.Error(err), zap.String("type", string(event.EventType())))
			}
		})
	}

	// Инициализация realtime шлюза
	hub := gateway.NewHub(cfg.Gateway, cfg.RateLimit, tokenService, limiter, bus, clk, log)

	// Инициализация фоновой зачистки
	scheduler := cleanup.NewScheduler(cfg.Cleanup, cfg.Gateway, hub, hub, sessionRepo, clk, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Инициализация HTTP сервера
	router := httpHandler.SetupRouter(
		tokenService,
		bruteForceService,
		hub,
		[]*governor.CircuitBreaker{cacheBreaker},
		scheduler,
		limiter,
		log,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("Service stopped")
}
