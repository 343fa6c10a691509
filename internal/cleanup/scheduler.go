package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/metrics"
)

// TypingSweeper убирает истекшие отметки "печатает"
type TypingSweeper interface {
	SweepTyping(now time.Time) int
}

// ConnectionPruner отключает соединения без признаков жизни
type ConnectionPruner interface {
	PruneStale(threshold time.Duration) int
}

// SessionReaper удаляет истекшие сессии из долговременного хранилища
type SessionReaper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Stats - накопленные счетчики зачистки с момента старта
type Stats struct {
	TypingReclaimed      uint64 `json:"typing_reclaimed"`
	ConnectionsReclaimed uint64 `json:"connections_reclaimed"`
	SessionsReclaimed    uint64 `json:"sessions_reclaimed"`
	SweepsCompleted      uint64 `json:"sweeps_completed"`
}

// Scheduler периодически выполняет фоновую зачистку: typing отметки и
// мертвые соединения каждый тик, истекшие сессии - реже, отдельным
// интервалом. Ошибка одного прохода не останавливает планировщик.
type Scheduler struct {
	cfg    config.CleanupConfig
	gwCfg  config.GatewayConfig
	typing TypingSweeper
	pruner ConnectionPruner
	reaper SessionReaper
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	stats     Stats
	lastReap  time.Time
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// NewScheduler создает планировщик зачистки
func NewScheduler(
	cfg config.CleanupConfig,
	gwCfg config.GatewayConfig,
	typing TypingSweeper,
	pruner ConnectionPruner,
	reaper SessionReaper,
	clk clock.Clock,
	logger *zap.Logger,
) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		cfg:       cfg,
		gwCfg:     gwCfg,
		typing:    typing,
		pruner:    pruner,
		reaper:    reaper,
		clock:     clk,
		logger:    logger,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start запускает цикл зачистки в отдельной горутине
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.lastReap = s.clock.Now()
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop останавливает цикл и дожидается завершения текущего прохода
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stoppedCh)

	ticker := s.clock.Ticker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("Cleanup scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("session_sweep", s.cfg.SessionSweep),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Cleanup scheduler stopped", zap.Error(ctx.Err()))
			return
		case <-s.stopCh:
			s.logger.Info("Cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход зачистки. Экспортирован для вызова из
// тестов и admin introspection.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now()

	typingReclaimed := s.typing.SweepTyping(now)
	if typingReclaimed > 0 {
		metrics.CleanupReclaimedTotal.WithLabelValues("typing").Add(float64(typingReclaimed))
		s.logger.Debug("Swept expired typing indicators", zap.Int("count", typingReclaimed))
	}

	pruned := s.pruner.PruneStale(s.gwCfg.LivenessThreshold)
	if pruned > 0 {
		metrics.CleanupReclaimedTotal.WithLabelValues("connection").Add(float64(pruned))
		s.logger.Info("Pruned stale connections", zap.Int("count", pruned))
	}

	var sessionsReclaimed int64
	s.mu.Lock()
	due := now.Sub(s.lastReap) >= s.cfg.SessionSweep
	if due {
		s.lastReap = now
	}
	s.mu.Unlock()

	if due {
		reaped, err := s.reaper.DeleteExpired(ctx)
		if err != nil {
			s.logger.Error("Failed to delete expired sessions", zap.Error(err))
		} else {
			sessionsReclaimed = reaped
			if reaped > 0 {
				metrics.CleanupReclaimedTotal.WithLabelValues("session").Add(float64(reaped))
				s.logger.Info("Reaped expired sessions", zap.Int64("count", reaped))
			}
		}
	}

	s.mu.Lock()
	s.stats.TypingReclaimed += uint64(typingReclaimed)
	s.stats.ConnectionsReclaimed += uint64(pruned)
	s.stats.SessionsReclaimed += uint64(sessionsReclaimed)
	s.stats.SweepsCompleted++
	s.mu.Unlock()
}

// Stats возвращает снимок накопленных счетчиков
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
