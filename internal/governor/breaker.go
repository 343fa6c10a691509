package governor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/metrics"
)

// BreakerState - состояние circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSnapshot - снимок состояния для introspection
type BreakerSnapshot struct {
	Dependency   string       `json:"dependency"`
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	OpenedAt     time.Time    `json:"opened_at,omitempty"`
}

// CircuitBreaker защищает вызовы быстрого кэша. closed пропускает вызовы и
// считает подряд идущие сбои; open отбивает вызовы сразу на время cooldown;
// half-open пропускает ровно один пробный вызов: успех закрывает breaker,
// сбой снова открывает его с перезапуском cooldown.
type CircuitBreaker struct {
	dependency       string
	failureThreshold int
	cooldown         time.Duration
	callTimeout      time.Duration
	clock            clock.Clock
	logger           *zap.Logger

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	openedAt      time.Time
	trialInFlight bool

	benign []error
}

// NewCircuitBreaker создает breaker для именованной зависимости
func NewCircuitBreaker(dependency string, failureThreshold int, cooldown, callTimeout time.Duration, clk clock.Clock, logger *zap.Logger) *CircuitBreaker {
	if clk == nil {
		clk = clock.New()
	}
	b := &CircuitBreaker{
		dependency:       dependency,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		callTimeout:      callTimeout,
		clock:            clk,
		logger:           logger,
		state:            BreakerClosed,
	}
	metrics.BreakerStateGauge.WithLabelValues(dependency).Set(0)
	return b
}

// MarkBenign регистрирует sentinel-ошибки, которые являются отрицательным
// ответом зависимости, а не ее сбоем (например, промах кэша). Do возвращает
// их вызывающему, но для учета breaker считает вызов успешным.
func (b *CircuitBreaker) MarkBenign(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.benign = append(b.benign, errs...)
}

// Do выполняет op под защитой breaker. Когда breaker открыт, возвращается
// domainErrors.ErrBreakerOpen без обращения к зависимости. Превышение
// callTimeout считается сбоем зависимости.
func (b *CircuitBreaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if !b.admit() {
		return domainErrors.ErrBreakerOpen
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	err := op(callCtx)
	switch {
	case err == nil || b.isBenign(err):
		b.recordSuccess()
	case ctx.Err() != nil:
		// Отмена вызывающего контекста - не сбой зависимости
		b.settleTrial()
	default:
		b.recordFailure()
	}
	return err
}

func (b *CircuitBreaker) isBenign(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, benign := range b.benign {
		if errors.Is(err, benign) {
			return true
		}
	}
	return false
}

// admit решает, пропускать ли вызов, и переводит open -> half-open
// по истечении cooldown
func (b *CircuitBreaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.clock.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.trialInFlight = true
		return true
	case BreakerHalfOpen:
		// Один пробный вызов за раз
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.trialInFlight = false
		b.openedAt = b.clock.Now()
		b.setState(BreakerOpen)
		b.logger.Warn("Circuit breaker trial call failed, reopening",
			zap.String("dependency", b.dependency))
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.openedAt = b.clock.Now()
			b.setState(BreakerOpen)
			b.logger.Warn("Circuit breaker opened",
				zap.String("dependency", b.dependency),
				zap.Int("failure_count", b.failureCount))
		}
	}
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
		b.logger.Info("Circuit breaker trial call succeeded, closing",
			zap.String("dependency", b.dependency))
	}
	b.failureCount = 0
	b.setState(BreakerClosed)
}

// settleTrial снимает пометку пробного вызова, не меняя состояние;
// используется, когда вызов сорван отменой вызывающего контекста
func (b *CircuitBreaker) settleTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

func (b *CircuitBreaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	var v float64
	switch s {
	case BreakerOpen:
		v = 1
	case BreakerHalfOpen:
		v = 2
	}
	metrics.BreakerStateGauge.WithLabelValues(b.dependency).Set(v)
}

// State возвращает текущее состояние breaker
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot возвращает снимок для introspection
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Dependency:   b.dependency,
		State:        b.state,
		FailureCount: b.failureCount,
		OpenedAt:     b.openedAt,
	}
}
