package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy - единая политика повторов для обращений к зависимостям.
// Раньше повторы были размазаны по вызывающим местам; политика
// внедряется в сервисы как одна переиспользуемая зависимость.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter в диапазоне [0,1): доля задержки, добавляемая случайно
	Jitter float64
}

// Default возвращает политику с разумными значениями по умолчанию
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      0.2,
	}
}

// Do выполняет op с экспоненциальными повторами до MaxAttempts.
// Отмена контекста прекращает повторы немедленно.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sleep := delay
		if p.Jitter > 0 {
			sleep += time.Duration(rand.Float64() * p.Jitter * float64(delay))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
