package events

import (
	"sync"

	"go.uber.org/zap"
)

// Handler обрабатывает одно событие жизненного цикла
type Handler func(Event)

// Bus - внутрипроцессная шина событий. Доменный слой подписывается, чтобы
// раздавать свои уведомления (счетчики непрочитанного и т.п.), но не
// мутирует состояние соединений напрямую.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *zap.Logger
}

// NewBus создает новую шину событий
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe регистрирует обработчик для всех событий
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish доставляет событие всем подписчикам. Паника одного подписчика
// не должна валить издателя.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked",
						zap.String("event_type", string(event.EventType())),
						zap.Any("panic", r),
					)
				}
			}()
			h(event)
		}()
	}
}
