package events

import (
	"time"
)

// EventType - тип события жизненного цикла соединения
type EventType string

const (
	TypeConnected       EventType = "connection.connected"
	TypeDisconnected    EventType = "connection.disconnected"
	TypeJoined          EventType = "channel.joined"
	TypeLeft            EventType = "channel.left"
	TypeTypingStarted   EventType = "typing.started"
	TypeTypingStopped   EventType = "typing.stopped"
	TypePresenceChanged EventType = "presence.changed"
)

// Event - типизированный вариант события. Доменный слой подписывается на
// шину и ветвится по конкретному типу, а не по строковым ключам.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
}

type Base struct {
	At time.Time `json:"at"`
}

func (b Base) OccurredAt() time.Time { return b.At }

// Connected - соединение прошло handshake и аутентифицировано
type Connected struct {
	Base
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

func (Connected) EventType() EventType { return TypeConnected }

// Disconnected - соединение закрыто и все его состояние освобождено
type Disconnected struct {
	Base
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

func (Disconnected) EventType() EventType { return TypeDisconnected }

// Joined - соединение вошло в канал
type Joined struct {
	Base
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	ChannelID    string `json:"channel_id"`
}

func (Joined) EventType() EventType { return TypeJoined }

// Left - соединение покинуло канал
type Left struct {
	Base
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	ChannelID    string `json:"channel_id"`
}

func (Left) EventType() EventType { return TypeLeft }

// TypingStarted - пользователь начал печатать в канале
type TypingStarted struct {
	Base
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

func (TypingStarted) EventType() EventType { return TypeTypingStarted }

// TypingStopped - пользователь перестал печатать (явно или по TTL)
type TypingStopped struct {
	Base
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

func (TypingStopped) EventType() EventType { return TypeTypingStopped }

// PresenceChanged - статус присутствия пользователя изменился
type PresenceChanged struct {
	Base
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func (PresenceChanged) EventType() EventType { return TypePresenceChanged }

// Now проставляет время события; отдельная функция, чтобы конструкторы
// событий в gateway не тянули time напрямую в каждом месте
func Now() Base { return Base{At: time.Now().UTC()} }

// At создает отметку времени события из заданного момента
func At(t time.Time) Base { return Base{At: t} }
