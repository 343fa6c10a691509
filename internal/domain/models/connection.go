package models

import (
	"time"
)

// PresenceStatus - наблюдаемый статус присутствия пользователя
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// ConnectionState - состояние жизненного цикла одного соединения.
// connecting -> authenticated -> active* -> disconnected (терминальное);
// неудачный handshake: connecting -> rejected (терминальное).
type ConnectionState string

const (
	ConnectionConnecting    ConnectionState = "connecting"
	ConnectionAuthenticated ConnectionState = "authenticated"
	ConnectionRejected      ConnectionState = "rejected"
	ConnectionDisconnected  ConnectionState = "disconnected"
)

// ConnectionInfo - снимок живого соединения для introspection
type ConnectionInfo struct {
	ConnectionID   string          `json:"connection_id"`
	UserID         string          `json:"user_id"`
	JoinedChannels []string        `json:"joined_channels"`
	Presence       PresenceStatus  `json:"presence"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

// TypingState - эфемерная отметка "пользователь печатает" с коротким TTL.
// Не остановленные явно отметки убирает CleanupScheduler.
type TypingState struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
