package gateway

import (
	"encoding/json"
	"time"
)

// Действия, которые клиент может прислать по соединению
const (
	ActionJoin        = "join"
	ActionLeave       = "leave"
	ActionMessage     = "message"
	ActionTypingStart = "typing_start"
	ActionTypingStop  = "typing_stop"
	ActionPresence    = "presence"
)

// Типы исходящих кадров
const (
	FrameJoined          = "joined"
	FrameLeft            = "left"
	FrameMessage         = "message"
	FramePresenceJoin    = "presence_join"
	FramePresenceLeave   = "presence_leave"
	FramePresenceChanged = "presence_changed"
	FrameTypingStarted   = "typing_started"
	FrameTypingStopped   = "typing_stopped"
	FrameError           = "error"
)

// Стабильные коды ошибок, возвращаемые клиенту
const (
	ErrCodeMalformedPayload = "malformed_payload"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeChannelFull      = "channel_full"
	ErrCodeNotMember        = "not_a_member"
)

// Коды закрытия при неудачном handshake. Отсутствие учетных данных и
// невалидные учетные данные различимы наблюдаемо.
const (
	CloseAuthRequired = 4001
	CloseAuthFailed   = 4003
)

// ClientFrame представляет входящий кадр от клиента
type ClientFrame struct {
	Action    string          `json:"action"`
	ChannelID string          `json:"channel_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ServerFrame представляет исходящий кадр клиенту
type ServerFrame struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channel_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
