package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/governor"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/metrics"
)

var (
	errNotMember     = errors.New("not a member of channel")
	errNotRegistered = errors.New("connection is no longer registered")
)

// Client - одно websocket соединение. Все кадры клиента читаются одной
// горутиной (readPump), все кадры сервера пишутся одной горутиной
// (writePump), поэтому порядок доставки от одного отправителя сохраняется.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	connectionID string
	userID       string
	bucket       *governor.BucketLimiter

	mu           sync.Mutex
	channels     map[string]bool
	lastActivity time.Time
	closed       bool
}

// enqueue кладет кадр в исходящую очередь; переполнение очереди
// трактуется как мертвый получатель
func (c *Client) enqueue(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.hub.logger.Warn("Send buffer overflow, closing connection",
			zap.String("connection_id", c.connectionID),
		)
		c.close()
	}
}

// close закрывает транспорт и очередь ровно один раз. Очередь
// закрывается под мьютексом, чтобы enqueue не писал в закрытый канал.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	_ = c.conn.Close()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = c.hub.clock.Now()
	c.mu.Unlock()
}

func (c *Client) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// readPump читает кадры клиента до обрыва соединения. Зачистка
// безусловная: любой выход из цикла чтения снимает соединение со всех
// каналов и освобождает его состояние.
func (c *Client) readPump() {
	defer c.hub.removeClient(c)

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Unexpected websocket close",
					zap.Error(err),
					zap.String("connection_id", c.connectionID),
				)
			}
			return
		}
		c.touch()
		c.dispatch(payload)
	}
}

// dispatch разбирает клиентский кадр и выполняет действие. Непонятный
// или превышающий лимит кадр отклоняется error-кадром, соединение
// остается живым.
func (c *Client) dispatch(payload []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.sendError("", ErrCodeMalformedPayload, "malformed frame")
		return
	}

	if c.bucket != nil && !c.bucket.Allow() {
		metrics.RateLimitRejectionsTotal.WithLabelValues("connection").Inc()
		c.sendError(frame.ChannelID, ErrCodeRateLimited, "message rate limit exceeded")
		return
	}

	switch frame.Action {
	case ActionJoin:
		if err := c.hub.join(c, frame.ChannelID); err != nil {
			switch {
			case errors.Is(err, domainErrors.ErrChannelFull):
				c.sendError(frame.ChannelID, ErrCodeChannelFull, "channel is at capacity")
			case errors.Is(err, errNotRegistered):
				// Соединение уже зачищено, отвечать некому
			default:
				c.sendError(frame.ChannelID, ErrCodeMalformedPayload, "invalid channel")
			}
			return
		}
		c.sendFrame(&ServerFrame{
			Type:      FrameJoined,
			ChannelID: frame.ChannelID,
			Timestamp: c.hub.clock.Now(),
		})

	case ActionLeave:
		c.hub.leave(c, frame.ChannelID)
		c.sendFrame(&ServerFrame{
			Type:      FrameLeft,
			ChannelID: frame.ChannelID,
			Timestamp: c.hub.clock.Now(),
		})

	case ActionMessage:
		if !c.allowChannelEvent(frame.ChannelID) {
			c.sendError(frame.ChannelID, ErrCodeRateLimited, "channel rate limit exceeded")
			return
		}
		if err := c.hub.broadcastMessage(c, frame.ChannelID, frame.Data); err != nil {
			c.sendError(frame.ChannelID, ErrCodeNotMember, "not a member of channel")
		}

	case ActionTypingStart:
		if err := c.hub.startTyping(c, frame.ChannelID); err != nil {
			c.sendError(frame.ChannelID, ErrCodeNotMember, "not a member of channel")
		}

	case ActionTypingStop:
		c.hub.stopTyping(c, frame.ChannelID)

	case ActionPresence:
		c.hub.setPresence(c, models.PresenceStatus(frame.Status))

	default:
		c.sendError(frame.ChannelID, ErrCodeMalformedPayload, "unknown action")
	}
}

// allowChannelEvent проверяет общий лимит событий канала в Redis.
// Ошибка лимитера не блокирует доставку.
func (c *Client) allowChannelEvent(channelID string) bool {
	if c.hub.limiter == nil || channelID == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	allowed, err := c.hub.limiter.Allow(ctx, "channel:"+channelID,
		c.hub.rateCfg.EventsPerChannel, c.hub.rateCfg.EventsPerChannelWindow)
	if err != nil {
		return true
	}
	return allowed
}

func (c *Client) sendError(channelID, code, message string) {
	c.sendFrame(&ServerFrame{
		Type:      FrameError,
		ChannelID: channelID,
		Code:      code,
		Message:   message,
		Timestamp: c.hub.clock.Now(),
	})
}

func (c *Client) sendFrame(frame *ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.hub.logger.Error("Failed to marshal server frame", zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// writePump переносит кадры из очереди в сокет и поддерживает ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
