package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/events"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/governor"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/utils/metrics"
)

// TokenValidator проверяет предъявленный access токен при handshake
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) *models.ValidationResult
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Проверка источника выполняется на внешнем ingress
		return true
	},
}

type typingKey struct {
	channelID string
	userID    string
}

// Hub управляет всеми активными realtime соединениями: handshake,
// членство в каналах, присутствие, typing и fan-out. Состояние каналов
// мутируется только под мьютексом хаба.
type Hub struct {
	cfg       config.GatewayConfig
	rateCfg   config.RateLimitConfig
	validator TokenValidator
	limiter   governor.RateLimiter
	bus       *events.Bus
	clock     clock.Clock
	logger    *zap.Logger

	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]map[*Client]bool
	typing   map[typingKey]time.Time
	presence map[string]models.PresenceStatus
}

// NewHub создает новый хаб соединений
func NewHub(
	cfg config.GatewayConfig,
	rateCfg config.RateLimitConfig,
	validator TokenValidator,
	limiter governor.RateLimiter,
	bus *events.Bus,
	clk clock.Clock,
	logger *zap.Logger,
) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		cfg:       cfg,
		rateCfg:   rateCfg,
		validator: validator,
		limiter:   limiter,
		bus:       bus,
		clock:     clk,
		logger:    logger,
		clients:   make(map[string]*Client),
		channels:  make(map[string]map[*Client]bool),
		typing:    make(map[typingKey]time.Time),
		presence:  make(map[string]models.PresenceStatus),
	}
}

// ServeWS обрабатывает WebSocket запросы от клиентов. Любой не-валидный
// результат проверки токена закрывает соединение с кодом причины;
// отсутствующий токен дает отличимую причину "authentication required".
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	h.logger.Debug("Connection opened, awaiting authentication",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("connection_state", string(models.ConnectionConnecting)),
	)

	token := bearerToken(r)
	if token == "" {
		h.reject(conn, CloseAuthRequired, "authentication required")
		return
	}

	result := h.validator.ValidateAccess(r.Context(), token)
	if !result.Valid {
		h.reject(conn, CloseAuthFailed, handshakeReason(result.Reason))
		return
	}

	client := h.registerClient(conn, result.Claims.UserID)

	h.bus.Publish(events.Connected{
		Base:         events.At(h.clock.Now()),
		ConnectionID: client.connectionID,
		UserID:       client.userID,
	})

	go client.writePump()
	go client.readPump()
}

func (h *Hub) reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
	h.logger.Warn("Connection rejected during handshake",
		zap.Int("close_code", code),
		zap.String("reason", reason),
		zap.String("connection_state", string(models.ConnectionRejected)),
	)
}

// handshakeReason отображает причину отказа валидации в причину закрытия
func handshakeReason(reason models.ValidationReason) string {
	switch reason {
	case models.ReasonExpired:
		return "authentication expired"
	case models.ReasonRateLimited:
		return "too many validation attempts"
	case models.ReasonRevoked:
		return "authentication revoked"
	default:
		return "authentication failed"
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (h *Hub) registerClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, h.cfg.SendBufferSize),
		connectionID: uuid.New().String(),
		userID:       userID,
		channels:     make(map[string]bool),
		lastActivity: h.clock.Now(),
	}
	if h.rateCfg.MessagesPerConnection > 0 {
		client.bucket = governor.NewBucketLimiter(
			h.rateCfg.MessagesPerConnection,
			h.rateCfg.MessagesWindow,
			h.rateCfg.ConnectionBurst,
		)
	}

	h.mu.Lock()
	h.clients[client.connectionID] = client
	if _, online := h.presence[userID]; !online {
		h.presence[userID] = models.PresenceOnline
		defer h.bus.Publish(events.PresenceChanged{
			Base:   events.At(h.clock.Now()),
			UserID: userID,
			Status: string(models.PresenceOnline),
		})
	}
	h.mu.Unlock()

	metrics.ActiveConnectionsGauge.Inc()
	h.logger.Info("Connection authenticated",
		zap.String("connection_id", client.connectionID),
		zap.String("user_id", userID),
		zap.String("connection_state", string(models.ConnectionAuthenticated)),
	)
	return client
}

// join добавляет соединение в канал. Повторный join идемпотентен; при
// достигнутом потолке вместимости членство не меняется.
func (h *Hub) join(c *Client, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("empty channel id")
	}

	h.mu.Lock()
	// Зачистка могла снять соединение, пока кадр join ждал dispatch;
	// вставка после нее оставила бы членство в канале навсегда
	if h.clients[c.connectionID] != c {
		h.mu.Unlock()
		return errNotRegistered
	}
	members, ok := h.channels[channelID]
	if !ok {
		members = make(map[*Client]bool)
		h.channels[channelID] = members
	}
	if members[c] {
		h.mu.Unlock()
		return nil
	}
	if h.cfg.ChannelCapacity > 0 && len(members) >= h.cfg.ChannelCapacity {
		h.mu.Unlock()
		return domainErrors.ErrChannelFull
	}
	members[c] = true
	c.mu.Lock()
	c.channels[channelID] = true
	c.mu.Unlock()
	others := h.otherMembersLocked(channelID, c)
	h.mu.Unlock()

	h.sendFrame(others, &ServerFrame{
		Type:      FramePresenceJoin,
		ChannelID: channelID,
		UserID:    c.userID,
		Timestamp: h.clock.Now(),
	})

	h.bus.Publish(events.Joined{
		Base:         events.At(h.clock.Now()),
		ConnectionID: c.connectionID,
		UserID:       c.userID,
		ChannelID:    channelID,
	})
	return nil
}

// leave убирает соединение из канала. Выход из канала, в котором
// соединение не состоит - no-op без ошибки и без broadcast.
func (h *Hub) leave(c *Client, channelID string) {
	h.mu.Lock()
	members, ok := h.channels[channelID]
	if !ok || !members[c] {
		h.mu.Unlock()
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.channels, channelID)
	}
	c.mu.Lock()
	delete(c.channels, channelID)
	c.mu.Unlock()
	delete(h.typing, typingKey{channelID: channelID, userID: c.userID})
	others := h.otherMembersLocked(channelID, c)
	h.mu.Unlock()

	h.sendFrame(others, &ServerFrame{
		Type:      FramePresenceLeave,
		ChannelID: channelID,
		UserID:    c.userID,
		Timestamp: h.clock.Now(),
	})

	h.bus.Publish(events.Left{
		Base:         events.At(h.clock.Now()),
		ConnectionID: c.connectionID,
		UserID:       c.userID,
		ChannelID:    channelID,
	})
}

// broadcastMessage раздает сообщение всем остальным участникам канала
func (h *Hub) broadcastMessage(c *Client, channelID string, data json.RawMessage) error {
	h.mu.RLock()
	members, ok := h.channels[channelID]
	if !ok || !members[c] {
		h.mu.RUnlock()
		return errNotMember
	}
	others := h.otherMembersLocked(channelID, c)
	h.mu.RUnlock()

	h.sendFrame(others, &ServerFrame{
		Type:      FrameMessage,
		ChannelID: channelID,
		UserID:    c.userID,
		Data:      data,
		Timestamp: h.clock.Now(),
	})
	return nil
}

// startTyping обновляет отметку "печатает" и оповещает остальных участников
func (h *Hub) startTyping(c *Client, channelID string) error {
	h.mu.Lock()
	members, ok := h.channels[channelID]
	if !ok || !members[c] {
		h.mu.Unlock()
		return errNotMember
	}
	h.typing[typingKey{channelID: channelID, userID: c.userID}] = h.clock.Now().Add(h.cfg.TypingTTL)
	others := h.otherMembersLocked(channelID, c)
	h.mu.Unlock()

	h.sendFrame(others, &ServerFrame{
		Type:      FrameTypingStarted,
		ChannelID: channelID,
		UserID:    c.userID,
		Timestamp: h.clock.Now(),
	})

	h.bus.Publish(events.TypingStarted{
		Base:      events.At(h.clock.Now()),
		ChannelID: channelID,
		UserID:    c.userID,
	})
	return nil
}

// stopTyping снимает отметку и оповещает остальных немедленно
func (h *Hub) stopTyping(c *Client, channelID string) {
	key := typingKey{channelID: channelID, userID: c.userID}

	h.mu.Lock()
	if _, ok := h.typing[key]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.typing, key)
	others := h.otherMembersLocked(channelID, c)
	h.mu.Unlock()

	h.sendFrame(others, &ServerFrame{
		Type:      FrameTypingStopped,
		ChannelID: channelID,
		UserID:    c.userID,
		Timestamp: h.clock.Now(),
	})

	h.bus.Publish(events.TypingStopped{
		Base:      events.At(h.clock.Now()),
		ChannelID: channelID,
		UserID:    c.userID,
	})
}

// setPresence меняет статус присутствия пользователя
func (h *Hub) setPresence(c *Client, status models.PresenceStatus) {
	switch status {
	case models.PresenceOnline, models.PresenceAway:
	default:
		return
	}

	h.mu.Lock()
	h.presence[c.userID] = status
	h.mu.Unlock()

	h.bus.Publish(events.PresenceChanged{
		Base:   events.At(h.clock.Now()),
		UserID: c.userID,
		Status: string(status),
	})
}

// removeClient выполняет безусловную зачистку соединения: выход из всех
// каналов с presence-leave, снятие typing отметок, освобождение
// бухгалтерии. Вызывается при любом виде отключения, включая обрыв
// посреди handshake или dispatch.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.connectionID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.connectionID)

	c.mu.Lock()
	joined := make([]string, 0, len(c.channels))
	for channelID := range c.channels {
		joined = append(joined, channelID)
	}
	c.channels = make(map[string]bool)
	c.mu.Unlock()

	type farewell struct {
		channelID string
		others    []*Client
		typing    bool
	}
	farewells := make([]farewell, 0, len(joined))
	for _, channelID := range joined {
		members, ok := h.channels[channelID]
		if !ok {
			continue
		}
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, channelID)
		}
		key := typingKey{channelID: channelID, userID: c.userID}
		_, wasTyping := h.typing[key]
		delete(h.typing, key)
		farewells = append(farewells, farewell{
			channelID: channelID,
			others:    h.otherMembersLocked(channelID, c),
			typing:    wasTyping,
		})
	}

	// Пользователь offline, когда закрыто его последнее соединение
	lastConnection := true
	for _, other := range h.clients {
		if other.userID == c.userID {
			lastConnection = false
			break
		}
	}
	if lastConnection {
		delete(h.presence, c.userID)
	}
	h.mu.Unlock()

	c.close()

	now := h.clock.Now()
	for _, f := range farewells {
		if f.typing {
			h.sendFrame(f.others, &ServerFrame{
				Type:      FrameTypingStopped,
				ChannelID: f.channelID,
				UserID:    c.userID,
				Timestamp: now,
			})
		}
		h.sendFrame(f.others, &ServerFrame{
			Type:      FramePresenceLeave,
			ChannelID: f.channelID,
			UserID:    c.userID,
			Timestamp: now,
		})
		h.bus.Publish(events.Left{
			Base:         events.At(now),
			ConnectionID: c.connectionID,
			UserID:       c.userID,
			ChannelID:    f.channelID,
		})
	}

	if lastConnection {
		h.bus.Publish(events.PresenceChanged{
			Base:   events.At(now),
			UserID: c.userID,
			Status: string(models.PresenceOffline),
		})
	}

	h.bus.Publish(events.Disconnected{
		Base:         events.At(now),
		ConnectionID: c.connectionID,
		UserID:       c.userID,
	})

	metrics.ActiveConnectionsGauge.Dec()
	h.logger.Info("Connection cleaned up",
		zap.String("connection_id", c.connectionID),
		zap.String("user_id", c.userID),
		zap.Int("left_channels", len(farewells)),
		zap.String("connection_state", string(models.ConnectionDisconnected)),
	)
}

// otherMembersLocked возвращает участников канала кроме заданного.
// Вызывается только под h.mu.
func (h *Hub) otherMembersLocked(channelID string, exclude *Client) []*Client {
	members := h.channels[channelID]
	others := make([]*Client, 0, len(members))
	for m := range members {
		if m != exclude {
			others = append(others, m)
		}
	}
	return others
}

// sendFrame сериализует кадр один раз и кладет его в очереди получателей.
// Переполненная очередь получателя означает мертвое соединение - оно
// закрывается, зачистку доведет его readPump.
func (h *Hub) sendFrame(recipients []*Client, frame *ServerFrame) {
	if len(recipients) == 0 {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to marshal server frame", zap.Error(err), zap.String("type", frame.Type))
		return
	}
	for _, r := range recipients {
		r.enqueue(payload)
	}
}

// SweepTyping убирает истекшие отметки "печатает" и рассылает stop-typing.
// Возвращает количество убранных отметок.
func (h *Hub) SweepTyping(now time.Time) int {
	type expired struct {
		key    typingKey
		others []*Client
	}

	h.mu.Lock()
	var toStop []expired
	for key, deadline := range h.typing {
		if deadline.After(now) {
			continue
		}
		delete(h.typing, key)
		var owner *Client
		for m := range h.channels[key.channelID] {
			if m.userID == key.userID {
				owner = m
				break
			}
		}
		toStop = append(toStop, expired{key: key, others: h.otherMembersLocked(key.channelID, owner)})
	}
	h.mu.Unlock()

	for _, e := range toStop {
		h.sendFrame(e.others, &ServerFrame{
			Type:      FrameTypingStopped,
			ChannelID: e.key.channelID,
			UserID:    e.key.userID,
			Timestamp: now,
		})
		h.bus.Publish(events.TypingStopped{
			Base:      events.At(now),
			ChannelID: e.key.channelID,
			UserID:    e.key.userID,
		})
	}
	return len(toStop)
}

// PruneStale отключает соединения без активности дольше threshold.
// Мертвое соединение проходит тот же путь зачистки, что и явный disconnect.
func (h *Hub) PruneStale(threshold time.Duration) int {
	cutoff := h.clock.Now().Add(-threshold)

	h.mu.RLock()
	var stale []*Client
	for _, c := range h.clients {
		if c.lastSeen().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.logger.Warn("Pruning stale connection",
			zap.String("connection_id", c.connectionID),
			zap.String("user_id", c.userID),
		)
		h.removeClient(c)
	}
	return len(stale)
}

// Snapshot возвращает снимок состояния хаба для introspection
type Snapshot struct {
	Connections    int                     `json:"connections"`
	ChannelMembers map[string]int          `json:"channel_members"`
	Typing         []models.TypingState    `json:"typing"`
	Details        []models.ConnectionInfo `json:"details"`
}

// Snapshot возвращает текущее состояние хаба
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := make(map[string]int, len(h.channels))
	for id, members := range h.channels {
		channels[id] = len(members)
	}
	typing := make([]models.TypingState, 0, len(h.typing))
	for key, deadline := range h.typing {
		typing = append(typing, models.TypingState{
			ChannelID: key.channelID,
			UserID:    key.userID,
			ExpiresAt: deadline,
		})
	}
	details := make([]models.ConnectionInfo, 0, len(h.clients))
	for _, c := range h.clients {
		c.mu.Lock()
		joined := make([]string, 0, len(c.channels))
		for channelID := range c.channels {
			joined = append(joined, channelID)
		}
		lastActivity := c.lastActivity
		c.mu.Unlock()
		details = append(details, models.ConnectionInfo{
			ConnectionID:   c.connectionID,
			UserID:         c.userID,
			JoinedChannels: joined,
			Presence:       h.presence[c.userID],
			LastActivityAt: lastActivity,
		})
	}
	return Snapshot{
		Connections:    len(h.clients),
		ChannelMembers: channels,
		Typing:         typing,
		Details:        details,
	}
}

// ConnectionCount возвращает количество живых соединений
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
