package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/cleanup"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/gateway"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/governor"
)

// AdminHandler отдает операционное состояние сервиса для диагностики
type AdminHandler struct {
	logger    *zap.Logger
	hub       *gateway.Hub
	breakers  []*governor.CircuitBreaker
	scheduler *cleanup.Scheduler
	governor  governor.RateLimiter
}

// NewAdminHandler создает новый AdminHandler
func NewAdminHandler(
	logger *zap.Logger,
	hub *gateway.Hub,
	breakers []*governor.CircuitBreaker,
	scheduler *cleanup.Scheduler,
	limiter governor.RateLimiter,
) *AdminHandler {
	return &AdminHandler{
		logger:    logger.Named("admin_handler"),
		hub:       hub,
		breakers:  breakers,
		scheduler: scheduler,
		governor:  limiter,
	}
}

// IntrospectionResponse - снимок состояния сервиса
type IntrospectionResponse struct {
	Gateway  gateway.Snapshot            `json:"gateway"`
	Breakers []governor.BreakerSnapshot  `json:"breakers"`
	Cleanup  cleanup.Stats               `json:"cleanup"`
	Rejected map[string]uint64           `json:"rate_limit_rejections,omitempty"`
}

// Introspection возвращает текущее состояние шлюза, предохранителей и зачистки.
// GET /api/v1/admin/introspection
func (h *AdminHandler) Introspection(c *gin.Context) {
	resp := IntrospectionResponse{
		Gateway: h.hub.Snapshot(),
		Cleanup: h.scheduler.Stats(),
	}
	for _, b := range h.breakers {
		resp.Breakers = append(resp.Breakers, b.Snapshot())
	}
	if counter, ok := h.governor.(interface{ RejectionCounts() map[string]uint64 }); ok {
		resp.Rejected = counter.RejectionCounts()
	}

	RespondWithData(c, http.StatusOK, resp)
}
