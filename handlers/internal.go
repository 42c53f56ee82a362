package handlers

import (
	"clinipratica/api/logger"
	"clinipratica/api/models"
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultJournalLimit = 50

// JournalReader lists journaled webhook deliveries.
type JournalReader interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.WebhookEvent, error)
}

type InternalHandler struct {
	journal JournalReader
}

func NewInternalHandler(journal JournalReader) *InternalHandler {
	return &InternalHandler{journal: journal}
}

// HandleListWebhookEvents serves GET /internal/tenants/:id/webhook-events for
// support staff reconciling deliveries by hand.
func (h *InternalHandler) HandleListWebhookEvents(c *gin.Context) {
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	tenantID := c.Param("id")
	events, err := h.journal.ListByTenant(c.Request.Context(), tenantID, limit)
	if err != nil {
		logger.Get().Error("failed to list webhook events", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error listing webhook events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// HandleHealth answers liveness probes.
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
