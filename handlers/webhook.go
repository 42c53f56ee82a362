package handlers

import (
	"clinipratica/api/billing"
	"clinipratica/api/logger"
	"clinipratica/api/mercadopago"
	"clinipratica/api/metrics"
	"clinipratica/api/middleware"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NotificationProcessor applies a parsed provider notification.
type NotificationProcessor interface {
	HandleNotification(ctx context.Context, n billing.Notification) (billing.Result, error)
}

type WebhookHandler struct {
	processor NotificationProcessor
}

func NewWebhookHandler(processor NotificationProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// HandleMercadoPago receives POST /webhooks/mercadopago. Deliveries are
// acknowledged with 200 unless the body is unreadable (400) or the provider
// could not be reached (502), in which case the provider retries.
func (h *WebhookHandler) HandleMercadoPago(c *gin.Context) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	n, err := parseNotification(c)
	if err != nil {
		status = http.StatusBadRequest
		logger.Get().Warn("malformed webhook body", zap.Error(err))
		c.JSON(status, gin.H{"error": "invalid notification body"})
		return
	}
	eventType = metricEventType(n.Type)
	n.SignatureValid = middleware.SignatureValid(c)

	result, err := h.processor.HandleNotification(c.Request.Context(), n)
	if err != nil {
		var upstream *billing.UpstreamError
		if errors.As(err, &upstream) {
			status = http.StatusBadGateway
			c.JSON(status, gin.H{"error": "payment provider unavailable"})
			return
		}
		status = http.StatusInternalServerError
		logger.Get().Error("webhook processing failed",
			zap.String("type", n.Type),
			zap.String("resource_id", n.ResourceID),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "failed to process notification"})
		return
	}

	logger.Get().Debug("webhook processed",
		zap.String("type", n.Type),
		zap.String("resource_id", n.ResourceID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("tenant_id", result.TenantID))
	c.JSON(status, gin.H{"received": true})
}

// parseNotification reads the JSON body and falls back to the query string
// (type/topic and data.id/id) that older feed deliveries use.
func parseNotification(c *gin.Context) (billing.Notification, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return billing.Notification{}, err
	}

	payload, err := mercadopago.ParseNotification(body)
	if err != nil {
		return billing.Notification{}, err
	}

	n := billing.Notification{
		ID:         payload.ID.String(),
		Type:       strings.TrimSpace(payload.Type),
		Action:     strings.TrimSpace(payload.Action),
		ResourceID: strings.TrimSpace(payload.Data.ID.String()),
	}
	if n.Type == "" {
		n.Type = firstNonEmpty(c.Query("type"), c.Query("topic"))
	}
	if n.ResourceID == "" {
		n.ResourceID = firstNonEmpty(c.Query("data.id"), c.Query("id"))
	}
	return n, nil
}

// metricEventType bounds the label set to the types the provider documents.
func metricEventType(t string) string {
	switch t {
	case "payment", "preapproval", "subscription", "subscription_preapproval", "subscription_authorized_payment":
		return t
	case "":
		return "unknown"
	}
	return "other"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
