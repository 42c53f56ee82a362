package db

import (
	"clinipratica/api/logger"
	"clinipratica/api/models"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordWebhookEvent journals a delivery. A redelivery of the same provider
// notification updates the existing row's outcome instead of adding a new one.
func RecordWebhookEvent(ctx context.Context, conn *sql.DB, event models.WebhookEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.NotificationID == "" {
		// No provider id to dedupe on; key the row on its own id.
		event.NotificationID = event.ID
	}

	query := `
		INSERT INTO webhook_events (
			id, provider, notification_id, event_type, action, resource_id,
			tenant_id, outcome, detail, signature_valid, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, notification_id) DO UPDATE
		SET outcome = EXCLUDED.outcome,
			detail = EXCLUDED.detail,
			tenant_id = EXCLUDED.tenant_id,
			signature_valid = EXCLUDED.signature_valid,
			updated_at = now()
	`
	_, err := conn.ExecContext(ctx, query,
		event.ID,
		event.Provider,
		event.NotificationID,
		event.EventType,
		event.Action,
		event.ResourceID,
		event.TenantID,
		event.Outcome,
		event.Detail,
		event.SignatureValid,
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("error recording webhook event %s: %w", event.NotificationID, err)
	}
	return nil
}

// ListWebhookEventsByTenant returns the latest journal rows for a tenant.
func ListWebhookEventsByTenant(ctx context.Context, conn *sql.DB, tenantID string, limit int) ([]models.WebhookEvent, error) {
	query := `
		SELECT id, provider, notification_id, event_type, action, resource_id,
			tenant_id, outcome, detail, signature_valid, received_at
		FROM webhook_events
		WHERE tenant_id = $1
		ORDER BY received_at DESC
		LIMIT $2
	`
	rows, err := conn.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing webhook events for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	events := []models.WebhookEvent{}
	for rows.Next() {
		var e models.WebhookEvent
		if err := rows.Scan(
			&e.ID,
			&e.Provider,
			&e.NotificationID,
			&e.EventType,
			&e.Action,
			&e.ResourceID,
			&e.TenantID,
			&e.Outcome,
			&e.Detail,
			&e.SignatureValid,
			&e.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning webhook event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Journal adapts the webhook_events table to billing.Journal. A Journal
// without a connection drops events, which keeps Postgres optional.
type Journal struct {
	conn *sql.DB
}

func NewJournal(conn *sql.DB) *Journal {
	return &Journal{conn: conn}
}

func (j *Journal) Enabled() bool {
	return j != nil && j.conn != nil
}

func (j *Journal) RecordWebhookEvent(ctx context.Context, event models.WebhookEvent) error {
	if !j.Enabled() {
		logger.Get().Debug("webhook journal disabled, dropping event",
			zap.String("notification_id", event.NotificationID),
			zap.String("outcome", event.Outcome))
		return nil
	}
	return RecordWebhookEvent(ctx, j.conn, event)
}

func (j *Journal) ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.WebhookEvent, error) {
	if !j.Enabled() {
		return []models.WebhookEvent{}, nil
	}
	return ListWebhookEventsByTenant(ctx, j.conn, tenantID, limit)
}
