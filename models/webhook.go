package models

import "time"

// WebhookEvent is one journaled provider notification delivery.
type WebhookEvent struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	NotificationID string    `json:"notification_id"`
	EventType      string    `json:"event_type"`
	Action         string    `json:"action"`
	ResourceID     string    `json:"resource_id"`
	TenantID       string    `json:"tenant_id"`
	Outcome        string    `json:"outcome"`
	Detail         string    `json:"detail"`
	SignatureValid bool      `json:"signature_valid"`
	ReceivedAt     time.Time `json:"received_at"`
}

// BillingChange is published whenever a tenant's billing state is written.
type BillingChange struct {
	TenantID             string        `json:"tenant_id"`
	Plan                 PlanTier      `json:"plan"`
	BillingStatus        BillingStatus `json:"billing_status"`
	ExternalSubscription *string       `json:"external_subscription_id"`
	Source               string        `json:"source"`
	OccurredAt           time.Time     `json:"occurred_at"`
}
