package mercadopago

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Preapproval statuses reported by the subscriptions API.
const (
	StatusPending    = "pending"
	StatusAuthorized = "authorized"
	StatusPaused     = "paused"
	StatusCancelled  = "cancelled"
	StatusEnded      = "ended"
)

// Preapproval is the subscription resource as the reconciler reads it.
type Preapproval struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	PayerID           int64      `json:"payer_id"`
	PayerEmail        string     `json:"payer_email"`
	PreapprovalPlanID string     `json:"preapproval_plan_id"`
	ExternalReference string     `json:"external_reference"`
	Reason            string     `json:"reason"`
	NextPaymentDate   *time.Time `json:"next_payment_date"`
	DateCreated       *time.Time `json:"date_created"`
	LastModified      *time.Time `json:"last_modified"`
}

// NormalizedStatus returns the status lower-cased and trimmed. The API has
// historically used both "cancelled" and "canceled".
func (p *Preapproval) NormalizedStatus() string {
	s := strings.ToLower(strings.TrimSpace(p.Status))
	if s == "canceled" {
		return StatusCancelled
	}
	return s
}

// Payment is the payment resource as the reconciler reads it.
type Payment struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	Description       string          `json:"description"`
	DateApproved      *time.Time      `json:"date_approved"`
	DateCreated       *time.Time      `json:"date_created"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	Metadata map[string]any `json:"metadata"`
}

// Notification is the body Mercado Pago POSTs to the webhook endpoint.
type Notification struct {
	ID          ID     `json:"id"`
	LiveMode    bool   `json:"live_mode"`
	Type        string `json:"type"`
	Action      string `json:"action"`
	DateCreated string `json:"date_created"`
	UserID      ID     `json:"user_id"`
	APIVersion  string `json:"api_version"`
	Data        struct {
		ID ID `json:"id"`
	} `json:"data"`
}

// ParseNotification decodes a delivery body. An empty body is valid and
// yields a zero Notification; feed deliveries carry everything in the query.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if len(bytes.TrimSpace(body)) == 0 {
		return n, nil
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("mercadopago: decode notification: %w", err)
	}
	return n, nil
}

// ID is an identifier the API sends either as a JSON string or a JSON number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("mercadopago: id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }
