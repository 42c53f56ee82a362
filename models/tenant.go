package models

import "time"

type PlanTier string

const (
	PlanFree         PlanTier = "free"
	PlanEssential    PlanTier = "essential"
	PlanProfessional PlanTier = "professional"
	PlanClinic       PlanTier = "clinic"
)

func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanEssential, PlanProfessional, PlanClinic:
		return true
	}
	return false
}

type BillingStatus string

const (
	BillingStatusActive     BillingStatus = "active"
	BillingStatusPending    BillingStatus = "pending"
	BillingStatusCancelled  BillingStatus = "cancelled"
	BillingStatusEnded      BillingStatus = "ended"
	BillingStatusPaused     BillingStatus = "paused"
	BillingStatusTrial      BillingStatus = "trial"
	BillingStatusTrialEnded BillingStatus = "trial_ended"
)

// Tenant is a subscriber account. Its ID is the auth principal's subject.
type Tenant struct {
	ID                         string        `bson:"_id" json:"id"`
	Name                       string        `bson:"name" json:"name"`
	Email                      string        `bson:"email" json:"email"`
	Plan                       PlanTier      `bson:"plan" json:"plan"`
	BillingStatus              BillingStatus `bson:"billing_status" json:"billing_status"`
	TrialEndsAt                *time.Time    `bson:"trial_ends_at" json:"trial_ends_at"`
	ExternalSubscriptionID     *string       `bson:"external_subscription_id" json:"external_subscription_id"`
	ExternalPlanID             *string       `bson:"external_plan_id" json:"external_plan_id"`
	ExternalSubscriptionStatus *string       `bson:"external_subscription_status" json:"external_subscription_status"`
	NextPaymentDate            *time.Time    `bson:"next_payment_date" json:"next_payment_date"`
	SubscriptionUpdatedAt      *time.Time    `bson:"subscription_updated_at" json:"subscription_updated_at"`
	CreatedAt                  time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt                  time.Time     `bson:"updated_at" json:"updated_at"`
}

// HasActiveSubscription reports whether the provider currently bills this tenant.
func (t *Tenant) HasActiveSubscription() bool {
	return t.ExternalSubscriptionID != nil && t.BillingStatus == BillingStatusActive
}

// TenantBillingUpdate is a partial update of the billing fields of a tenant.
// Nil pointer fields are left untouched unless the matching Clear flag is set.
type TenantBillingUpdate struct {
	Plan                       *PlanTier
	BillingStatus              *BillingStatus
	ExternalSubscriptionID     *string
	ExternalPlanID             *string
	ExternalSubscriptionStatus *string
	NextPaymentDate            *time.Time
	SubscriptionUpdatedAt      *time.Time
	TrialEndsAt                *time.Time

	ClearSubscription bool // nulls subscription id, plan id and next payment date
}

// Apply writes the update onto t in memory, mirroring what the store does.
func (u TenantBillingUpdate) Apply(t *Tenant) {
	if u.Plan != nil {
		t.Plan = *u.Plan
	}
	if u.BillingStatus != nil {
		t.BillingStatus = *u.BillingStatus
	}
	if u.ExternalSubscriptionID != nil {
		t.ExternalSubscriptionID = u.ExternalSubscriptionID
	}
	if u.ExternalPlanID != nil {
		t.ExternalPlanID = u.ExternalPlanID
	}
	if u.ExternalSubscriptionStatus != nil {
		t.ExternalSubscriptionStatus = u.ExternalSubscriptionStatus
	}
	if u.NextPaymentDate != nil {
		t.NextPaymentDate = u.NextPaymentDate
	}
	if u.SubscriptionUpdatedAt != nil {
		t.SubscriptionUpdatedAt = u.SubscriptionUpdatedAt
	}
	if u.TrialEndsAt != nil {
		t.TrialEndsAt = u.TrialEndsAt
	}
	if u.ClearSubscription {
		t.ExternalSubscriptionID = nil
		t.ExternalPlanID = nil
		t.NextPaymentDate = nil
	}
}
