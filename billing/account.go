package billing

import (
	"clinipratica/api/models"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotInTrial         = errors.New("tenant is not in trial")
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrCheckoutRequired   = errors.New("paid plans are activated through provider checkout")
	ErrActiveSubscription = errors.New("cancel the active subscription before downgrading")
	ErrInvalidTenant      = errors.New("invalid tenant")
	ErrTenantExists       = errors.New("tenant already exists")
)

// NewTenant builds the record created at signup. Every tenant starts on the
// Free tier; choosing a paid tier starts a trial of trialDays, anything else
// is active immediately.
func NewTenant(id, name, email string, chosen models.PlanTier, now time.Time, trialDays int) (*models.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidTenant)
	}
	if chosen == "" {
		chosen = models.PlanFree
	}
	if !chosen.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, chosen)
	}

	now = now.UTC()
	t := &models.Tenant{
		ID:            id,
		Name:          strings.TrimSpace(name),
		Email:         strings.TrimSpace(email),
		Plan:          models.PlanFree,
		BillingStatus: models.BillingStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if chosen != models.PlanFree && trialDays > 0 {
		ends := now.AddDate(0, 0, trialDays)
		t.BillingStatus = models.BillingStatusTrial
		t.TrialEndsAt = &ends
	}
	return t, nil
}

// EffectiveBillingStatus reports trial_ended for a trial whose expiry has
// passed, and the stored status otherwise.
func EffectiveBillingStatus(t *models.Tenant, now time.Time) models.BillingStatus {
	if t.BillingStatus == models.BillingStatusTrial && t.TrialEndsAt != nil && !now.Before(*t.TrialEndsAt) {
		return models.BillingStatusTrialEnded
	}
	return t.BillingStatus
}

// CancelTrial ends a running trial at now.
func CancelTrial(t *models.Tenant, now time.Time) (models.TenantBillingUpdate, error) {
	if EffectiveBillingStatus(t, now) != models.BillingStatusTrial {
		return models.TenantBillingUpdate{}, ErrNotInTrial
	}
	status := models.BillingStatusTrialEnded
	ended := now.UTC()
	return models.TenantBillingUpdate{BillingStatus: &status, TrialEndsAt: &ended}, nil
}

// RequestPlanChange validates a user-initiated plan change. Downgrading to
// Free is applied directly; paid tiers are only granted by the webhook once
// the provider authorizes a subscription, so they return ErrCheckoutRequired
// together with the plan the client must check out.
func RequestPlanChange(t *models.Tenant, target models.PlanTier, plans *PlanTable) (models.TenantBillingUpdate, *Plan, error) {
	plan, ok := plans.ByTier(target)
	if !ok {
		return models.TenantBillingUpdate{}, nil, fmt.Errorf("%w: %q", ErrUnknownPlan, target)
	}
	if target != models.PlanFree {
		return models.TenantBillingUpdate{}, &plan, ErrCheckoutRequired
	}
	if t.HasActiveSubscription() {
		return models.TenantBillingUpdate{}, nil, ErrActiveSubscription
	}
	free := models.PlanFree
	return models.TenantBillingUpdate{Plan: &free}, &plan, nil
}
