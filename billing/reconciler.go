package billing

import (
	"clinipratica/api/logger"
	"clinipratica/api/mercadopago"
	"clinipratica/api/metrics"
	"clinipratica/api/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const providerName = "mercadopago"

// ErrTenantNotFound is returned by TenantStore lookups that match nothing.
var ErrTenantNotFound = errors.New("tenant not found")

// TenantStore is the document store view the reconciler needs.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	FindTenantByEmail(ctx context.Context, email string) (*models.Tenant, error)
	// ApplyBillingUpdate writes update in a single call. When
	// update.SubscriptionUpdatedAt is set the write only happens if the stored
	// value is unset or not after it; applied is false otherwise.
	ApplyBillingUpdate(ctx context.Context, id string, update models.TenantBillingUpdate) (applied bool, err error)
}

// ProviderClient fetches authoritative resources from the payment provider.
type ProviderClient interface {
	GetPreapproval(ctx context.Context, id string) (*mercadopago.Preapproval, error)
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
}

// Journal keeps a record of every delivery for manual reconciliation.
type Journal interface {
	RecordWebhookEvent(ctx context.Context, event models.WebhookEvent) error
}

// Publisher announces tenant billing changes to other services.
type Publisher interface {
	PublishBillingChange(ctx context.Context, change models.BillingChange) error
}

// Notification is a verified, parsed webhook delivery.
type Notification struct {
	ID             string
	Type           string
	Action         string
	ResourceID     string
	SignatureValid bool
}

type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeStale          Outcome = "stale"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeRecorded       Outcome = "recorded"
	OutcomeTenantNotFound Outcome = "tenant_not_found"
	OutcomeUpstreamError  Outcome = "upstream_error"
	OutcomeStoreError     Outcome = "store_error"
)

// Result describes what a notification did.
type Result struct {
	Outcome  Outcome
	TenantID string
	Status   models.BillingStatus
	Plan     models.PlanTier
}

// UpstreamError wraps a failure to fetch from the provider. The provider
// redelivers on a non-2xx answer, so callers should answer with a retryable
// status.
type UpstreamError struct {
	Resource string
	ID       string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Resource, e.ID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Reconciler applies provider notifications to tenant billing state.
type Reconciler struct {
	tenants   TenantStore
	provider  ProviderClient
	plans     *PlanTable
	journal   Journal
	publisher Publisher
	now       func() time.Time
}

type Option func(*Reconciler)

func WithJournal(j Journal) Option { return func(r *Reconciler) { r.journal = j } }

func WithPublisher(p Publisher) Option { return func(r *Reconciler) { r.publisher = p } }

func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

func NewReconciler(tenants TenantStore, provider ProviderClient, plans *PlanTable, opts ...Option) *Reconciler {
	r := &Reconciler{
		tenants:  tenants,
		provider: provider,
		plans:    plans,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type eventKind int

const (
	kindUnknown eventKind = iota
	kindSubscription
	kindPayment
)

func classify(eventType string) eventKind {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "preapproval", "subscription", "subscription_preapproval":
		return kindSubscription
	case "payment":
		return kindPayment
	}
	return kindUnknown
}

// HandleNotification processes one delivery. The only error it returns is an
// *UpstreamError or a store failure; everything else is reported through the
// Result so the delivery can be acknowledged.
func (r *Reconciler) HandleNotification(ctx context.Context, n Notification) (Result, error) {
	var (
		res    Result
		err    error
		detail string
	)

	switch {
	case strings.TrimSpace(n.ResourceID) == "":
		res.Outcome = OutcomeIgnored
		detail = "missing resource id"
	case classify(n.Type) == kindSubscription:
		res, detail, err = r.reconcileSubscription(ctx, n)
	case classify(n.Type) == kindPayment:
		res, detail, err = r.recordPayment(ctx, n)
	default:
		res.Outcome = OutcomeIgnored
		detail = "unhandled event type"
	}

	if err != nil {
		detail = err.Error()
	}
	r.journalEvent(ctx, n, res, detail)

	if res.Outcome == OutcomeIgnored {
		logger.Get().Info("webhook ignored",
			zap.String("type", n.Type),
			zap.String("action", n.Action),
			zap.String("resource_id", n.ResourceID),
			zap.String("reason", detail))
	}
	return res, err
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, n Notification) (Result, string, error) {
	sub, err := r.provider.GetPreapproval(ctx, n.ResourceID)
	if err != nil {
		logger.Get().Error("failed to fetch preapproval",
			zap.String("resource_id", n.ResourceID),
			zap.Error(err))
		return Result{Outcome: OutcomeUpstreamError}, "", &UpstreamError{Resource: "preapproval", ID: n.ResourceID, Err: err}
	}

	tenant, err := r.resolveTenant(ctx, sub.ExternalReference, sub.PayerEmail)
	if err != nil {
		return r.resolveFailure(err, n, sub.ExternalReference, sub.PayerEmail)
	}

	if superseded(tenant, sub) {
		logger.Get().Warn("notification for a replaced subscription skipped",
			zap.String("tenant_id", tenant.ID),
			zap.String("subscription_id", sub.ID),
			zap.String("current_subscription_id", *tenant.ExternalSubscriptionID),
			zap.String("provider_status", sub.NormalizedStatus()))
		return Result{Outcome: OutcomeIgnored, TenantID: tenant.ID, Status: tenant.BillingStatus, Plan: tenant.Plan},
			"subscription " + sub.ID + " replaced by " + *tenant.ExternalSubscriptionID, nil
	}

	update, ok := r.subscriptionUpdate(tenant, sub)
	if !ok {
		return Result{Outcome: OutcomeIgnored, TenantID: tenant.ID, Status: tenant.BillingStatus, Plan: tenant.Plan},
			"unhandled subscription status " + sub.Status, nil
	}

	if update.SubscriptionUpdatedAt != nil && tenant.SubscriptionUpdatedAt != nil &&
		update.SubscriptionUpdatedAt.Before(*tenant.SubscriptionUpdatedAt) {
		return r.stale(tenant, sub)
	}

	applied, err := r.tenants.ApplyBillingUpdate(ctx, tenant.ID, update)
	if err != nil {
		logger.Get().Error("failed to update tenant billing",
			zap.String("tenant_id", tenant.ID),
			zap.String("subscription_id", sub.ID),
			zap.Error(err))
		return Result{Outcome: OutcomeStoreError, TenantID: tenant.ID}, "", fmt.Errorf("update tenant %s: %w", tenant.ID, err)
	}
	if !applied {
		return r.stale(tenant, sub)
	}

	update.Apply(tenant)
	metrics.BillingTransitionsTotal.WithLabelValues(string(tenant.BillingStatus)).Inc()
	logger.Get().Info("tenant billing updated",
		zap.String("tenant_id", tenant.ID),
		zap.String("subscription_id", sub.ID),
		zap.String("provider_status", sub.NormalizedStatus()),
		zap.String("billing_status", string(tenant.BillingStatus)),
		zap.String("plan", string(tenant.Plan)))

	r.publish(ctx, tenant)
	return Result{Outcome: OutcomeApplied, TenantID: tenant.ID, Status: tenant.BillingStatus, Plan: tenant.Plan}, "", nil
}

func (r *Reconciler) stale(tenant *models.Tenant, sub *mercadopago.Preapproval) (Result, string, error) {
	logger.Get().Warn("stale subscription state skipped",
		zap.String("tenant_id", tenant.ID),
		zap.String("subscription_id", sub.ID),
		zap.String("provider_status", sub.NormalizedStatus()))
	return Result{Outcome: OutcomeStale, TenantID: tenant.ID, Status: tenant.BillingStatus, Plan: tenant.Plan},
		"provider state older than stored state", nil
}

// superseded reports whether sub is an older subscription the tenant has
// since replaced. Only an authorization may take over from the stored
// subscription; a late cancel or pause of the old one must not touch it.
func superseded(tenant *models.Tenant, sub *mercadopago.Preapproval) bool {
	if tenant.ExternalSubscriptionID == nil || *tenant.ExternalSubscriptionID == sub.ID {
		return false
	}
	return sub.NormalizedStatus() != mercadopago.StatusAuthorized
}

// subscriptionUpdate maps a provider subscription onto the tenant. ok is false
// for statuses that do not drive a transition.
func (r *Reconciler) subscriptionUpdate(tenant *models.Tenant, sub *mercadopago.Preapproval) (models.TenantBillingUpdate, bool) {
	providerStatus := sub.NormalizedStatus()
	update := models.TenantBillingUpdate{
		ExternalSubscriptionStatus: &providerStatus,
		SubscriptionUpdatedAt:      sub.LastModified,
	}

	switch providerStatus {
	case mercadopago.StatusAuthorized:
		tier := r.mappedTier(tenant, sub.PreapprovalPlanID)
		status := models.BillingStatusActive
		update.Plan = &tier
		update.BillingStatus = &status
		update.ExternalSubscriptionID = stringPtr(sub.ID)
		update.ExternalPlanID = stringPtr(sub.PreapprovalPlanID)
		update.NextPaymentDate = sub.NextPaymentDate

	case mercadopago.StatusCancelled, mercadopago.StatusEnded:
		free := models.PlanFree
		status := models.BillingStatusCancelled
		if providerStatus == mercadopago.StatusEnded {
			status = models.BillingStatusEnded
		}
		update.Plan = &free
		update.BillingStatus = &status
		update.ClearSubscription = true

	case mercadopago.StatusPaused:
		free := models.PlanFree
		status := models.BillingStatusPaused
		update.Plan = &free
		update.BillingStatus = &status

	case mercadopago.StatusPending:
		status := models.BillingStatusPending
		update.BillingStatus = &status
		update.ExternalSubscriptionID = stringPtr(sub.ID)
		update.ExternalPlanID = stringPtr(sub.PreapprovalPlanID)

	default:
		return models.TenantBillingUpdate{}, false
	}
	return update, true
}

// mappedTier resolves the provider plan id, keeping the tenant's tier when the
// id is not in the plan table.
func (r *Reconciler) mappedTier(tenant *models.Tenant, externalPlanID string) models.PlanTier {
	if plan, ok := r.plans.ByExternalID(externalPlanID); ok {
		return plan.Tier
	}
	metrics.UnmappedPlansTotal.Inc()
	logger.Get().Warn("unmapped external plan id, keeping current tier",
		zap.String("tenant_id", tenant.ID),
		zap.String("external_plan_id", externalPlanID),
		zap.String("current_plan", string(tenant.Plan)))
	return tenant.Plan
}

func (r *Reconciler) recordPayment(ctx context.Context, n Notification) (Result, string, error) {
	payment, err := r.provider.GetPayment(ctx, n.ResourceID)
	if errors.Is(err, mercadopago.ErrInvalidID) {
		return Result{Outcome: OutcomeIgnored}, err.Error(), nil
	}
	if err != nil {
		logger.Get().Error("failed to fetch payment",
			zap.String("resource_id", n.ResourceID),
			zap.Error(err))
		return Result{Outcome: OutcomeUpstreamError}, "", &UpstreamError{Resource: "payment", ID: n.ResourceID, Err: err}
	}

	tenant, err := r.resolveTenant(ctx, payment.ExternalReference, payment.Payer.Email)
	if err != nil {
		return r.resolveFailure(err, n, payment.ExternalReference, payment.Payer.Email)
	}

	logger.Get().Info("payment notification recorded",
		zap.String("tenant_id", tenant.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("status", payment.Status),
		zap.String("amount", payment.TransactionAmount.String()))
	return Result{Outcome: OutcomeRecorded, TenantID: tenant.ID, Status: tenant.BillingStatus, Plan: tenant.Plan},
		"payment " + payment.Status, nil
}

// resolveTenant prefers the external reference set at checkout and falls
// back to an exact payer email match.
func (r *Reconciler) resolveTenant(ctx context.Context, externalReference, email string) (*models.Tenant, error) {
	if ref := strings.TrimSpace(externalReference); ref != "" {
		t, err := r.tenants.GetTenant(ctx, ref)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrTenantNotFound) {
			return nil, err
		}
	}
	if email = strings.TrimSpace(email); email != "" {
		return r.tenants.FindTenantByEmail(ctx, email)
	}
	return nil, ErrTenantNotFound
}

func (r *Reconciler) resolveFailure(err error, n Notification, externalReference, email string) (Result, string, error) {
	if errors.Is(err, ErrTenantNotFound) {
		logger.Get().Error("no tenant matches webhook, manual reconciliation required",
			zap.String("type", n.Type),
			zap.String("resource_id", n.ResourceID),
			zap.String("external_reference", externalReference),
			zap.String("payer_email", email))
		return Result{Outcome: OutcomeTenantNotFound}, "no tenant for external reference or payer email", nil
	}
	logger.Get().Error("failed to resolve tenant",
		zap.String("resource_id", n.ResourceID),
		zap.Error(err))
	return Result{Outcome: OutcomeStoreError}, "", fmt.Errorf("resolve tenant: %w", err)
}

func (r *Reconciler) publish(ctx context.Context, t *models.Tenant) {
	if r.publisher == nil {
		return
	}
	change := models.BillingChange{
		TenantID:             t.ID,
		Plan:                 t.Plan,
		BillingStatus:        t.BillingStatus,
		ExternalSubscription: t.ExternalSubscriptionID,
		Source:               providerName,
		OccurredAt:           r.now().UTC(),
	}
	if err := r.publisher.PublishBillingChange(ctx, change); err != nil {
		logger.Get().Warn("failed to publish billing change",
			zap.String("tenant_id", t.ID),
			zap.Error(err))
	}
}

func (r *Reconciler) journalEvent(ctx context.Context, n Notification, res Result, detail string) {
	if r.journal == nil {
		return
	}
	event := models.WebhookEvent{
		Provider:       providerName,
		NotificationID: n.ID,
		EventType:      n.Type,
		Action:         n.Action,
		ResourceID:     n.ResourceID,
		TenantID:       res.TenantID,
		Outcome:        string(res.Outcome),
		Detail:         detail,
		SignatureValid: n.SignatureValid,
		ReceivedAt:     r.now().UTC(),
	}
	if err := r.journal.RecordWebhookEvent(ctx, event); err != nil {
		logger.Get().Warn("failed to journal webhook event",
			zap.String("resource_id", n.ResourceID),
			zap.Error(err))
	}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
