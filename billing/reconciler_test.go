package billing

import (
	"clinipratica/api/mercadopago"
	"clinipratica/api/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTenants struct {
	mu      sync.Mutex
	tenants map[string]*models.Tenant
	writes  int
}

func newMemoryTenants(tenants ...*models.Tenant) *memoryTenants {
	m := &memoryTenants{tenants: make(map[string]*models.Tenant)}
	for _, t := range tenants {
		m.tenants[t.ID] = t
	}
	return m
}

func (m *memoryTenants) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryTenants) FindTenantByEmail(_ context.Context, email string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Email == email {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (m *memoryTenants) ApplyBillingUpdate(_ context.Context, id string, update models.TenantBillingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return false, nil
	}
	if update.SubscriptionUpdatedAt != nil && t.SubscriptionUpdatedAt != nil &&
		t.SubscriptionUpdatedAt.After(*update.SubscriptionUpdatedAt) {
		return false, nil
	}
	m.writes++
	update.Apply(t)
	return true, nil
}

func (m *memoryTenants) get(id string) models.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tenants[id]
}

type fakeProvider struct {
	preapprovals map[string]*mercadopago.Preapproval
	payments     map[string]*mercadopago.Payment
	err          error
	calls        int
}

func (f *fakeProvider) GetPreapproval(_ context.Context, id string) (*mercadopago.Preapproval, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.preapprovals[id]
	if !ok {
		return nil, mercadopago.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProvider) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, mercadopago.ErrNotFound
	}
	return p, nil
}

type recordingJournal struct{ events []models.WebhookEvent }

func (j *recordingJournal) RecordWebhookEvent(_ context.Context, e models.WebhookEvent) error {
	j.events = append(j.events, e)
	return nil
}

type recordingPublisher struct {
	changes []models.BillingChange
	err     error
}

func (p *recordingPublisher) PublishBillingChange(_ context.Context, c models.BillingChange) error {
	p.changes = append(p.changes, c)
	return p.err
}

var (
	testNow   = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	testPlans = NewPlanTable(DefaultPlans(map[string]string{
		"essential":    "plan-essential",
		"professional": "plan-professional",
		"clinic":       "plan-clinic",
	}))
)

func ptr[T any](v T) *T { return &v }

func trialTenant() *models.Tenant {
	return &models.Tenant{
		ID:            "tenant-1",
		Name:          "Clínica Sorriso",
		Email:         "contato@sorriso.example",
		Plan:          models.PlanFree,
		BillingStatus: models.BillingStatusTrial,
		TrialEndsAt:   ptr(testNow.AddDate(0, 0, 5)),
	}
}

func subscribedTenant() *models.Tenant {
	return &models.Tenant{
		ID:                     "tenant-1",
		Email:                  "contato@sorriso.example",
		Plan:                   models.PlanProfessional,
		BillingStatus:          models.BillingStatusActive,
		ExternalSubscriptionID: ptr("sub-1"),
		ExternalPlanID:         ptr("plan-professional"),
		NextPaymentDate:        ptr(testNow.AddDate(0, 1, 0)),
	}
}

func preapproval(status, planID string, modified time.Time) *mercadopago.Preapproval {
	return &mercadopago.Preapproval{
		ID:                "sub-1",
		Status:            status,
		PayerEmail:        "contato@sorriso.example",
		PreapprovalPlanID: planID,
		ExternalReference: "tenant-1",
		NextPaymentDate:   ptr(testNow.AddDate(0, 1, 0)),
		LastModified:      &modified,
	}
}

func newTestReconciler(store TenantStore, provider ProviderClient, opts ...Option) *Reconciler {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewReconciler(store, provider, testPlans, opts...)
}

func subscriptionEvent() Notification {
	return Notification{ID: "evt-1", Type: "subscription_preapproval", Action: "updated", ResourceID: "sub-1", SignatureValid: true}
}

func TestAuthorizedAppliesMappedTier(t *testing.T) {
	for _, tc := range []struct {
		planID string
		want   models.PlanTier
	}{
		{"plan-essential", models.PlanEssential},
		{"plan-professional", models.PlanProfessional},
		{"plan-clinic", models.PlanClinic},
	} {
		t.Run(string(tc.want), func(t *testing.T) {
			store := newMemoryTenants(trialTenant())
			provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
				"sub-1": preapproval("authorized", tc.planID, testNow),
			}}
			publisher := &recordingPublisher{}

			res, err := newTestReconciler(store, provider, WithPublisher(publisher)).HandleNotification(context.Background(), subscriptionEvent())
			require.NoError(t, err)
			assert.Equal(t, OutcomeApplied, res.Outcome)

			got := store.get("tenant-1")
			assert.Equal(t, tc.want, got.Plan)
			assert.Equal(t, models.BillingStatusActive, got.BillingStatus)
			assert.Equal(t, "sub-1", *got.ExternalSubscriptionID)
			assert.Equal(t, tc.planID, *got.ExternalPlanID)
			assert.Equal(t, "authorized", *got.ExternalSubscriptionStatus)
			require.NotNil(t, got.NextPaymentDate)
			assert.True(t, got.NextPaymentDate.Equal(testNow.AddDate(0, 1, 0)))

			require.Len(t, publisher.changes, 1)
			assert.Equal(t, tc.want, publisher.changes[0].Plan)
			assert.Equal(t, "mercadopago", publisher.changes[0].Source)
		})
	}
}

func TestCancelledAndEndedRevertToFree(t *testing.T) {
	for _, status := range []string{"cancelled", "canceled", "ended"} {
		t.Run(status, func(t *testing.T) {
			store := newMemoryTenants(subscribedTenant())
			provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
				"sub-1": preapproval(status, "plan-professional", testNow),
			}}

			res, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
			require.NoError(t, err)
			assert.Equal(t, OutcomeApplied, res.Outcome)

			got := store.get("tenant-1")
			assert.Equal(t, models.PlanFree, got.Plan)
			assert.Nil(t, got.ExternalSubscriptionID)
			assert.Nil(t, got.ExternalPlanID)
			assert.Nil(t, got.NextPaymentDate)
			if status == "ended" {
				assert.Equal(t, models.BillingStatusEnded, got.BillingStatus)
			} else {
				assert.Equal(t, models.BillingStatusCancelled, got.BillingStatus)
			}
		})
	}
}

func TestCancelledFromAnyPriorState(t *testing.T) {
	priors := []*models.Tenant{trialTenant(), subscribedTenant(), {ID: "tenant-1", Plan: models.PlanClinic, BillingStatus: models.BillingStatusPaused, ExternalSubscriptionID: ptr("sub-1")}}
	for _, prior := range priors {
		store := newMemoryTenants(prior)
		provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
			"sub-1": preapproval("cancelled", "", testNow),
		}}
		_, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
		require.NoError(t, err)

		got := store.get("tenant-1")
		assert.Equal(t, models.PlanFree, got.Plan)
		assert.Nil(t, got.ExternalSubscriptionID)
	}
}

func TestPausedKeepsSubscriptionIdentifiers(t *testing.T) {
	store := newMemoryTenants(subscribedTenant())
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
		"sub-1": preapproval("paused", "plan-professional", testNow),
	}}

	_, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)

	got := store.get("tenant-1")
	assert.Equal(t, models.PlanFree, got.Plan)
	assert.Equal(t, models.BillingStatusPaused, got.BillingStatus)
	require.NotNil(t, got.ExternalSubscriptionID)
	assert.Equal(t, "sub-1", *got.ExternalSubscriptionID)
	require.NotNil(t, got.ExternalPlanID)
}

func TestPendingKeepsTier(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
		"sub-1": preapproval("pending", "plan-clinic", testNow),
	}}

	_, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)

	got := store.get("tenant-1")
	assert.Equal(t, models.PlanFree, got.Plan)
	assert.Equal(t, models.BillingStatusPending, got.BillingStatus)
	assert.Equal(t, "sub-1", *got.ExternalSubscriptionID)
}

func TestUnmappedPlanKeepsCurrentTier(t *testing.T) {
	tenant := subscribedTenant()
	tenant.Plan = models.PlanEssential
	store := newMemoryTenants(tenant)
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
		"sub-1": preapproval("authorized", "plan-from-a-promo", testNow),
	}}

	res, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	got := store.get("tenant-1")
	assert.Equal(t, models.PlanEssential, got.Plan)
	assert.Equal(t, models.BillingStatusActive, got.BillingStatus)
}

func TestIdempotentRedelivery(t *testing.T) {
	for _, status := range []string{"authorized", "cancelled", "paused"} {
		t.Run(status, func(t *testing.T) {
			store := newMemoryTenants(trialTenant())
			provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
				"sub-1": preapproval(status, "plan-clinic", testNow),
			}}
			r := newTestReconciler(store, provider)

			_, err := r.HandleNotification(context.Background(), subscriptionEvent())
			require.NoError(t, err)
			once := store.get("tenant-1")

			_, err = r.HandleNotification(context.Background(), subscriptionEvent())
			require.NoError(t, err)
			twice := store.get("tenant-1")

			assert.Equal(t, once, twice)
		})
	}
}

func TestStaleSubscriptionStateIsSkipped(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
		"sub-1": preapproval("cancelled", "plan-clinic", testNow.Add(time.Hour)),
	}}
	r := newTestReconciler(store, provider)

	_, err := r.HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)

	provider.preapprovals["sub-1"] = preapproval("authorized", "plan-clinic", testNow)
	res, err := r.HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)

	got := store.get("tenant-1")
	assert.Equal(t, models.PlanFree, got.Plan)
	assert.Equal(t, models.BillingStatusCancelled, got.BillingStatus)
	assert.Equal(t, 1, store.writes)
}

func TestResolveByPayerEmailFallback(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	sub := preapproval("authorized", "plan-essential", testNow)
	sub.ExternalReference = "unknown-ref"
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{"sub-1": sub}}

	res, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", res.TenantID)
	assert.Equal(t, models.PlanEssential, store.get("tenant-1").Plan)
}

func TestTenantNotFoundIsAcknowledgedWithoutWrites(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	sub := preapproval("authorized", "plan-essential", testNow)
	sub.ExternalReference = ""
	sub.PayerEmail = "stranger@example.com"
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{"sub-1": sub}}
	journal := &recordingJournal{}

	res, err := newTestReconciler(store, provider, WithJournal(journal)).HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeTenantNotFound, res.Outcome)
	assert.Equal(t, 0, store.writes)

	require.Len(t, journal.events, 1)
	assert.Equal(t, string(OutcomeTenantNotFound), journal.events[0].Outcome)
}

func TestProviderFailureIsRetryable(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	provider := &fakeProvider{err: errors.New("connection reset by peer")}

	res, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
	require.Error(t, err)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "preapproval", upstream.Resource)
	assert.Equal(t, OutcomeUpstreamError, res.Outcome)
	assert.Equal(t, 0, store.writes)
}

func TestPaymentEventsAreRecordOnly(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	provider := &fakeProvider{payments: map[string]*mercadopago.Payment{
		"555": {ID: 555, Status: "approved", ExternalReference: "tenant-1", TransactionAmount: decimal.RequireFromString("79.90")},
	}}
	journal := &recordingJournal{}

	res, err := newTestReconciler(store, provider, WithJournal(journal)).HandleNotification(context.Background(),
		Notification{ID: "evt-2", Type: "payment", Action: "payment.created", ResourceID: "555"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.Equal(t, "tenant-1", res.TenantID)
	assert.Equal(t, 0, store.writes)

	require.Len(t, journal.events, 1)
	assert.Equal(t, "tenant-1", journal.events[0].TenantID)
	assert.True(t, strings.HasPrefix(journal.events[0].Detail, "payment approved"))
}

func TestIgnoredEvents(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	provider := &fakeProvider{}
	r := newTestReconciler(store, provider)

	res, err := r.HandleNotification(context.Background(), Notification{Type: "merchant_order", ResourceID: "1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res, err = r.HandleNotification(context.Background(), Notification{Type: "preapproval"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	assert.Equal(t, 0, provider.calls)
	assert.Equal(t, 0, store.writes)
}

func TestUnknownProviderStatusIsIgnored(t *testing.T) {
	store := newMemoryTenants(subscribedTenant())
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
		"sub-1": preapproval("in_review", "plan-clinic", testNow),
	}}

	res, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, 0, store.writes)
}

func TestPublishFailureDoesNotFailDelivery(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
		"sub-1": preapproval("authorized", "plan-clinic", testNow),
	}}
	publisher := &recordingPublisher{err: errors.New("broker down")}

	res, err := newTestReconciler(store, provider, WithPublisher(publisher)).HandleNotification(context.Background(), subscriptionEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Len(t, publisher.changes, 1)
}

func TestInvalidPaymentIDIsIgnored(t *testing.T) {
	store := newMemoryTenants(trialTenant())
	provider := &fakeProvider{err: fmt.Errorf("%w: payment %q", mercadopago.ErrInvalidID, "abc")}

	res, err := newTestReconciler(store, provider).HandleNotification(context.Background(),
		Notification{Type: "payment", ResourceID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestLateEventsForReplacedSubscription(t *testing.T) {
	replaced := func() *models.Tenant {
		tenant := subscribedTenant()
		tenant.Plan = models.PlanClinic
		tenant.ExternalSubscriptionID = ptr("sub-2")
		tenant.ExternalPlanID = ptr("plan-clinic")
		return tenant
	}

	for _, status := range []string{"cancelled", "ended", "paused", "pending"} {
		t.Run(status, func(t *testing.T) {
			store := newMemoryTenants(replaced())
			provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
				"sub-1": preapproval(status, "plan-professional", testNow.Add(time.Hour)),
			}}

			res, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, res.Outcome)
			assert.Equal(t, 0, store.writes)

			got := store.get("tenant-1")
			assert.Equal(t, models.PlanClinic, got.Plan)
			assert.Equal(t, models.BillingStatusActive, got.BillingStatus)
			assert.Equal(t, "sub-2", *got.ExternalSubscriptionID)
		})
	}

	t.Run("authorized takes over", func(t *testing.T) {
		store := newMemoryTenants(replaced())
		provider := &fakeProvider{preapprovals: map[string]*mercadopago.Preapproval{
			"sub-1": preapproval("authorized", "plan-professional", testNow.Add(time.Hour)),
		}}

		res, err := newTestReconciler(store, provider).HandleNotification(context.Background(), subscriptionEvent())
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, "sub-1", *store.get("tenant-1").ExternalSubscriptionID)
		assert.Equal(t, models.PlanProfessional, store.get("tenant-1").Plan)
	})
}
