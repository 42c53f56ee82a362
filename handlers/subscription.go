package handlers

import (
	"clinipratica/api/billing"
	"clinipratica/api/logger"
	"clinipratica/api/mercadopago"
	"clinipratica/api/models"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TenantRepository is the tenant persistence the subscription routes use.
type TenantRepository interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	ApplyBillingUpdate(ctx context.Context, id string, update models.TenantBillingUpdate) (bool, error)
}

type SubscriptionHandler struct {
	tenants   TenantRepository
	plans     *billing.PlanTable
	trialDays int
	now       func() time.Time
}

func NewSubscriptionHandler(tenants TenantRepository, plans *billing.PlanTable, trialDays int) *SubscriptionHandler {
	return &SubscriptionHandler{tenants: tenants, plans: plans, trialDays: trialDays, now: time.Now}
}

type CreateTenantRequest struct {
	Name string          `json:"name" binding:"required"`
	Plan models.PlanTier `json:"plan"`
}

type ChangePlanRequest struct {
	Plan models.PlanTier `json:"plan" binding:"required"`
}

type SubscriptionResponse struct {
	Tenant          *models.Tenant       `json:"tenant"`
	EffectiveStatus models.BillingStatus `json:"effective_status"`
	Plan            billing.Plan         `json:"plan"`
	Plans           []billing.Plan       `json:"plans"`
}

// HandleCreateTenant creates the tenant of the authenticated user at signup.
func (h *SubscriptionHandler) HandleCreateTenant(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant, err := billing.NewTenant(claims.Sub, req.Name, claims.Email, req.Plan, h.now(), h.trialDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tenants.CreateTenant(c.Request.Context(), tenant); err != nil {
		if errors.Is(err, billing.ErrTenantExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Tenant already exists"})
			return
		}
		logger.Get().Error("failed to create tenant", zap.String("tenant_id", tenant.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating tenant"})
		return
	}

	logger.Get().Info("tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("billing_status", string(tenant.BillingStatus)))
	c.JSON(http.StatusCreated, h.subscriptionResponse(tenant))
}

func (h *SubscriptionHandler) HandleGetSubscription(c *gin.Context) {
	tenant, ok := h.loadTenant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.subscriptionResponse(tenant))
}

func (h *SubscriptionHandler) HandleCancelTrial(c *gin.Context) {
	tenant, ok := h.loadTenant(c)
	if !ok {
		return
	}

	update, err := billing.CancelTrial(tenant, h.now())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if !h.apply(c, tenant, update) {
		return
	}
	c.JSON(http.StatusOK, h.subscriptionResponse(tenant))
}

// HandleChangePlan downgrades to Free directly. Paid tiers answer 402 with
// the checkout link; the tier is granted once the provider authorizes it.
func (h *SubscriptionHandler) HandleChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant, ok := h.loadTenant(c)
	if !ok {
		return
	}

	update, plan, err := billing.RequestPlanChange(tenant, req.Plan, h.plans)
	switch {
	case errors.Is(err, billing.ErrCheckoutRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":            err.Error(),
			"plan":             plan,
			"checkout_url":     mercadopago.CheckoutURL(plan.ExternalPlanID),
			"external_plan_id": plan.ExternalPlanID,
		})
		return
	case errors.Is(err, billing.ErrUnknownPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, billing.ErrActiveSubscription):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !h.apply(c, tenant, update) {
		return
	}
	c.JSON(http.StatusOK, h.subscriptionResponse(tenant))
}

func (h *SubscriptionHandler) loadTenant(c *gin.Context) (*models.Tenant, bool) {
	claims, ok := currentUser(c)
	if !ok {
		return nil, false
	}
	tenant, err := h.tenants.GetTenant(c.Request.Context(), claims.Sub)
	if err != nil {
		if errors.Is(err, billing.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return nil, false
		}
		logger.Get().Error("failed to load tenant", zap.String("tenant_id", claims.Sub), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading tenant"})
		return nil, false
	}
	return tenant, true
}

// apply writes a user-initiated update. It carries no provider timestamp, so
// the store applies it unconditionally.
func (h *SubscriptionHandler) apply(c *gin.Context, tenant *models.Tenant, update models.TenantBillingUpdate) bool {
	applied, err := h.tenants.ApplyBillingUpdate(c.Request.Context(), tenant.ID, update)
	if err != nil || !applied {
		logger.Get().Error("failed to update tenant",
			zap.String("tenant_id", tenant.ID),
			zap.Bool("applied", applied),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error updating tenant"})
		return false
	}
	update.Apply(tenant)
	return true
}

func (h *SubscriptionHandler) subscriptionResponse(tenant *models.Tenant) SubscriptionResponse {
	plan, _ := h.plans.ByTier(tenant.Plan)
	return SubscriptionResponse{
		Tenant:          tenant,
		EffectiveStatus: billing.EffectiveBillingStatus(tenant, h.now()),
		Plan:            plan,
		Plans:           h.plans.All(),
	}
}
