package mongodb

import (
	"clinipratica/api/billing"
	"clinipratica/api/models"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := collection(TenantCollection).InsertOne(ctx, tenant)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", billing.ErrTenantExists, tenant.ID)
		}
		return fmt.Errorf("error creating tenant: %w", err)
	}
	return nil
}

func GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	return findTenant(ctx, bson.M{"_id": id})
}

func FindTenantByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	return findTenant(ctx, bson.M{"email": email})
}

func findTenant(ctx context.Context, filter bson.M) (*models.Tenant, error) {
	var tenant models.Tenant
	err := collection(TenantCollection).FindOne(ctx, filter).Decode(&tenant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, billing.ErrTenantNotFound
		}
		return nil, fmt.Errorf("error fetching tenant: %w", err)
	}
	return &tenant, nil
}

// ApplyTenantBillingUpdate writes update with one UpdateOne. When the update
// carries a provider timestamp the filter also requires the stored one to be
// missing or not newer, so an out-of-order delivery matches nothing.
func ApplyTenantBillingUpdate(ctx context.Context, id string, update models.TenantBillingUpdate) (bool, error) {
	result, err := collection(TenantCollection).UpdateOne(ctx, billingFilter(id, update), bson.M{"$set": billingSetFields(update, time.Now().UTC())})
	if err != nil {
		return false, fmt.Errorf("error updating tenant %s: %w", id, err)
	}
	return result.MatchedCount > 0, nil
}

func billingFilter(id string, u models.TenantBillingUpdate) bson.M {
	filter := bson.M{"_id": id}
	if u.SubscriptionUpdatedAt != nil {
		filter["$or"] = bson.A{
			bson.M{"subscription_updated_at": nil},
			bson.M{"subscription_updated_at": bson.M{"$lte": *u.SubscriptionUpdatedAt}},
		}
	}
	return filter
}

func billingSetFields(u models.TenantBillingUpdate, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if u.Plan != nil {
		set["plan"] = *u.Plan
	}
	if u.BillingStatus != nil {
		set["billing_status"] = *u.BillingStatus
	}
	if u.ExternalSubscriptionID != nil {
		set["external_subscription_id"] = *u.ExternalSubscriptionID
	}
	if u.ExternalPlanID != nil {
		set["external_plan_id"] = *u.ExternalPlanID
	}
	if u.ExternalSubscriptionStatus != nil {
		set["external_subscription_status"] = *u.ExternalSubscriptionStatus
	}
	if u.NextPaymentDate != nil {
		set["next_payment_date"] = *u.NextPaymentDate
	}
	if u.SubscriptionUpdatedAt != nil {
		set["subscription_updated_at"] = *u.SubscriptionUpdatedAt
	}
	if u.TrialEndsAt != nil {
		set["trial_ends_at"] = *u.TrialEndsAt
	}
	if u.ClearSubscription {
		set["external_subscription_id"] = nil
		set["external_plan_id"] = nil
		set["next_payment_date"] = nil
	}
	return set
}

// TenantStore adapts the package functions to billing.TenantStore.
type TenantStore struct{}

func (TenantStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return GetTenantByID(ctx, id)
}

func (TenantStore) FindTenantByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	return FindTenantByEmail(ctx, email)
}

func (TenantStore) ApplyBillingUpdate(ctx context.Context, id string, update models.TenantBillingUpdate) (bool, error) {
	return ApplyTenantBillingUpdate(ctx, id, update)
}

func (TenantStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	return CreateTenant(ctx, tenant)
}
