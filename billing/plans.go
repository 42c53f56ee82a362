package billing

import (
	"clinipratica/api/models"
	"strings"
)

// Feature flags gated by plan tier.
const (
	FeaturePatients          = "patients"
	FeatureAgenda            = "agenda"
	FeatureFinance           = "finance"
	FeatureMonthlyFees       = "monthly_fees"
	FeatureReports           = "reports"
	FeatureMessaging         = "messaging"
	FeatureMultiProfessional = "multi_professional"
)

// Plan is one row of the static plan table.
type Plan struct {
	Tier           models.PlanTier `json:"tier"`
	Name           string          `json:"name"`
	ExternalPlanID string          `json:"external_plan_id,omitempty"`
	PriceMonthly   int             `json:"price_monthly"` // cents, BRL
	MaxPatients    int             `json:"max_patients"`  // 0 = unlimited
	Features       []string        `json:"features"`
}

// HasFeature reports whether the plan enables feature.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// DefaultPlans returns the plan table with external ids taken from
// externalIDs, keyed by tier name.
func DefaultPlans(externalIDs map[string]string) []Plan {
	return []Plan{
		{
			Tier:         models.PlanFree,
			Name:         "Gratuito",
			PriceMonthly: 0,
			MaxPatients:  10,
			Features:     []string{FeaturePatients, FeatureAgenda},
		},
		{
			Tier:           models.PlanEssential,
			Name:           "Essencial",
			ExternalPlanID: externalIDs[string(models.PlanEssential)],
			PriceMonthly:   3990,
			MaxPatients:    50,
			Features:       []string{FeaturePatients, FeatureAgenda, FeatureFinance},
		},
		{
			Tier:           models.PlanProfessional,
			Name:           "Profissional",
			ExternalPlanID: externalIDs[string(models.PlanProfessional)],
			PriceMonthly:   7990,
			MaxPatients:    0,
			Features:       []string{FeaturePatients, FeatureAgenda, FeatureFinance, FeatureMonthlyFees, FeatureReports, FeatureMessaging},
		},
		{
			Tier:           models.PlanClinic,
			Name:           "Clínica",
			ExternalPlanID: externalIDs[string(models.PlanClinic)],
			PriceMonthly:   14990,
			MaxPatients:    0,
			Features: []string{
				FeaturePatients,
				FeatureAgenda,
				FeatureFinance,
				FeatureMonthlyFees,
				FeatureReports,
				FeatureMessaging,
				FeatureMultiProfessional,
			},
		},
	}
}

// PlanTable resolves plans by internal tier or external plan id. It is
// read-only after construction.
type PlanTable struct {
	plans      []Plan
	byTier     map[models.PlanTier]Plan
	byExternal map[string]Plan
}

// NewPlanTable indexes plans. Later entries win on duplicate keys; plans
// without an external id are only reachable by tier.
func NewPlanTable(plans []Plan) *PlanTable {
	t := &PlanTable{
		plans:      append([]Plan(nil), plans...),
		byTier:     make(map[models.PlanTier]Plan, len(plans)),
		byExternal: make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		t.byTier[p.Tier] = p
		if id := strings.TrimSpace(p.ExternalPlanID); id != "" {
			t.byExternal[id] = p
		}
	}
	return t
}

// All returns the plans in table order.
func (t *PlanTable) All() []Plan {
	return append([]Plan(nil), t.plans...)
}

// ByTier looks up a plan by internal tier.
func (t *PlanTable) ByTier(tier models.PlanTier) (Plan, bool) {
	p, ok := t.byTier[tier]
	return p, ok
}

// ByExternalID maps a provider plan id to its plan.
func (t *PlanTable) ByExternalID(externalID string) (Plan, bool) {
	p, ok := t.byExternal[strings.TrimSpace(externalID)]
	return p, ok
}
