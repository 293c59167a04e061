// Package plans maps subscription plans to Stripe price identifiers and
// monthly offer quotas.
package plans

import "strings"

// Type identifies a subscription plan.
type Type string

const (
	Basic Type = "basic"
	Pro   Type = "pro"
)

// Cycle is the billing interval of a price.
type Cycle string

const (
	Monthly Cycle = "monthly"
	Yearly  Cycle = "yearly"
)

// BasicMonthlyOfferLimit is the number of offers a Basic contractor may submit per billing period.
const BasicMonthlyOfferLimit = 10

// Plan is the static definition of a purchasable plan.
type Plan struct {
	Type              Type   `json:"type"`
	MonthlyPriceID    string `json:"monthlyPriceId"`
	YearlyPriceID     string `json:"yearlyPriceId"`
	MonthlyOfferLimit *int   `json:"monthlyOfferLimit"` // nil means unlimited
}

// PriceID returns the price for cycle, or "" when unset.
func (p Plan) PriceID(cycle Cycle) string {
	if cycle == Yearly {
		return p.YearlyPriceID
	}
	return p.MonthlyPriceID
}

// Unlimited reports whether the plan has no offer quota.
func (p Plan) Unlimited() bool {
	return p.MonthlyOfferLimit == nil
}

// PriceOverrides are operator-configured price identifiers persisted in settings.
// Empty values fall back to the static registry.
type PriceOverrides struct {
	BasicMonthly string `json:"basicMonthly,omitempty"`
	BasicYearly  string `json:"basicYearly,omitempty"`
	ProMonthly   string `json:"proMonthly,omitempty"`
	ProYearly    string `json:"proYearly,omitempty"`
}

// Registry is a read-only set of plans.
type Registry struct {
	plans map[Type]Plan
}

// NewRegistry builds the registry from statically configured price identifiers.
func NewRegistry(prices PriceOverrides) *Registry {
	limit := BasicMonthlyOfferLimit
	return &Registry{plans: map[Type]Plan{
		Basic: {
			Type:              Basic,
			MonthlyPriceID:    strings.TrimSpace(prices.BasicMonthly),
			YearlyPriceID:     strings.TrimSpace(prices.BasicYearly),
			MonthlyOfferLimit: &limit,
		},
		Pro: {
			Type:           Pro,
			MonthlyPriceID: strings.TrimSpace(prices.ProMonthly),
			YearlyPriceID:  strings.TrimSpace(prices.ProYearly),
		},
	}}
}

// WithOverrides returns a registry where each non-empty override replaces the
// static price identifier. The receiver is not modified.
func (r *Registry) WithOverrides(o PriceOverrides) *Registry {
	merged := make(map[Type]Plan, len(r.plans))
	for t, p := range r.plans {
		merged[t] = p
	}
	apply := func(t Type, monthly, yearly string) {
		p := merged[t]
		if v := strings.TrimSpace(monthly); v != "" {
			p.MonthlyPriceID = v
		}
		if v := strings.TrimSpace(yearly); v != "" {
			p.YearlyPriceID = v
		}
		merged[t] = p
	}
	apply(Basic, o.BasicMonthly, o.BasicYearly)
	apply(Pro, o.ProMonthly, o.ProYearly)
	return &Registry{plans: merged}
}

// Get returns the plan for t.
func (r *Registry) Get(t Type) (Plan, bool) {
	p, ok := r.plans[t]
	return p, ok
}

// All returns every plan ordered Basic, Pro.
func (r *Registry) All() []Plan {
	return []Plan{r.plans[Basic], r.plans[Pro]}
}

// ResolvePriceID returns the price identifier for plan and cycle, or "" when
// none is configured.
func (r *Registry) ResolvePriceID(t Type, cycle Cycle) string {
	p, ok := r.plans[t]
	if !ok {
		return ""
	}
	return p.PriceID(cycle)
}

// ResolvePlanByPriceID maps a Stripe price identifier back to its plan.
func (r *Registry) ResolvePlanByPriceID(priceID string) (Plan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range r.All() {
		if p.MonthlyPriceID == priceID || p.YearlyPriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

// ParseType normalises a plan name; unknown names return false.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case Basic:
		return Basic, true
	case Pro:
		return Pro, true
	default:
		return "", false
	}
}

// ParseCycle normalises a billing cycle; empty defaults to monthly.
func ParseCycle(s string) (Cycle, bool) {
	switch Cycle(strings.ToLower(strings.TrimSpace(s))) {
	case "", Monthly:
		return Monthly, true
	case Yearly:
		return Yearly, true
	default:
		return "", false
	}
}
