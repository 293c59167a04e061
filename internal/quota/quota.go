// Package quota decides whether a contractor may submit an offer and records
// submissions against the monthly quota.
package quota

import (
	"fmt"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/plans"
)

// Reason is a machine-readable denial code.
type Reason string

const (
	ReasonRoleMismatch         Reason = "role_mismatch"
	ReasonSubscriptionRequired Reason = "subscription_required"
	ReasonOfferLimitReached    Reason = "offer_limit_reached"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
	Limit   *int // nil when unlimited
	Used    int
}

// Err renders a denial as a 403 error carrying the limit and used counters.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	e := apperr.Forbidden(string(d.Reason), d.Message)
	if d.Reason == ReasonOfferLimitReached {
		used := d.Used
		e.Limit = d.Limit
		e.Used = &used
	}
	return e
}

// Engine evaluates quota decisions against the plan registry.
type Engine struct {
	plans *plans.Registry
}

// NewEngine creates an engine.
func NewEngine(registry *plans.Registry) *Engine {
	return &Engine{plans: registry}
}

// CanSubmitOffer checks, in order, role, subscription status, plan and the
// plan's monthly limit.
func (e *Engine) CanSubmitOffer(user *auth.Principal) Decision {
	if user.Role != auth.RoleContractor {
		return Decision{Reason: ReasonRoleMismatch, Message: "only contractors can submit offers"}
	}
	if user.SubscriptionStatus != entitlement.StatusActive {
		return Decision{Reason: ReasonSubscriptionRequired, Message: "an active subscription is required to submit offers"}
	}
	if user.PlanType == nil {
		return Decision{Reason: ReasonSubscriptionRequired, Message: "an active plan is required to submit offers"}
	}

	plan, ok := e.plans.Get(*user.PlanType)
	if !ok {
		return Decision{Reason: ReasonSubscriptionRequired, Message: "an active plan is required to submit offers"}
	}
	used := user.OfferCountThisMonth
	if plan.MonthlyOfferLimit != nil && used >= *plan.MonthlyOfferLimit {
		limit := *plan.MonthlyOfferLimit
		return Decision{
			Reason:  ReasonOfferLimitReached,
			Message: fmt.Sprintf("monthly offer limit reached: %d of %d offers used", used, limit),
			Limit:   &limit,
			Used:    used,
		}
	}
	return Decision{Allowed: true, Limit: plan.MonthlyOfferLimit, Used: used}
}
