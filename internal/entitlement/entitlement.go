// Package entitlement reads and mutates a user's billing entitlement: the
// subscription status, plan, current period end and monthly offer counter.
package entitlement

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

// Status is the internal subscription state.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusNone     Status = "none"
)

// ParseStatus validates an internal status name.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusActive, StatusPastDue, StatusCanceled, StatusNone:
		return st, true
	default:
		return "", false
	}
}

const (
	colID         = "id"
	colCustomerID = "stripe_customer_id"
	colStatus     = "subscription_status"
	colPlanType   = "plan_type"
	colOfferCount = "offer_count_this_month"
	colPeriodEnd  = "subscription_current_period_end"
	colLastEvent  = "last_event_at"
	colLastID     = "last_event_id"
	colUpdatedAt  = "updated_at"
)

var columns = []string{colID, colCustomerID, colStatus, colPlanType, colOfferCount, colPeriodEnd, colLastEvent, colLastID}

// Entitlement is the billing-derived permission state of one user.
type Entitlement struct {
	UserID              string      `json:"userId"`
	StripeCustomerID    *string     `json:"stripeCustomerId"`
	SubscriptionStatus  Status      `json:"subscriptionStatus"`
	PlanType            *plans.Type `json:"planType"`
	OfferCountThisMonth int         `json:"offerCountThisMonth"`
	CurrentPeriodEnd    *time.Time  `json:"subscriptionCurrentPeriodEnd"`
	LastEventAt         *time.Time  `json:"-"`
	LastEventID         *string     `json:"-"`
}

func fromRow(r store.Row) *Entitlement {
	e := &Entitlement{
		UserID:              r.String(colID),
		StripeCustomerID:    r.NullString(colCustomerID),
		SubscriptionStatus:  Status(r.String(colStatus)),
		OfferCountThisMonth: int(r.Int64(colOfferCount)),
		CurrentPeriodEnd:    r.NullTime(colPeriodEnd),
		LastEventAt:         r.NullTime(colLastEvent),
		LastEventID:         r.NullString(colLastID),
	}
	if e.SubscriptionStatus == "" {
		e.SubscriptionStatus = StatusNone
	}
	if pt := r.NullString(colPlanType); pt != nil {
		t := plans.Type(*pt)
		e.PlanType = &t
	}
	return e
}

// Field is an optional patch value. Set distinguishes writing NULL (Value nil)
// from leaving the column unchanged.
type Field[T any] struct {
	Value *T
	Set   bool
}

// Value sets the column to v.
func Value[T any](v T) Field[T] {
	return Field[T]{Value: &v, Set: true}
}

// Null sets the column to NULL.
func Null[T any]() Field[T] {
	return Field[T]{Set: true}
}

// Patch is an absolute partial update of an entitlement.
type Patch struct {
	Status     Field[Status]
	PlanType   Field[plans.Type]
	PeriodEnd  Field[time.Time]
	OfferCount Field[int]
	CustomerID Field[string]

	// ResetOnNewPeriod zeroes the offer counter only when the stored row is not
	// yet active or its period ends before the patched PeriodEnd. It evaluates
	// against the stored row inside the UPDATE statement.
	ResetOnNewPeriod bool
}

// row converts the patch into column assignments, forcing plan_type to NULL
// whenever the status leaves Active.
func (p Patch) row(now time.Time) (store.Row, error) {
	if p.Status.Set && p.Status.Value == nil {
		return nil, fmt.Errorf("subscription status cannot be null")
	}
	if p.OfferCount.Set && (p.OfferCount.Value == nil || *p.OfferCount.Value < 0) {
		return nil, fmt.Errorf("offer count must be a non-negative integer")
	}
	if p.PlanType.Set && p.PlanType.Value != nil {
		if !p.Status.Set || *p.Status.Value != StatusActive {
			return nil, fmt.Errorf("plan type requires status %s in the same patch", StatusActive)
		}
	}

	if p.ResetOnNewPeriod {
		if p.OfferCount.Set {
			return nil, fmt.Errorf("offer count and period reset are mutually exclusive")
		}
		if !p.Status.Set || *p.Status.Value != StatusActive {
			return nil, fmt.Errorf("period reset requires status %s in the same patch", StatusActive)
		}
	}

	row := store.Row{colUpdatedAt: now.Unix()}
	if p.Status.Set {
		row[colStatus] = string(*p.Status.Value)
		if *p.Status.Value != StatusActive {
			row[colPlanType] = nil
		}
	}
	if p.PlanType.Set {
		if p.PlanType.Value == nil {
			row[colPlanType] = nil
		} else {
			row[colPlanType] = string(*p.PlanType.Value)
		}
	}
	if p.PeriodEnd.Set {
		row[colPeriodEnd] = store.UnixOrNil(p.PeriodEnd.Value)
	}
	if p.OfferCount.Set {
		row[colOfferCount] = int64(*p.OfferCount.Value)
	}
	if p.CustomerID.Set {
		row[colCustomerID] = store.StringOrNil(p.CustomerID.Value)
	}
	if p.ResetOnNewPeriod {
		row[colOfferCount] = resetOnNewPeriodExpr(p.PeriodEnd)
	}
	return row, nil
}

func resetOnNewPeriodExpr(periodEnd Field[time.Time]) sq.Sqlizer {
	if periodEnd.Set && periodEnd.Value != nil {
		return sq.Expr(
			"CASE WHEN "+colStatus+" <> ? OR "+colPeriodEnd+" IS NULL OR "+colPeriodEnd+" < ? THEN 0 ELSE "+colOfferCount+" END",
			string(StatusActive), periodEnd.Value.Unix(),
		)
	}
	return sq.Expr("CASE WHEN "+colStatus+" <> ? THEN 0 ELSE "+colOfferCount+" END", string(StatusActive))
}
