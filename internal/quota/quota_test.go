package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/plans"
)

func planPtr(t plans.Type) *plans.Type { return &t }

func contractor(status entitlement.Status, plan *plans.Type, used int) *auth.Principal {
	return &auth.Principal{
		ID:                  "c1",
		Role:                auth.RoleContractor,
		SubscriptionStatus:  status,
		PlanType:            plan,
		OfferCountThisMonth: used,
	}
}

func TestCanSubmitOfferDecisionOrder(t *testing.T) {
	engine := NewEngine(plans.NewRegistry(plans.PriceOverrides{}))

	client := contractor(entitlement.StatusActive, planPtr(plans.Pro), 0)
	client.Role = auth.RoleClient

	tests := []struct {
		name    string
		user    *auth.Principal
		allowed bool
		reason  Reason
	}{
		{"client role", client, false, ReasonRoleMismatch},
		{"no subscription", contractor(entitlement.StatusNone, nil, 0), false, ReasonSubscriptionRequired},
		{"past due", contractor(entitlement.StatusPastDue, nil, 0), false, ReasonSubscriptionRequired},
		{"canceled", contractor(entitlement.StatusCanceled, nil, 0), false, ReasonSubscriptionRequired},
		{"active without plan", contractor(entitlement.StatusActive, nil, 0), false, ReasonSubscriptionRequired},
		{"basic at 9", contractor(entitlement.StatusActive, planPtr(plans.Basic), 9), true, ""},
		{"basic at 10", contractor(entitlement.StatusActive, planPtr(plans.Basic), 10), false, ReasonOfferLimitReached},
		{"basic over limit", contractor(entitlement.StatusActive, planPtr(plans.Basic), 12), false, ReasonOfferLimitReached},
		{"pro unlimited", contractor(entitlement.StatusActive, planPtr(plans.Pro), 500), true, ""},
		{"unknown plan", contractor(entitlement.StatusActive, planPtr(plans.Type("gold")), 0), false, ReasonSubscriptionRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.CanSubmitOffer(tt.user)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestLimitReachedCarriesCounters(t *testing.T) {
	engine := NewEngine(plans.NewRegistry(plans.PriceOverrides{}))

	d := engine.CanSubmitOffer(contractor(entitlement.StatusActive, planPtr(plans.Basic), 10))
	require.False(t, d.Allowed)
	assert.Contains(t, d.Message, "10")

	err := d.Err()
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "offer_limit_reached", appErr.Code)
	assert.Equal(t, 403, appErr.HTTPStatus())
	require.NotNil(t, appErr.Limit)
	require.NotNil(t, appErr.Used)
	assert.Equal(t, 10, *appErr.Limit)
	assert.Equal(t, 10, *appErr.Used)
}

func TestAllowedDecisionHasNoError(t *testing.T) {
	engine := NewEngine(plans.NewRegistry(plans.PriceOverrides{}))

	d := engine.CanSubmitOffer(contractor(entitlement.StatusActive, planPtr(plans.Pro), 3))
	assert.True(t, d.Allowed)
	assert.Nil(t, d.Limit)
	assert.NoError(t, d.Err())
}
