package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/metrics"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/settings"
)

// CheckoutSettings supplies the runtime settings consulted at checkout.
type CheckoutSettings interface {
	PriceOverrides(ctx context.Context) plans.PriceOverrides
	DefaultDiscount(ctx context.Context) settings.Discount
}

// CheckoutService creates Stripe checkout sessions for plan purchases. It only
// seeds provider-side objects; entitlements change when the webhook arrives.
type CheckoutService struct {
	provider     Provider
	entitlements *entitlement.Repository
	registry     *plans.Registry
	settings     CheckoutSettings
	baseURL      string
}

// NewCheckoutService creates a CheckoutService. baseURL is the public web
// origin used for the success and cancel redirects.
func NewCheckoutService(provider Provider, repo *entitlement.Repository, registry *plans.Registry, cfg CheckoutSettings, baseURL string) *CheckoutService {
	return &CheckoutService{
		provider:     provider,
		entitlements: repo,
		registry:     registry,
		settings:     cfg,
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// CreateSession returns the hosted checkout URL for user buying planType on
// cycle.
func (s *CheckoutService) CreateSession(ctx context.Context, user *auth.Principal, planType plans.Type, cycle plans.Cycle) (string, error) {
	if user == nil || user.Role != auth.RoleContractor {
		metrics.CheckoutSessionsTotal.WithLabelValues("denied").Inc()
		return "", apperr.Forbidden("role_mismatch", "Only contractors can subscribe to a plan")
	}

	priceID := s.registry.WithOverrides(s.settings.PriceOverrides(ctx)).ResolvePriceID(planType, cycle)
	if priceID == "" {
		metrics.CheckoutSessionsTotal.WithLabelValues("denied").Inc()
		return "", apperr.Forbidden("plan_not_configured", "This plan is not available for purchase")
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:          stripelib.String(customerID),
		ClientReferenceID: stripelib.String(user.ID),
		SuccessURL:        stripelib.String(s.baseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripelib.String(s.baseURL + "/pricing"),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataUserID:   user.ID,
				metadataPlanType: string(planType),
			},
		},
		Metadata: map[string]string{
			metadataUserID:   user.ID,
			metadataPlanType: string(planType),
		},
	}
	if discount := s.settings.DefaultDiscount(ctx); discount.Enabled && strings.TrimSpace(discount.CouponID) != "" {
		params.Discounts = []*stripelib.CheckoutSessionDiscountParams{
			{Coupon: stripelib.String(strings.TrimSpace(discount.CouponID))},
		}
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("upstream_error").Inc()
		return "", apperr.Upstream("billing.create_checkout_session", err, callerFault(err))
	}

	metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	log.Info().
		Str("user_id", user.ID).
		Str("customer_id", customerID).
		Str("plan_type", string(planType)).
		Str("cycle", string(cycle)).
		Str("session_id", sess.ID).
		Msg("Checkout session created")
	return sess.URL, nil
}

// ensureCustomer returns the user's Stripe customer, creating and persisting
// one on first use. Concurrent first uses converge on whichever customer was
// persisted first.
func (s *CheckoutService) ensureCustomer(ctx context.Context, user *auth.Principal) (string, error) {
	ent, err := s.entitlements.GetByUserID(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if ent.StripeCustomerID != nil && *ent.StripeCustomerID != "" {
		return *ent.StripeCustomerID, nil
	}

	created, err := s.provider.CreateCustomer(ctx, user.ID, user.Email)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("upstream_error").Inc()
		return "", apperr.Upstream("billing.create_customer", err, callerFault(err))
	}
	stored, err := s.entitlements.SetCustomerIDIfEmpty(ctx, user.ID, created)
	if err != nil {
		return "", err
	}
	if stored != created {
		log.Warn().
			Str("user_id", user.ID).
			Str("customer_id", stored).
			Str("orphan_customer_id", created).
			Msg("Concurrent checkout created a second Stripe customer, using the first")
	}
	return stored, nil
}

// callerFault reports whether a Stripe error was caused by user-supplied data.
func callerFault(err error) bool {
	var stripeErr *stripelib.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusBadRequest && stripeErr.Code == stripelib.ErrorCodeEmailInvalid
}
