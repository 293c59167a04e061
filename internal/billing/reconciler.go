package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/audit"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/metrics"
	"github.com/werkplatz/werkplatz-api/internal/plans"
)

// Transition results recorded per event.
const (
	resultApplied   = "applied"
	resultStale     = "stale"
	resultUnmatched = "unmatched"
	resultIgnored   = "ignored"
)

// PriceOverrideSource supplies runtime price identifier overrides.
type PriceOverrideSource interface {
	PriceOverrides(ctx context.Context) plans.PriceOverrides
}

// Reconciler maps verified Stripe events onto entitlement transitions. Every
// transition writes absolute values guarded by the event's creation time and
// ID, so redelivered and out-of-order events converge on the newest provider
// state and a redelivery applies nothing.
type Reconciler struct {
	entitlements  *entitlement.Repository
	registry      *plans.Registry
	prices        PriceOverrideSource
	subscriptions SubscriptionFetcher
	audit         audit.Appender
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo *entitlement.Repository, registry *plans.Registry, prices PriceOverrideSource, subscriptions SubscriptionFetcher, appender audit.Appender) *Reconciler {
	return &Reconciler{
		entitlements:  repo,
		registry:      registry,
		prices:        prices,
		subscriptions: subscriptions,
		audit:         appender,
	}
}

// transition is one resolved entitlement change.
type transition struct {
	name           string
	customerID     string
	fallbackUserID string
	patch          entitlement.Patch
}

// Handle applies event. Unhandled event types are logged and ignored.
func (r *Reconciler) Handle(ctx context.Context, event *stripelib.Event) error {
	eventType := string(event.Type)
	eventAt := time.Unix(event.Created, 0).UTC()

	var (
		t   *transition
		err error
	)
	switch eventType {
	case EventCheckoutCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		t, err = r.checkoutCompleted(ctx, session)

	case EventSubscriptionUpdated:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		t = r.subscriptionUpdated(ctx, sub)

	case EventSubscriptionDeleted:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		t = subscriptionDeleted(sub)

	case EventInvoicePaymentFailed:
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		t = invoicePaymentFailed(inv)

	default:
		log.Info().
			Str("type", eventType).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
	if err != nil {
		return err
	}
	if t == nil {
		metrics.WebhookTransitionsTotal.WithLabelValues(eventType, resultIgnored).Inc()
		return nil
	}
	return r.apply(ctx, event, eventAt, *t)
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, session CheckoutSession) (*transition, error) {
	customerID := strings.TrimSpace(session.Customer)
	subscriptionID := strings.TrimSpace(session.Subscription)
	if session.Mode != checkoutModeSubscription || customerID == "" || subscriptionID == "" {
		log.Info().
			Str("session_id", session.ID).
			Str("mode", session.Mode).
			Msg("Checkout session is not a subscription purchase, skipping")
		return nil, nil
	}

	sub, err := r.subscriptions.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	patch := entitlement.Patch{
		Status:     entitlement.Value(entitlement.StatusActive),
		PeriodEnd:  timeField(sub.PeriodEnd()),
		OfferCount: entitlement.Value(0),
	}
	if planType := r.resolvePlan(ctx, sub.FirstPriceID(), session.Metadata[metadataPlanType]); planType != nil {
		patch.PlanType = entitlement.Value(*planType)
	} else {
		log.Error().
			Str("session_id", session.ID).
			Str("price_id", sub.FirstPriceID()).
			Msg("Checkout completed for an unknown price, activating without plan")
		patch.PlanType = entitlement.Null[plans.Type]()
	}

	return &transition{
		name:           "checkout_completed",
		customerID:     customerID,
		fallbackUserID: session.UserID(),
		patch:          patch,
	}, nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, sub Subscription) *transition {
	status := MapProviderStatus(sub.Status)
	patch := entitlement.Patch{
		Status:    entitlement.Value(status),
		PeriodEnd: timeField(sub.PeriodEnd()),
	}
	if status == entitlement.StatusActive {
		if planType := r.resolvePlan(ctx, sub.FirstPriceID(), sub.Metadata[metadataPlanType]); planType != nil {
			patch.PlanType = entitlement.Value(*planType)
		} else {
			patch.PlanType = entitlement.Null[plans.Type]()
		}
		patch.ResetOnNewPeriod = true
	} else {
		patch.PlanType = entitlement.Null[plans.Type]()
	}

	return &transition{
		name:           "subscription_updated",
		customerID:     strings.TrimSpace(sub.Customer),
		fallbackUserID: strings.TrimSpace(sub.Metadata[metadataUserID]),
		patch:          patch,
	}
}

func subscriptionDeleted(sub Subscription) *transition {
	return &transition{
		name:           "subscription_deleted",
		customerID:     strings.TrimSpace(sub.Customer),
		fallbackUserID: strings.TrimSpace(sub.Metadata[metadataUserID]),
		patch: entitlement.Patch{
			Status:    entitlement.Value(entitlement.StatusCanceled),
			PlanType:  entitlement.Null[plans.Type](),
			PeriodEnd: entitlement.Null[time.Time](),
		},
	}
}

// invoicePaymentFailed moves the user to past_due. A plan is only stored with
// an active status, so the patch clears it as well; the period end is left
// untouched.
func invoicePaymentFailed(inv Invoice) *transition {
	customerID := strings.TrimSpace(inv.Customer)
	if customerID == "" {
		return nil
	}
	return &transition{
		name:       "payment_failed",
		customerID: customerID,
		patch: entitlement.Patch{
			Status: entitlement.Value(entitlement.StatusPastDue),
		},
	}
}

func (r *Reconciler) apply(ctx context.Context, event *stripelib.Event, eventAt time.Time, t transition) error {
	eventType := string(event.Type)

	userID, err := r.resolveUser(ctx, t.customerID, t.fallbackUserID)
	if err != nil {
		return err
	}
	if userID == "" {
		log.Warn().
			Str("event_id", event.ID).
			Str("type", eventType).
			Str("customer_id", t.customerID).
			Msg("Stripe event does not match any user, skipping")
		metrics.WebhookTransitionsTotal.WithLabelValues(eventType, resultUnmatched).Inc()
		return nil
	}

	applied, err := r.entitlements.UpdateByUserIDIfNewer(ctx, userID, entitlement.ProviderEvent{ID: event.ID, CreatedAt: eventAt}, t.patch)
	if apperr.IsType(err, apperr.TypeNotFound) {
		metrics.WebhookTransitionsTotal.WithLabelValues(eventType, resultUnmatched).Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s for user %s: %w", t.name, userID, err)
	}
	if !applied {
		log.Info().
			Str("event_id", event.ID).
			Str("type", eventType).
			Str("user_id", userID).
			Time("event_at", eventAt).
			Msg("Stripe event already applied or older than last applied event, skipping")
		metrics.WebhookTransitionsTotal.WithLabelValues(eventType, resultStale).Inc()
		return nil
	}

	metrics.WebhookTransitionsTotal.WithLabelValues(eventType, resultApplied).Inc()
	log.Info().
		Str("event_id", event.ID).
		Str("type", eventType).
		Str("user_id", userID).
		Str("customer_id", t.customerID).
		Str("transition", t.name).
		Msg("Entitlement updated from Stripe event")

	r.record(ctx, event, userID, t)
	return nil
}

// resolveUser finds the user linked to customerID, falling back to the user id
// carried in the event. A fallback match links the customer to the user; a
// fallback user already linked to a different customer does not match.
func (r *Reconciler) resolveUser(ctx context.Context, customerID, fallbackUserID string) (string, error) {
	if customerID != "" {
		ent, err := r.entitlements.GetByCustomerID(ctx, customerID)
		if err == nil {
			return ent.UserID, nil
		}
		if !apperr.IsType(err, apperr.TypeNotFound) {
			return "", err
		}
	}
	if fallbackUserID == "" {
		return "", nil
	}
	if customerID == "" {
		return fallbackUserID, nil
	}

	linked, err := r.entitlements.SetCustomerIDIfEmpty(ctx, fallbackUserID, customerID)
	if apperr.IsType(err, apperr.TypeNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if linked != customerID {
		log.Warn().
			Str("user_id", fallbackUserID).
			Str("customer_id", customerID).
			Str("linked_customer_id", linked).
			Msg("User is already linked to another Stripe customer, treating event as unmatched")
		return "", nil
	}
	return fallbackUserID, nil
}

func (r *Reconciler) resolvePlan(ctx context.Context, priceID, fallback string) *plans.Type {
	registry := r.registry
	if r.prices != nil {
		registry = registry.WithOverrides(r.prices.PriceOverrides(ctx))
	}
	if p, ok := registry.ResolvePlanByPriceID(priceID); ok {
		return &p.Type
	}
	if t, ok := plans.ParseType(fallback); ok {
		return &t
	}
	return nil
}

func (r *Reconciler) record(ctx context.Context, event *stripelib.Event, userID string, t transition) {
	if r.audit == nil {
		return
	}
	details := map[string]any{
		"eventId":   event.ID,
		"eventType": string(event.Type),
	}
	if t.customerID != "" {
		details["customerId"] = t.customerID
	}
	if t.patch.Status.Set {
		details["status"] = *t.patch.Status.Value
	}
	if t.patch.PlanType.Set {
		details["planType"] = t.patch.PlanType.Value
	}
	_, err := r.audit.Append(ctx, audit.Event{
		EventType:    "billing." + t.name,
		TargetUserID: userID,
		Severity:     audit.SeverityInfo,
		Details:      audit.Details(details),
	})
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to record billing security event")
	}
}

func timeField(t *time.Time) entitlement.Field[time.Time] {
	if t == nil {
		return entitlement.Null[time.Time]()
	}
	return entitlement.Value(*t)
}
