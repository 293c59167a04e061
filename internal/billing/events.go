package billing

import (
	"strings"
	"time"
)

// Stripe event types reconciled into entitlements.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

const (
	metadataUserID           = "user_id"
	metadataPlanType         = "plan_type"
	checkoutModeSubscription = "subscription"
)

// CheckoutSession is a minimal representation of a Stripe checkout.session object.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// UserID returns the application user the session was created for.
func (s *CheckoutSession) UserID() string {
	if id := strings.TrimSpace(s.ClientReferenceID); id != "" {
		return id
	}
	return strings.TrimSpace(s.Metadata[metadataUserID])
}

// PriceRef identifies a Stripe price.
type PriceRef struct {
	ID string `json:"id"`
}

// SubscriptionItem is one line of a subscription.
type SubscriptionItem struct {
	Price            PriceRef `json:"price"`
	CurrentPeriodEnd int64    `json:"current_period_end"`
}

// SubscriptionItems is the item list of a subscription.
type SubscriptionItems struct {
	Data []SubscriptionItem `json:"data"`
}

// Subscription is a minimal representation of a Stripe subscription object.
type Subscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Items    SubscriptionItems `json:"items"`
	// CurrentPeriodEnd is only present on payloads from API versions that
	// still report the period on the subscription itself.
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

// FirstPriceID returns the price ID from the first subscription item.
func (s *Subscription) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			return priceID
		}
	}
	return ""
}

// PeriodEnd returns the end of the current billing period, preferring the
// first item's period over the subscription-level field.
func (s *Subscription) PeriodEnd() *time.Time {
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			return &t
		}
	}
	if s.CurrentPeriodEnd > 0 {
		t := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		return &t
	}
	return nil
}

// Invoice is a minimal representation of a Stripe invoice object.
type Invoice struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}
