package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
)

// SubscriptionFetcher loads the provider's current view of a subscription.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// Provider is the subset of the Stripe API used by checkout.
type Provider interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// Client calls the Stripe API. The function fields default to the stripe-go
// package functions and are replaced in tests.
type Client struct {
	newCustomer        func(*stripelib.CustomerParams) (*stripelib.Customer, error)
	newCheckoutSession func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	getSubscription    func(string, *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
}

// NewClient configures the global Stripe key and returns a client.
func NewClient(apiKey string) *Client {
	if key := strings.TrimSpace(apiKey); key != "" {
		stripelib.Key = key
	}
	return &Client{
		newCustomer:        stripecustomer.New,
		newCheckoutSession: stripesession.New,
		getSubscription:    stripesubscription.Get,
	}
}

// CreateCustomer creates a Stripe customer for userID. Retries for the same
// user within Stripe's idempotency window return the same customer.
func (c *Client) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	if email = strings.TrimSpace(email); email != "" {
		params.Email = stripelib.String(email)
	}
	params.AddMetadata(metadataUserID, userID)
	params.SetIdempotencyKey("werkplatz-customer-" + userID)

	cust, err := c.newCustomer(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a hosted checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
	params.Context = ctx
	sess, err := c.newCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return sess, nil
}

// FetchSubscription retrieves a subscription and decodes it into the minimal
// representation shared with webhook payloads.
func (c *Client) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.getSubscription(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription %s: %w", subscriptionID, err)
	}
	raw, err := rawSubscriptionJSON(sub)
	if err != nil {
		return nil, err
	}
	var out Subscription
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode stripe subscription %s: %w", subscriptionID, err)
	}
	return &out, nil
}

func rawSubscriptionJSON(sub *stripelib.Subscription) ([]byte, error) {
	if sub == nil || sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
		return nil, fmt.Errorf("stripe subscription response has no body")
	}
	return sub.LastResponse.RawJSON, nil
}
