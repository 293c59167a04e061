package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/billing"
	"github.com/werkplatz/werkplatz-api/internal/config"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/store"
	"github.com/werkplatz/werkplatz-api/internal/store/storetest"
)

const testSecret = "api-test-secret"

type fakeStripe struct{}

func (fakeStripe) CreateCustomer(context.Context, string, string) (string, error) {
	return "", errors.New("stripe disabled in tests")
}

func (fakeStripe) CreateCheckoutSession(context.Context, *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
	return nil, errors.New("stripe disabled in tests")
}

func (fakeStripe) FetchSubscription(context.Context, string) (*billing.Subscription, error) {
	return nil, errors.New("stripe disabled in tests")
}

type fakeCheckout struct {
	user  string
	plan  plans.Type
	cycle plans.Cycle
}

func (f *fakeCheckout) CreateSession(_ context.Context, user *auth.Principal, planType plans.Type, cycle plans.Cycle) (string, error) {
	f.user, f.plan, f.cycle = user.ID, planType, cycle
	return "https://checkout.stripe.test/session", nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:             "https://werkplatz.test",
		JWTSecret:           testSecret,
		StripeWebhookSecret: "whsec_test",
		Prices: config.PriceIDs{
			BasicMonthly: "price_basic_monthly",
			ProMonthly:   "price_pro_monthly",
		},
		GuardRateLimit: 120,
		GuardWindow:    time.Minute,
		IdempotencyTTL: 10 * time.Minute,
	}
}

type testServer struct {
	deps    *Deps
	store   store.Store
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*Deps), profiles ...storetest.Profile) *testServer {
	t.Helper()
	s := storetest.New(t)
	for _, p := range profiles {
		storetest.SeedProfile(t, s, p)
	}
	deps := NewDeps(testConfig(), s, fakeStripe{}, nil, "test")
	if mutate != nil {
		mutate(deps)
	}
	return &testServer{deps: deps, store: s, handler: Handler(deps)}
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := ts.deps.Issuer.Issue(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthzCarriesRequestIDAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"store":"ok"}}`, rec.Body.String())

	ts = newTestServer(t, func(d *Deps) { d.Ready["redis"] = failingPinger{} })
	rec = ts.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not_ready","checks":{"store":"ok","redis":"unavailable"}}`, rec.Body.String())
}

func TestPlansReflectPriceOverrides(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"plans":[
		{"type":"basic","monthlyOfferLimit":10,"monthlyAvailable":true,"yearlyAvailable":false},
		{"type":"pro","monthlyOfferLimit":null,"monthlyAvailable":true,"yearlyAvailable":false}
	]}`, rec.Body.String())

	err := ts.deps.Settings.Put(context.Background(), "stripe_price_ids", json.RawMessage(`{"proYearly":"price_pro_yearly"}`), "")
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/api/plans", "", nil)
	assert.Contains(t, rec.Body.String(), `"type":"pro","monthlyOfferLimit":null,"monthlyAvailable":true,"yearlyAvailable":true`)
}

func TestBannerDefaultsToDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/settings/banner", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())
}

func TestEntitlementEndpoint(t *testing.T) {
	ts := newTestServer(t, nil,
		storetest.Profile{ID: "c1", Status: "active", PlanType: "basic", OfferCount: 4},
		storetest.Profile{ID: "c2", Status: "active", PlanType: "basic", OfferCount: 10},
		storetest.Profile{ID: "c3"},
	)

	rec := ts.do(t, http.MethodGet, "/api/billing/entitlement", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		SubscriptionStatus  string  `json:"subscriptionStatus"`
		PlanType            *string `json:"planType"`
		OfferCountThisMonth int     `json:"offerCountThisMonth"`
		CanSubmitOffer      bool    `json:"canSubmitOffer"`
		OfferLimit          *int    `json:"offerLimit"`
		DenialReason        string  `json:"denialReason"`
	}

	rec = ts.do(t, http.MethodGet, "/api/billing/entitlement", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.SubscriptionStatus)
	require.NotNil(t, resp.PlanType)
	assert.Equal(t, "basic", *resp.PlanType)
	assert.Equal(t, 4, resp.OfferCountThisMonth)
	assert.True(t, resp.CanSubmitOffer)
	require.NotNil(t, resp.OfferLimit)
	assert.Equal(t, 10, *resp.OfferLimit)

	rec = ts.do(t, http.MethodGet, "/api/billing/entitlement", "c2", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.CanSubmitOffer)
	assert.Equal(t, "offer_limit_reached", resp.DenialReason)

	resp.PlanType = nil
	rec = ts.do(t, http.MethodGet, "/api/billing/entitlement", "c3", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "none", resp.SubscriptionStatus)
	assert.Nil(t, resp.PlanType)
	assert.Equal(t, "subscription_required", resp.DenialReason)
}

func TestCheckoutEndpoint(t *testing.T) {
	checkout := &fakeCheckout{}
	ts := newTestServer(t, func(d *Deps) { d.Checkout = checkout }, storetest.Profile{ID: "c1"})

	rec := ts.do(t, http.MethodPost, "/api/billing/checkout", "c1", map[string]string{"planType": "pro", "cycle": "yearly"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"url":"https://checkout.stripe.test/session"}`, rec.Body.String())
	assert.Equal(t, "c1", checkout.user)
	assert.Equal(t, plans.Pro, checkout.plan)
	assert.Equal(t, plans.Yearly, checkout.cycle)

	rec = ts.do(t, http.MethodPost, "/api/billing/checkout", "c1", map[string]string{"planType": "basic"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, plans.Monthly, checkout.cycle)

	rec = ts.do(t, http.MethodPost, "/api/billing/checkout", "c1", map[string]string{"planType": "enterprise"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/billing/checkout", "c1", map[string]string{"plan": "pro"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/billing/checkout", "c1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitOfferEnforcesQuota(t *testing.T) {
	ts := newTestServer(t, nil,
		storetest.Profile{ID: "client-1", Role: "client"},
		storetest.Profile{ID: "c1", Status: "active", PlanType: "basic", OfferCount: 9},
	)
	storetest.SeedProject(t, ts.store, "p1", "client-1")
	storetest.SeedProject(t, ts.store, "p2", "client-1")

	offer := func(project string) map[string]any {
		return map[string]any{
			"projectId": project,
			"ownerId":   "client-1",
			"priceChf":  1250.5,
			"content":   "We can renovate the kitchen in two weeks.",
		}
	}

	rec := ts.do(t, http.MethodPost, "/api/offers", "c1", offer("p1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result struct {
		Success             bool   `json:"success"`
		OfferID             string `json:"offerId"`
		ChatID              string `json:"chatId"`
		OfferCountThisMonth int    `json:"offerCountThisMonth"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 10, result.OfferCountThisMonth)
	assert.NotEmpty(t, result.ChatID)

	rec = ts.do(t, http.MethodPost, "/api/offers", "c1", offer("p2"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"offer_limit_reached","message":"monthly offer limit reached: 10 of 10 offers used","limit":10,"used":10}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/offers", "client-1", offer("p2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookRejectsUnsignedPayload(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{"id":"evt_1","type":"checkout.session.completed"}`))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRequireAdminUnlessPublic(t *testing.T) {
	ts := newTestServer(t, nil,
		storetest.Profile{ID: "admin-1", Role: "admin"},
		storetest.Profile{ID: "mod-1", Role: "moderator"},
	)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/metrics", "mod-1", nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "werkplatz_http_requests_total")

	public := testConfig()
	public.MetricsPublic = true
	deps := NewDeps(public, storetest.New(t), fakeStripe{}, nil, "test")
	rec = httptest.NewRecorder()
	Handler(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesAreGuarded(t *testing.T) {
	ts := newTestServer(t, nil,
		storetest.Profile{ID: "mod-1", Role: "moderator"},
		storetest.Profile{ID: "c1"},
	)

	rec := ts.do(t, http.MethodGet, "/api/admin/users", "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/admin/users", "c1", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/admin/settings/maintenance_banner", "mod-1", nil).Code)

	// Mutations without an idempotency key never reach the handler.
	rec = ts.do(t, http.MethodPost, "/api/admin/users/actions", "mod-1", map[string]any{"action": "verify", "userIds": []string{"c1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_idempotency_key")
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal_error","message":"internal server error"}`, rec.Body.String())
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Config.AllowedOrigins = []string{"https://werkplatz.ch", "https://*.werkplatz.ch"}
	})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/offers", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.werkplatz.ch")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.werkplatz.ch", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Idempotency-Key")

	rec = preflight("https://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.Header.Set("Origin", "https://werkplatz.ch")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://werkplatz.ch", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSDisabledWithoutOrigins(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.Header.Set("Origin", "https://werkplatz.ch")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
