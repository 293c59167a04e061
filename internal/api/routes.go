package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/admin"
	"github.com/werkplatz/werkplatz-api/internal/audit"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/billing"
	"github.com/werkplatz/werkplatz-api/internal/config"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/guard"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/quota"
	"github.com/werkplatz/werkplatz-api/internal/settings"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

const (
	webhookRateLimit  = 120
	webhookRateWindow = time.Minute
)

var (
	moderationRoles = []auth.Role{auth.RoleModerator, auth.RoleAdmin}
	adminRoles      = []auth.Role{auth.RoleAdmin}
)

// StripeAPI is the provider surface used by checkout and the reconciler.
type StripeAPI interface {
	billing.Provider
	billing.SubscriptionFetcher
}

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config         *config.Config
	Store          store.Store
	Settings       *settings.Service
	Registry       *plans.Registry
	Entitlements   *entitlement.Repository
	Audit          *audit.Logger
	Resolver       auth.Resolver
	Issuer         *auth.Issuer
	Guard          *guard.Guard
	Checkout       CheckoutCreator
	Quota          *quota.Engine
	Offers         *quota.OfferService
	Webhook        http.Handler
	WebhookLimiter guard.RateLimiter
	ClientIPs      *guard.IPResolver
	Ready          map[string]Pinger
	Version        string
}

// NewDeps wires the services for cfg over s. rdb is optional; when set the
// admin guard keeps its rate-limit and idempotency state in Redis.
func NewDeps(cfg *config.Config, s store.Store, stripe StripeAPI, rdb *redis.Client, version string) *Deps {
	settingsSvc := settings.NewService(s)
	registry := plans.NewRegistry(plans.PriceOverrides{
		BasicMonthly: cfg.Prices.BasicMonthly,
		BasicYearly:  cfg.Prices.BasicYearly,
		ProMonthly:   cfg.Prices.ProMonthly,
		ProYearly:    cfg.Prices.ProYearly,
	})
	repo := entitlement.NewRepository(s)
	auditLog := audit.NewLogger(s, audit.NewChecksummer(cfg.AuditSigningKey))
	resolver := auth.NewTokenResolver(cfg.JWTSecret, s, settingsSvc)
	engine := quota.NewEngine(registry)

	ips, err := guard.NewIPResolver(cfg.TrustedProxies)
	if err != nil {
		log.Error().Err(err).Msg("Ignoring invalid trusted proxies; using the TCP peer as client IP")
		ips = nil
	}

	ready := map[string]Pinger{"store": s}
	guardCfg := guard.Config{
		IdempotencyTTL: cfg.IdempotencyTTL,
		Resolver:       resolver,
		Audit:          auditLog,
		ClientIPs:      ips,
	}
	var webhookLimiter guard.RateLimiter
	if rdb != nil {
		guardCfg.RateLimiter = guard.NewRedisRateLimiter(rdb, cfg.GuardRateLimit, cfg.GuardWindow)
		guardCfg.Idempotency = guard.NewRedisIdempotencyStore(rdb)
		webhookLimiter = guard.NewRedisRateLimiter(rdb, webhookRateLimit, webhookRateWindow)
		ready["redis"] = redisPinger{rdb}
	} else {
		guardCfg.RateLimiter = guard.NewMemoryRateLimiter(cfg.GuardRateLimit, cfg.GuardWindow)
		webhookLimiter = guard.NewMemoryRateLimiter(webhookRateLimit, webhookRateWindow)
	}

	reconciler := billing.NewReconciler(repo, registry, settingsSvc, stripe, auditLog)
	return &Deps{
		Config:         cfg,
		Store:          s,
		Settings:       settingsSvc,
		Registry:       registry,
		Entitlements:   repo,
		Audit:          auditLog,
		Resolver:       resolver,
		Issuer:         auth.NewIssuer(cfg.JWTSecret),
		Guard:          guard.New(guardCfg),
		Checkout:       billing.NewCheckoutService(stripe, repo, registry, settingsSvc, cfg.BaseURL),
		Quota:          engine,
		Offers:         quota.NewOfferService(engine, repo, s),
		Webhook:        billing.NewWebhookHandler(cfg.StripeWebhookSecret, reconciler),
		WebhookLimiter: webhookLimiter,
		ClientIPs:      ips,
		Ready:          ready,
		Version:        version,
	}
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	guarded := func(pattern, path string, roles []auth.Role, h http.HandlerFunc) {
		mux.Handle(pattern, deps.Guard.Wrap(guard.RouteSpec{Path: path, Roles: roles}, h))
	}
	authenticated := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth.Middleware(deps.Resolver, h))
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(deps.Ready))
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": deps.Version})
	})

	metricsHandler := promhttp.Handler()
	if deps.Config.MetricsPublic {
		mux.Handle("GET /metrics", metricsHandler)
	} else {
		guarded("GET /metrics", "/metrics", adminRoles, metricsHandler.ServeHTTP)
	}

	// Public catalogue
	mux.HandleFunc("GET /api/plans", handlePlans(deps.Registry, deps.Settings))
	mux.HandleFunc("GET /api/settings/banner", handleBanner(deps.Settings))

	// Stripe webhook (signature-authenticated)
	mux.Handle("/api/stripe/webhook", guard.RateLimitMiddleware(deps.WebhookLimiter, deps.ClientIPs, "/api/stripe/webhook", deps.Webhook))

	// Signed-in users
	authenticated("POST /api/billing/checkout", handleCheckout(deps.Checkout))
	authenticated("GET /api/billing/entitlement", handleEntitlement(deps.Entitlements, deps.Quota))
	authenticated("POST /api/offers", handleSubmitOffer(deps.Offers))

	// Admin API (guarded)
	h := admin.NewHandlers(admin.Deps{
		Store:        deps.Store,
		Entitlements: deps.Entitlements,
		Settings:     deps.Settings,
		Audit:        deps.Audit,
		Issuer:       deps.Issuer,
	})
	guarded("GET /api/admin/users", "/api/admin/users", moderationRoles, h.ListUsers)
	guarded("POST /api/admin/users/actions", "/api/admin/users/actions", moderationRoles, h.UserActions)
	guarded("GET /api/admin/reports", "/api/admin/reports", moderationRoles, h.ListReports)
	guarded("POST /api/admin/reports/actions", "/api/admin/reports/actions", moderationRoles, h.ReportActions)
	guarded("GET /api/admin/security-events", "/api/admin/security-events", moderationRoles, h.ListSecurityEvents)
	guarded("GET /api/admin/settings/{key}", "/api/admin/settings", adminRoles, h.GetSetting)
	guarded("PUT /api/admin/settings/{key}", "/api/admin/settings", adminRoles, h.PutSetting)
	guarded("POST /api/admin/sessions/force-logout", "/api/admin/sessions/force-logout", adminRoles, h.ForceLogout)
}

// Handler returns the root handler with the shared middleware applied.
func Handler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return RequestLogger(SecurityHeaders(CORS(deps.Config.AllowedOrigins, mux)))
}
