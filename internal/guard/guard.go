// Package guard wraps privileged HTTP handlers with per-route rate limiting,
// authentication and role checks, idempotency-key deduplication and a security
// event recorder.
package guard

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/audit"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/metrics"
)

// IdempotencyHeader carries the client-chosen deduplication key.
const IdempotencyHeader = "X-Idempotency-Key"

// Config wires the guard's backends.
type Config struct {
	RateLimiter    RateLimiter
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
	Resolver       auth.Resolver
	Audit          audit.Appender
	// ClientIPs resolves rate-limit bucket addresses; nil trusts no proxy.
	ClientIPs *IPResolver
}

// Guard is the admin mutation guard.
type Guard struct {
	limiter     RateLimiter
	idempotency IdempotencyStore
	ttl         time.Duration
	resolver    auth.Resolver
	audit       audit.Appender
	ips         *IPResolver
}

// New creates a Guard. Nil backends fall back to process-local defaults.
func New(cfg Config) *Guard {
	g := &Guard{
		limiter:     cfg.RateLimiter,
		idempotency: cfg.Idempotency,
		ttl:         cfg.IdempotencyTTL,
		resolver:    cfg.Resolver,
		audit:       cfg.Audit,
		ips:         cfg.ClientIPs,
	}
	if g.limiter == nil {
		g.limiter = NewMemoryRateLimiter(DefaultRateLimit, DefaultRateWindow)
	}
	if g.idempotency == nil {
		g.idempotency = NewMemoryIdempotencyStore()
	}
	if g.ttl <= 0 {
		g.ttl = DefaultIdempotencyTTL
	}
	return g
}

// RouteSpec names a guarded route and the roles allowed to call it.
type RouteSpec struct {
	Path  string
	Roles []auth.Role
}

// Wrap runs the gates in order: rate limit, authentication and role, then
// idempotency for mutating methods. Admitted requests carry the principal and
// a Recorder in their context.
func (g *Guard) Wrap(spec RouteSpec, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := checkRate(r, g.limiter, g.ips, spec.Path); err != nil {
			apperr.Write(w, r, err)
			return
		}

		principal, err := auth.Authenticate(r, g.resolver)
		if err != nil {
			gate := "auth"
			if apperr.IsType(err, apperr.TypeForbidden) {
				gate = "blocked"
			}
			metrics.GuardRejectionsTotal.WithLabelValues(gate).Inc()
			apperr.Write(w, r, err)
			return
		}
		if len(spec.Roles) > 0 && !principal.HasRole(spec.Roles...) {
			metrics.GuardRejectionsTotal.WithLabelValues("role").Inc()
			log.Warn().
				Str("user_id", principal.ID).
				Str("role", string(principal.Role)).
				Str("route", spec.Path).
				Msg("Admin route denied for role")
			apperr.Write(w, r, apperr.Forbidden("forbidden", "Insufficient privileges"))
			return
		}

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if err := g.admit(r.Context(), principal.ID, spec.Path, r.Header.Get(IdempotencyHeader)); err != nil {
				apperr.Write(w, r, err)
				return
			}
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		ctx = withRecorder(ctx, &Recorder{
			appender:  g.audit,
			actorID:   principal.ID,
			ipAddress: g.ips.ClientIP(r),
			userAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Guard) admit(ctx context.Context, userID, route, key string) error {
	key = strings.TrimSpace(key)
	if !validIdempotencyKey(key) {
		metrics.GuardRejectionsTotal.WithLabelValues("idempotency_key").Inc()
		return apperr.Validation("invalid_idempotency_key", "X-Idempotency-Key must be 8 to 128 characters")
	}
	ok, err := g.idempotency.Admit(ctx, userID+":"+route+":"+key, g.ttl)
	if err != nil {
		return apperr.Persistence("guard.idempotency", err)
	}
	if !ok {
		metrics.GuardRejectionsTotal.WithLabelValues("duplicate").Inc()
		return apperr.Conflict("duplicate_request", "This request was already processed; use a new idempotency key")
	}
	return nil
}

// Recorder appends security events attributed to the guarded request.
type Recorder struct {
	appender  audit.Appender
	actorID   string
	ipAddress string
	userAgent string
}

// Record appends one security event for action against targetUserID.
func (rec *Recorder) Record(ctx context.Context, action, targetUserID string, details any) error {
	if rec == nil || rec.appender == nil {
		return nil
	}
	_, err := rec.appender.Append(ctx, audit.Event{
		EventType:    "admin." + action,
		ActorID:      rec.actorID,
		TargetUserID: targetUserID,
		IPAddress:    rec.ipAddress,
		UserAgent:    rec.userAgent,
		Details:      audit.Details(details),
		Severity:     SeverityFor(action),
	})
	return err
}

type recorderKey struct{}

func withRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

// RecorderFrom returns the request's Recorder. The nil Recorder records nothing.
func RecorderFrom(ctx context.Context) *Recorder {
	rec, _ := ctx.Value(recorderKey{}).(*Recorder)
	return rec
}
