package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

// TokenIssuer is the iss claim on every session token.
const TokenIssuer = "werkplatz"

// Resolver turns a bearer token into a principal.
type Resolver interface {
	Resolve(ctx context.Context, bearer string) (*Principal, error)
}

// ForcedLogoutSource reports the instant before which sessions are revoked.
type ForcedLogoutSource interface {
	ForcedLogoutAt(ctx context.Context) (time.Time, error)
}

// TokenResolver verifies HS256 session tokens and loads the account they name.
type TokenResolver struct {
	secret []byte
	store  store.Store
	logout ForcedLogoutSource
	now    func() time.Time
}

// NewTokenResolver creates a resolver. logout may be nil.
func NewTokenResolver(secret string, s store.Store, logout ForcedLogoutSource) *TokenResolver {
	return &TokenResolver{secret: []byte(secret), store: s, logout: logout, now: time.Now}
}

// Resolve implements Resolver.
func (r *TokenResolver) Resolve(ctx context.Context, bearer string) (*Principal, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, apperr.Unauthorized("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(bearer, claims,
		func(t *jwt.Token) (any, error) {
			return r.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return nil, &apperr.Error{Type: apperr.TypeAuth, Op: "auth.resolve", Code: "unauthorized", Message: "invalid bearer token", Err: err}
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, apperr.Unauthorized("invalid bearer token")
	}
	issuedAt := claims.IssuedAt.Time

	if r.logout != nil {
		cutoff, err := r.logout.ForcedLogoutAt(ctx)
		if err != nil {
			return nil, apperr.Persistence("auth.forced_logout", err)
		}
		// iat has whole-second precision, so a token from the cutoff's own
		// second is revoked too.
		if !cutoff.IsZero() && !issuedAt.After(cutoff) {
			return nil, apperr.Unauthorized("session revoked")
		}
	}

	row, err := r.store.Get(ctx, store.TableProfiles, store.Eq{"id": claims.Subject})
	if errors.Is(err, store.ErrNoRows) {
		return nil, apperr.Unauthorized("account not found")
	}
	if err != nil {
		return nil, apperr.Persistence("auth.load_profile", err)
	}

	p := PrincipalFromRow(row)
	p.IssuedAt = issuedAt
	return p, nil
}

// PrincipalFromRow decodes a profiles row.
func PrincipalFromRow(row store.Row) *Principal {
	p := &Principal{
		ID:                  row.String("id"),
		Email:               row.String("email"),
		Role:                Role(row.String("role")),
		SubscriptionStatus:  entitlement.Status(row.String("subscription_status")),
		OfferCountThisMonth: int(row.Int64("offer_count_this_month")),
		Banned:              row.Bool("is_banned"),
		Deleted:             row.NullTime("deleted_at") != nil,
	}
	if p.SubscriptionStatus == "" {
		p.SubscriptionStatus = entitlement.StatusNone
	}
	if pt := row.NullString("plan_type"); pt != nil {
		t := plans.Type(*pt)
		p.PlanType = &t
	}
	return p
}

// Issuer mints session tokens.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an issuer sharing the resolver's secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for userID valid for ttl.
func (i *Issuer) Issue(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := i.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Authenticate resolves the request's bearer token and rejects blocked accounts.
func Authenticate(r *http.Request, resolver Resolver) (*Principal, error) {
	p, err := resolver.Resolve(r.Context(), BearerToken(r))
	if err != nil {
		return nil, err
	}
	if p.Blocked() {
		return nil, apperr.Forbidden("account_blocked", "account is banned or deleted")
	}
	return p, nil
}

// Middleware authenticates every request and stores the principal on its context.
func Middleware(resolver Resolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := Authenticate(r, resolver)
		if err != nil {
			apperr.Write(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
