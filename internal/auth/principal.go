// Package auth resolves bearer tokens to the calling account.
package auth

import (
	"context"
	"time"

	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/plans"
)

// Role is the account's privilege role.
type Role string

const (
	RoleClient     Role = "client"
	RoleContractor Role = "contractor"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
)

// TopRole is the highest privilege tier. Accounts holding it are immune to
// protected admin actions.
const TopRole = RoleAdmin

// ParseRole validates a role name.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleClient, RoleContractor, RoleModerator, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Principal is the resolved caller.
type Principal struct {
	ID                  string
	Email               string
	Role                Role
	SubscriptionStatus  entitlement.Status
	PlanType            *plans.Type
	OfferCountThisMonth int
	Banned              bool
	Deleted             bool
	IssuedAt            time.Time
}

// Blocked reports whether the account may not act at all.
func (p *Principal) Blocked() bool {
	return p.Banned || p.Deleted
}

// HasRole reports whether the principal holds one of roles.
func (p *Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal stored on ctx, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}
