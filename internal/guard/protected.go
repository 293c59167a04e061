package guard

import (
	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/audit"
	"github.com/werkplatz/werkplatz-api/internal/auth"
)

// Admin action names shared by the guard tables and the admin handlers.
const (
	ActionBan                = "ban"
	ActionUnban              = "unban"
	ActionVerify             = "verify"
	ActionUnverify           = "unverify"
	ActionRoleChange         = "role_change"
	ActionSubscriptionChange = "subscription_change"
	ActionSoftDelete         = "soft_delete"
	ActionImpersonate        = "impersonate"
	ActionDismissReport      = "dismiss"
	ActionRemoveTarget       = "remove_target"
	ActionSettingsUpdate     = "settings_update"
	ActionForceLogout        = "force_logout"
)

// protectedActions may never target an account holding the top role.
var protectedActions = map[string]struct{}{
	ActionBan:                {},
	ActionUnban:              {},
	ActionVerify:             {},
	ActionUnverify:           {},
	ActionRoleChange:         {},
	ActionSubscriptionChange: {},
	ActionSoftDelete:         {},
	ActionImpersonate:        {},
}

var criticalActions = map[string]struct{}{
	ActionRemoveTarget:   {},
	ActionSettingsUpdate: {},
	ActionForceLogout:    {},
	ActionSoftDelete:     {},
	ActionImpersonate:    {},
	ActionRoleChange:     {},
}

// IsProtected reports whether action is subject to the top-role target check.
func IsProtected(action string) bool {
	_, ok := protectedActions[action]
	return ok
}

// CheckTargets rejects the whole batch when a protected action targets any
// account holding the top role.
func CheckTargets(action string, targetRoles []auth.Role) error {
	if !IsProtected(action) {
		return nil
	}
	for _, role := range targetRoles {
		if role == auth.TopRole {
			return apperr.Forbidden("protected_target", "This action cannot target an administrator account")
		}
	}
	return nil
}

// SeverityFor returns the security event severity recorded for action.
func SeverityFor(action string) audit.Severity {
	if _, ok := criticalActions[action]; ok {
		return audit.SeverityCritical
	}
	return audit.SeverityWarning
}
