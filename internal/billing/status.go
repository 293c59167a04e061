package billing

import (
	"strings"

	"github.com/werkplatz/werkplatz-api/internal/entitlement"
)

// MapProviderStatus converts a Stripe subscription status to the internal
// entitlement status. Unknown statuses fail closed to none.
func MapProviderStatus(status string) entitlement.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return entitlement.StatusActive
	case "past_due", "unpaid":
		return entitlement.StatusPastDue
	case "canceled", "paused":
		return entitlement.StatusCanceled
	default:
		return entitlement.StatusNone
	}
}
