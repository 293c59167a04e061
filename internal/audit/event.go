// Package audit is the append-only security event log. Every event carries a
// checksum over its content so later tampering with a row is detectable.
package audit

import (
	"encoding/json"
	"time"
)

// Severity tiers security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(s); sev {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return sev, true
	default:
		return "", false
	}
}

// Event is a single security event.
type Event struct {
	ID           string          `json:"id"`
	EventType    string          `json:"eventType"`
	ActorID      string          `json:"actorId,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	IPAddress    string          `json:"ipAddress,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	Details      json.RawMessage `json:"details"`
	Checksum     string          `json:"checksum"`
	Severity     Severity        `json:"severity"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Filter narrows event queries. Empty fields match everything.
type Filter struct {
	EventType    string
	ActorID      string
	TargetUserID string
	Severity     Severity
	Since        *time.Time
}
