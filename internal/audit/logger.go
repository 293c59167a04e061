package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/metrics"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

// Appender records security events.
type Appender interface {
	Append(ctx context.Context, event Event) (Event, error)
}

// Logger persists security events to the store and mirrors them to the log.
// It has no update or delete operations.
type Logger struct {
	store       store.Store
	checksummer *Checksummer
	now         func() time.Time
	newID       func() string
}

// NewLogger creates a logger over s.
func NewLogger(s store.Store, checksummer *Checksummer) *Logger {
	if checksummer == nil {
		checksummer = NewChecksummer("")
	}
	return &Logger{
		store:       s,
		checksummer: checksummer,
		now:         time.Now,
		newID:       func() string { return ulid.Make().String() },
	}
}

// Checksummer returns the checksummer used for new events.
func (l *Logger) Checksummer() *Checksummer {
	return l.checksummer
}

// Append assigns an ID, timestamp and checksum to event and inserts it.
func (l *Logger) Append(ctx context.Context, event Event) (Event, error) {
	if event.EventType == "" {
		return Event{}, fmt.Errorf("audit: event type is required")
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage("{}")
	}
	if !json.Valid(event.Details) {
		return Event{}, fmt.Errorf("audit: details must be valid JSON")
	}
	event.ID = l.newID()
	event.CreatedAt = l.now().UTC().Truncate(time.Second)
	event.Checksum = l.checksummer.Sum(event)

	err := l.store.Insert(ctx, store.TableSecurityEvents, store.Row{
		"id":             event.ID,
		"event_type":     event.EventType,
		"actor_id":       nullable(event.ActorID),
		"target_user_id": nullable(event.TargetUserID),
		"ip_address":     nullable(event.IPAddress),
		"user_agent":     nullable(event.UserAgent),
		"details":        string(event.Details),
		"checksum":       event.Checksum,
		"severity":       string(event.Severity),
		"created_at":     event.CreatedAt.Unix(),
	})
	if err != nil {
		return Event{}, fmt.Errorf("append security event %s: %w", event.EventType, err)
	}

	metrics.SecurityEventsTotal.WithLabelValues(string(event.Severity)).Inc()
	logEvent(event)
	return event, nil
}

func logEvent(event Event) {
	var e *zerolog.Event
	switch event.Severity {
	case SeverityCritical:
		e = log.Warn()
	case SeverityWarning:
		e = log.Info()
	default:
		e = log.Debug()
	}
	e.Str("audit_id", event.ID).
		Str("event", event.EventType).
		Str("severity", string(event.Severity)).
		Str("actor_id", event.ActorID).
		Str("target_user_id", event.TargetUserID).
		Str("ip", event.IPAddress).
		RawJSON("details", event.Details).
		Msg("Security event")
}

// Query returns events matching filter, newest first.
func (l *Logger) Query(ctx context.Context, filter Filter, limit, offset int) ([]Event, error) {
	rows, err := l.store.Select(ctx, store.Query{
		Table:   store.TableSecurityEvents,
		Where:   filter.where(),
		OrderBy: []string{"created_at DESC", "id DESC"},
		Limit:   uint64(limit),
		Offset:  uint64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, Event{
			ID:           r.String("id"),
			EventType:    r.String("event_type"),
			ActorID:      r.String("actor_id"),
			TargetUserID: r.String("target_user_id"),
			IPAddress:    r.String("ip_address"),
			UserAgent:    r.String("user_agent"),
			Details:      json.RawMessage(r.String("details")),
			Checksum:     r.String("checksum"),
			Severity:     Severity(r.String("severity")),
			CreatedAt:    r.Time("created_at"),
		})
	}
	return events, nil
}

// Count returns the number of events matching filter.
func (l *Logger) Count(ctx context.Context, filter Filter) (int64, error) {
	n, err := l.store.Count(ctx, store.TableSecurityEvents, filter.where())
	if err != nil {
		return 0, fmt.Errorf("count security events: %w", err)
	}
	return n, nil
}

func (f Filter) where() store.Filter {
	and := sq.And{}
	if f.EventType != "" {
		and = append(and, store.Eq{"event_type": f.EventType})
	}
	if f.ActorID != "" {
		and = append(and, store.Eq{"actor_id": f.ActorID})
	}
	if f.TargetUserID != "" {
		and = append(and, store.Eq{"target_user_id": f.TargetUserID})
	}
	if f.Severity != "" {
		and = append(and, store.Eq{"severity": string(f.Severity)})
	}
	if f.Since != nil {
		and = append(and, sq.GtOrEq{"created_at": f.Since.Unix()})
	}
	if len(and) == 0 {
		return nil
	}
	return and
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Details marshals v for an event, falling back to an error marker.
func Details(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return raw
}
