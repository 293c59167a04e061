package admin

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/audit"
)

// SecurityEventRow is an audit event plus its checksum verification result.
type SecurityEventRow struct {
	audit.Event
	Verified bool `json:"verified"`
}

func eventFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		EventType:    strings.TrimSpace(q.Get("eventType")),
		ActorID:      strings.TrimSpace(q.Get("actorId")),
		TargetUserID: strings.TrimSpace(q.Get("targetUserId")),
	}
	if raw := strings.TrimSpace(q.Get("severity")); raw != "" {
		sev, ok := audit.ParseSeverity(raw)
		if !ok {
			return audit.Filter{}, apperr.Validation("invalid_input", fmt.Sprintf("unknown severity %q", raw))
		}
		f.Severity = sev
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, apperr.Validation("invalid_input", "since must be an RFC 3339 timestamp")
		}
		f.Since = &since
	}
	return f, nil
}

// ListSecurityEvents serves GET /api/admin/security-events, newest first.
func (h *Handlers) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePage(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	filter, err := eventFilter(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	var (
		total  int64
		events []audit.Event
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := h.audit.Count(ctx, filter)
		total = n
		return err
	})
	g.Go(func() error {
		evs, err := h.audit.Query(ctx, filter, page.PageSize, int(page.Offset()))
		events = evs
		return err
	})
	if err := g.Wait(); err != nil {
		apperr.Write(w, r, apperr.Persistence("admin.list_security_events", err))
		return
	}

	checksummer := h.audit.Checksummer()
	rows := make([]SecurityEventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, SecurityEventRow{Event: ev, Verified: checksummer.Verify(ev)})
	}
	writeJSON(w, http.StatusOK, ListResponse[SecurityEventRow]{Page: page.Page, PageSize: page.PageSize, Total: total, Rows: rows})
}
