// Package admin serves the privileged moderation and operations endpoints.
// Every handler runs behind guard.Guard, which supplies the principal and the
// security event recorder.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/audit"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/settings"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBatchSize    = 100
	maxPage         = 1_000_000

	impersonationTTL = 15 * time.Minute
)

// Deps are the collaborators of the admin handlers.
type Deps struct {
	Store        store.Store
	Entitlements *entitlement.Repository
	Settings     *settings.Service
	Audit        *audit.Logger
	Issuer       *auth.Issuer
}

// Handlers implements the admin endpoints.
type Handlers struct {
	store        store.Store
	entitlements *entitlement.Repository
	settings     *settings.Service
	audit        *audit.Logger
	issuer       *auth.Issuer
	now          func() time.Time
}

// NewHandlers creates the admin handlers.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		store:        deps.Store,
		entitlements: deps.Entitlements,
		settings:     deps.Settings,
		audit:        deps.Audit,
		issuer:       deps.Issuer,
		now:          time.Now,
	}
}

// withStore returns a copy of h whose store and entitlement repository run on s.
func (h *Handlers) withStore(s store.Store) *Handlers {
	c := *h
	c.store = s
	c.entitlements = entitlement.NewRepository(s)
	return &c
}

// Page is a validated pagination request.
type Page struct {
	Page     int
	PageSize int
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() uint64 {
	return uint64((p.Page - 1) * p.PageSize)
}

// ListResponse is the envelope of every admin list endpoint.
type ListResponse[T any] struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
	Rows     []T   `json:"rows"`
}

// ParsePage reads page (1..1000000) and pageSize (1..100) from the query string.
func ParsePage(r *http.Request) (Page, error) {
	p := Page{Page: 1, PageSize: defaultPageSize}
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPage {
			return Page{}, apperr.Validation("invalid_pagination", "page must be an integer between 1 and 1000000")
		}
		p.Page = n
	}
	if raw := strings.TrimSpace(q.Get("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			return Page{}, apperr.Validation("invalid_pagination", "pageSize must be an integer between 1 and 100")
		}
		p.PageSize = n
	}
	return p, nil
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("admin: encode response")
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
