package api

import (
	"net/http"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/werkplatz/werkplatz-api/internal/guard"
)

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions,
	}, ", ")
	corsHeaders = strings.Join([]string{
		"Authorization", "Content-Type", guard.IdempotencyHeader, RequestIDHeader,
	}, ", ")
)

// originAllowed reports whether origin matches one of the configured
// patterns. Patterns use "*" and "?" wildcards.
func originAllowed(patterns []string, origin string) bool {
	for _, pattern := range patterns {
		if pattern == origin || wildcard.Match(pattern, origin) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests and sets the CORS response headers for
// allowed origins. Requests from other origins pass through without CORS
// headers and the browser blocks them.
func CORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		ok := originAllowed(allowed, origin)
		if ok {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
