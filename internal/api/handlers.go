package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/quota"
	"github.com/werkplatz/werkplatz-api/internal/settings"
	"github.com/werkplatz/werkplatz-api/internal/validate"
)

const readyTimeout = 2 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("api: encode response")
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func handleReadyz(backends map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := make(map[string]string, len(backends))
		ready := true
		for name, p := range backends {
			if err := p.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("backend", name).Msg("Readiness check failed")
				checks[name] = "unavailable"
				ready = false
				continue
			}
			checks[name] = "ok"
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		writeJSON(w, status, map[string]any{"status": state, "checks": checks})
	}
}

type planView struct {
	Type              plans.Type `json:"type"`
	MonthlyOfferLimit *int       `json:"monthlyOfferLimit"`
	MonthlyAvailable  bool       `json:"monthlyAvailable"`
	YearlyAvailable   bool       `json:"yearlyAvailable"`
}

func handlePlans(registry *plans.Registry, cfg *settings.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		effective := registry.WithOverrides(cfg.PriceOverrides(r.Context()))
		all := effective.All()
		out := make([]planView, 0, len(all))
		for _, p := range all {
			out = append(out, planView{
				Type:              p.Type,
				MonthlyOfferLimit: p.MonthlyOfferLimit,
				MonthlyAvailable:  p.MonthlyPriceID != "",
				YearlyAvailable:   p.YearlyPriceID != "",
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": out})
	}
}

func handleBanner(cfg *settings.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cfg.MaintenanceBanner(r.Context()))
	}
}

// CheckoutRequest is the body of POST /api/billing/checkout.
type CheckoutRequest struct {
	PlanType string `json:"planType" validate:"required,oneof=basic pro"`
	Cycle    string `json:"cycle" validate:"omitempty,oneof=monthly yearly"`
}

// CheckoutCreator starts a provider checkout for a plan.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, user *auth.Principal, planType plans.Type, cycle plans.Cycle) (string, error)
}

func handleCheckout(checkout CheckoutCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckoutRequest
		if err := validate.DecodeJSON(w, r, &req); err != nil {
			apperr.Write(w, r, err)
			return
		}
		cycle := plans.Monthly
		if req.Cycle != "" {
			cycle = plans.Cycle(req.Cycle)
		}
		url, err := checkout.CreateSession(r.Context(), auth.PrincipalFrom(r.Context()), plans.Type(req.PlanType), cycle)
		if err != nil {
			apperr.Write(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

type entitlementResponse struct {
	*entitlement.Entitlement
	CanSubmitOffer bool   `json:"canSubmitOffer"`
	OfferLimit     *int   `json:"offerLimit"`
	DenialReason   string `json:"denialReason,omitempty"`
}

func handleEntitlement(repo *entitlement.Repository, engine *quota.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.PrincipalFrom(r.Context())
		e, err := repo.GetByUserID(r.Context(), user.ID)
		if err != nil {
			apperr.Write(w, r, err)
			return
		}

		decision := engine.CanSubmitOffer(user)

		writeJSON(w, http.StatusOK, entitlementResponse{
			Entitlement:    e,
			CanSubmitOffer: decision.Allowed,
			OfferLimit:     decision.Limit,
			DenialReason:   string(decision.Reason),
		})
	}
}

func handleSubmitOffer(offers *quota.OfferService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in quota.OfferInput
		if err := validate.DecodeJSON(w, r, &in); err != nil {
			apperr.Write(w, r, err)
			return
		}
		result, err := offers.Submit(r.Context(), auth.PrincipalFrom(r.Context()), in)
		if err != nil {
			apperr.Write(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}
