package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/guard"
	"github.com/werkplatz/werkplatz-api/internal/settings"
	"github.com/werkplatz/werkplatz-api/internal/validate"
)

type settingResponse struct {
	Key   settings.Key    `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SettingRequest is the body of PUT /api/admin/settings/{key}.
type SettingRequest struct {
	Value json.RawMessage `json:"value" validate:"required"`
}

func settingKey(r *http.Request) (settings.Key, error) {
	raw := r.PathValue("key")
	key, ok := settings.ParseKey(raw)
	if !ok {
		return "", apperr.NotFound("admin.setting", fmt.Sprintf("unknown setting %q", raw))
	}
	return key, nil
}

// GetSetting serves GET /api/admin/settings/{key} with defaults applied.
func (h *Handlers) GetSetting(w http.ResponseWriter, r *http.Request) {
	key, err := settingKey(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	value, err := h.settings.Get(r.Context(), key)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: value})
}

// PutSetting serves PUT /api/admin/settings/{key}.
func (h *Handlers) PutSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := settingKey(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	var req SettingRequest
	if err := validate.DecodeJSON(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	principal := auth.PrincipalFrom(ctx)
	if principal == nil {
		apperr.Write(w, r, apperr.Unauthorized("authentication required"))
		return
	}

	if err := h.settings.Put(ctx, key, req.Value, principal.ID); err != nil {
		apperr.Write(w, r, err)
		return
	}
	details := map[string]any{"key": key, "value": req.Value}
	if err := guard.RecorderFrom(ctx).Record(ctx, guard.ActionSettingsUpdate, "", details); err != nil {
		apperr.Write(w, r, apperr.Persistence("admin.record_event", err))
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type forceLogoutResponse struct {
	Success        bool      `json:"success"`
	ForcedLogoutAt time.Time `json:"forcedLogoutAt"`
}

// ForceLogout serves POST /api/admin/sessions/force-logout. Every token issued
// before the returned instant stops authenticating.
func (h *Handlers) ForceLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := auth.PrincipalFrom(ctx)
	if principal == nil {
		apperr.Write(w, r, apperr.Unauthorized("authentication required"))
		return
	}
	at, err := h.settings.ForceLogout(ctx, principal.ID)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if err := guard.RecorderFrom(ctx).Record(ctx, guard.ActionForceLogout, "", map[string]any{"forcedLogoutAt": at}); err != nil {
		apperr.Write(w, r, apperr.Persistence("admin.record_event", err))
		return
	}
	writeJSON(w, http.StatusOK, forceLogoutResponse{Success: true, ForcedLogoutAt: at})
}
