package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/guard"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/store"
	"github.com/werkplatz/werkplatz-api/internal/validate"
)

// UserAction names a bulk action on user accounts.
type UserAction string

const (
	UserBan                UserAction = guard.ActionBan
	UserUnban              UserAction = guard.ActionUnban
	UserVerify             UserAction = guard.ActionVerify
	UserUnverify           UserAction = guard.ActionUnverify
	UserRoleChange         UserAction = guard.ActionRoleChange
	UserSubscriptionChange UserAction = guard.ActionSubscriptionChange
	UserSoftDelete         UserAction = guard.ActionSoftDelete
	UserImpersonate        UserAction = guard.ActionImpersonate
)

// BanPayload is the payload of UserBan.
type BanPayload struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RoleChangePayload is the payload of UserRoleChange.
type RoleChangePayload struct {
	Role string `json:"role" validate:"required,oneof=client contractor moderator admin"`
}

// SubscriptionChangePayload is the payload of UserSubscriptionChange. It sets
// absolute entitlement values, like a provider event would.
type SubscriptionChangePayload struct {
	Status          string     `json:"status" validate:"required,oneof=active past_due canceled none"`
	PlanType        string     `json:"planType" validate:"omitempty,oneof=basic pro"`
	PeriodEnd       *time.Time `json:"periodEnd"`
	ResetOfferCount bool       `json:"resetOfferCount"`
}

type emptyPayload struct{}

// userMutation is a validated action ready to run against a batch of users.
type userMutation struct {
	apply   func(ctx context.Context, h *Handlers, ids []string) (any, error)
	details any
}

type userActionHandler struct {
	adminOnly    bool
	singleTarget bool
	prepare      func(raw json.RawMessage) (userMutation, error)
}

var userActions = map[UserAction]userActionHandler{
	UserBan:                {prepare: prepareBan},
	UserUnban:              {prepare: setProfileColumns(store.Row{"is_banned": int64(0), "ban_reason": nil})},
	UserVerify:             {prepare: setProfileColumns(store.Row{"is_verified": int64(1)})},
	UserUnverify:           {prepare: setProfileColumns(store.Row{"is_verified": int64(0)})},
	UserRoleChange:         {adminOnly: true, prepare: prepareRoleChange},
	UserSubscriptionChange: {adminOnly: true, prepare: prepareSubscriptionChange},
	UserSoftDelete:         {prepare: prepareSoftDelete},
	UserImpersonate:        {adminOnly: true, singleTarget: true, prepare: prepareImpersonate},
}

func prepareBan(raw json.RawMessage) (userMutation, error) {
	var p BanPayload
	if err := validate.Unmarshal(raw, &p); err != nil {
		return userMutation{}, err
	}
	reason := strings.TrimSpace(p.Reason)
	return userMutation{
		apply:   updateProfiles(store.Row{"is_banned": int64(1), "ban_reason": store.StringOrNil(&reason)}),
		details: p,
	}, nil
}

func setProfileColumns(set store.Row) func(json.RawMessage) (userMutation, error) {
	return func(raw json.RawMessage) (userMutation, error) {
		if err := validate.Unmarshal(raw, &emptyPayload{}); err != nil {
			return userMutation{}, err
		}
		return userMutation{apply: updateProfiles(set), details: struct{}{}}, nil
	}
}

func prepareRoleChange(raw json.RawMessage) (userMutation, error) {
	var p RoleChangePayload
	if err := validate.Unmarshal(raw, &p); err != nil {
		return userMutation{}, err
	}
	return userMutation{apply: updateProfiles(store.Row{"role": p.Role}), details: p}, nil
}

func prepareSoftDelete(raw json.RawMessage) (userMutation, error) {
	if err := validate.Unmarshal(raw, &emptyPayload{}); err != nil {
		return userMutation{}, err
	}
	return userMutation{
		apply: func(ctx context.Context, h *Handlers, ids []string) (any, error) {
			return updateProfiles(store.Row{"deleted_at": h.now().UTC().Unix()})(ctx, h, ids)
		},
		details: struct{}{},
	}, nil
}

func prepareSubscriptionChange(raw json.RawMessage) (userMutation, error) {
	var p SubscriptionChangePayload
	if err := validate.Unmarshal(raw, &p); err != nil {
		return userMutation{}, err
	}
	status, _ := entitlement.ParseStatus(p.Status)
	if p.PlanType != "" && status != entitlement.StatusActive {
		return userMutation{}, apperr.Validation("invalid_input", "planType requires status active")
	}

	patch := entitlement.Patch{Status: entitlement.Value(status), PlanType: entitlement.Null[plans.Type]()}
	if p.PlanType != "" {
		patch.PlanType = entitlement.Value(plans.Type(p.PlanType))
	}
	if p.PeriodEnd != nil {
		patch.PeriodEnd = entitlement.Value(p.PeriodEnd.UTC())
	} else {
		patch.PeriodEnd = entitlement.Null[time.Time]()
	}
	if p.ResetOfferCount {
		patch.OfferCount = entitlement.Value(0)
	}

	return userMutation{
		apply: func(ctx context.Context, h *Handlers, ids []string) (any, error) {
			for _, id := range ids {
				if err := h.entitlements.UpdateByUserID(ctx, id, patch); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
		details: p,
	}, nil
}

type impersonationResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func prepareImpersonate(raw json.RawMessage) (userMutation, error) {
	if err := validate.Unmarshal(raw, &emptyPayload{}); err != nil {
		return userMutation{}, err
	}
	return userMutation{
		apply: func(_ context.Context, h *Handlers, ids []string) (any, error) {
			if h.issuer == nil {
				return nil, apperr.Forbidden("impersonation_disabled", "Impersonation is not configured")
			}
			token, err := h.issuer.Issue(ids[0], impersonationTTL)
			if err != nil {
				return nil, fmt.Errorf("issue impersonation token: %w", err)
			}
			return impersonationResponse{
				Success:   true,
				Token:     token,
				ExpiresAt: h.now().UTC().Add(impersonationTTL).Truncate(time.Second),
			}, nil
		},
		details: map[string]int{"ttlSeconds": int(impersonationTTL.Seconds())},
	}, nil
}

// updateProfiles sets columns on every target in one statement.
func updateProfiles(set store.Row) func(ctx context.Context, h *Handlers, ids []string) (any, error) {
	return func(ctx context.Context, h *Handlers, ids []string) (any, error) {
		row := store.Row{"updated_at": h.now().UTC().Unix()}
		for k, v := range set {
			row[k] = v
		}
		if _, err := h.store.Update(ctx, store.TableProfiles, store.Eq{"id": ids}, row); err != nil {
			return nil, apperr.Persistence("admin.update_profiles", err)
		}
		return nil, nil
	}
}

// UserActionRequest is the body of POST /api/admin/users/actions.
type UserActionRequest struct {
	Action  string          `json:"action" validate:"required"`
	UserIDs []string        `json:"userIds" validate:"required,min=1,max=100,dive,required,max=128"`
	Payload json.RawMessage `json:"payload"`
}

// UserActions applies one action to a batch of users. The batch is validated
// as a whole before any row changes.
func (h *Handlers) UserActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UserActionRequest
	if err := validate.DecodeJSON(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}

	action := UserAction(strings.TrimSpace(req.Action))
	handler, ok := userActions[action]
	if !ok {
		apperr.Write(w, r, apperr.Validation("unknown_action", fmt.Sprintf("unknown user action %q", req.Action)))
		return
	}
	principal := auth.PrincipalFrom(ctx)
	if principal == nil || (handler.adminOnly && principal.Role != auth.RoleAdmin) {
		apperr.Write(w, r, apperr.Forbidden("forbidden", "This action requires an administrator"))
		return
	}

	ids := uniqueIDs(req.UserIDs)
	if len(ids) == 0 {
		apperr.Write(w, r, apperr.Validation("invalid_input", "userIds must contain at least one non-empty id"))
		return
	}
	if handler.singleTarget && len(ids) != 1 {
		apperr.Write(w, r, apperr.Validation("invalid_input", "This action takes exactly one user"))
		return
	}
	mutation, err := handler.prepare(req.Payload)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	// Target roles are read with row locks in the same transaction as the
	// mutation, so a concurrent promotion cannot slip between check and write.
	var result any
	err = h.store.InTx(ctx, func(tx store.Store) error {
		th := h.withStore(tx)
		roles, err := th.targetRoles(ctx, ids)
		if err != nil {
			return err
		}
		if err := guard.CheckTargets(string(action), roles); err != nil {
			log.Warn().
				Str("actor_id", principal.ID).
				Str("action", string(action)).
				Strs("user_ids", ids).
				Msg("Admin action against protected account rejected")
			return err
		}
		result, err = mutation.apply(ctx, th, ids)
		return err
	})
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	rec := guard.RecorderFrom(ctx)
	for _, id := range ids {
		if err := rec.Record(ctx, string(action), id, mutation.details); err != nil {
			apperr.Write(w, r, apperr.Persistence("admin.record_event", err))
			return
		}
	}

	log.Info().
		Str("actor_id", principal.ID).
		Str("action", string(action)).
		Int("targets", len(ids)).
		Msg("Admin user action applied")

	if result != nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// targetRoles loads the current role of every id, failing with 404 when any
// target does not exist.
func (h *Handlers) targetRoles(ctx context.Context, ids []string) ([]auth.Role, error) {
	rows, err := h.store.Select(ctx, store.Query{
		Table:     store.TableProfiles,
		Columns:   []string{"id", "role"},
		Where:     store.Eq{"id": ids},
		ForUpdate: true,
	})
	if err != nil {
		return nil, apperr.Persistence("admin.load_targets", err)
	}
	if len(rows) != len(ids) {
		return nil, apperr.NotFound("admin.load_targets", "One or more users were not found")
	}
	roles := make([]auth.Role, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, auth.Role(row.String("role")))
	}
	return roles, nil
}

// UserRow is one row of the admin user list.
type UserRow struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	DisplayName         string     `json:"displayName"`
	Role                string     `json:"role"`
	IsVerified          bool       `json:"isVerified"`
	IsBanned            bool       `json:"isBanned"`
	BanReason           *string    `json:"banReason"`
	DeletedAt           *time.Time `json:"deletedAt"`
	SubscriptionStatus  string     `json:"subscriptionStatus"`
	PlanType            *string    `json:"planType"`
	OfferCountThisMonth int64      `json:"offerCountThisMonth"`
	CurrentPeriodEnd    *time.Time `json:"subscriptionCurrentPeriodEnd"`
	CreatedAt           time.Time  `json:"createdAt"`
}

var userColumns = []string{
	"id", "email", "display_name", "role", "is_verified", "is_banned", "ban_reason", "deleted_at",
	"subscription_status", "plan_type", "offer_count_this_month", "subscription_current_period_end", "created_at",
}

func userFromRow(row store.Row) UserRow {
	return UserRow{
		ID:                  row.String("id"),
		Email:               row.String("email"),
		DisplayName:         row.String("display_name"),
		Role:                row.String("role"),
		IsVerified:          row.Bool("is_verified"),
		IsBanned:            row.Bool("is_banned"),
		BanReason:           row.NullString("ban_reason"),
		DeletedAt:           row.NullTime("deleted_at"),
		SubscriptionStatus:  row.String("subscription_status"),
		PlanType:            row.NullString("plan_type"),
		OfferCountThisMonth: row.Int64("offer_count_this_month"),
		CurrentPeriodEnd:    row.NullTime("subscription_current_period_end"),
		CreatedAt:           row.Time("created_at"),
	}
}

func userFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var conds sq.And
	if role := strings.TrimSpace(q.Get("role")); role != "" {
		if _, ok := auth.ParseRole(role); !ok {
			return nil, apperr.Validation("invalid_input", fmt.Sprintf("unknown role %q", role))
		}
		conds = append(conds, store.Eq{"role": role})
	}
	if term := strings.ToLower(strings.TrimSpace(q.Get("q"))); term != "" {
		pattern := "%" + term + "%"
		conds = append(conds, sq.Or{
			sq.Expr("LOWER(email) LIKE ?", pattern),
			sq.Expr("LOWER(display_name) LIKE ?", pattern),
		})
	}
	if q.Get("includeDeleted") != "true" {
		conds = append(conds, store.Eq{"deleted_at": nil})
	}
	if len(conds) == 0 {
		return nil, nil
	}
	return conds, nil
}

// ListUsers serves GET /api/admin/users.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePage(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	where, err := userFilter(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	var (
		total int64
		rows  []store.Row
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := h.store.Count(ctx, store.TableProfiles, where)
		total = n
		return err
	})
	g.Go(func() error {
		rs, err := h.store.Select(ctx, store.Query{
			Table:   store.TableProfiles,
			Columns: userColumns,
			Where:   where,
			OrderBy: []string{"created_at DESC", "id ASC"},
			Limit:   uint64(page.PageSize),
			Offset:  page.Offset(),
		})
		rows = rs
		return err
	})
	if err := g.Wait(); err != nil {
		apperr.Write(w, r, apperr.Persistence("admin.list_users", err))
		return
	}

	out := make([]UserRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, userFromRow(row))
	}
	writeJSON(w, http.StatusOK, ListResponse[UserRow]{Page: page.Page, PageSize: page.PageSize, Total: total, Rows: out})
}
