package admin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/guard"
	"github.com/werkplatz/werkplatz-api/internal/store"
	"github.com/werkplatz/werkplatz-api/internal/validate"
)

// ReportAction names an action on moderation reports.
type ReportAction string

const (
	ReportDismiss      ReportAction = guard.ActionDismissReport
	ReportRemoveTarget ReportAction = guard.ActionRemoveTarget
)

// Report statuses.
const (
	ReportStatusOpen      = "open"
	ReportStatusResolved  = "resolved"
	ReportStatusDismissed = "dismissed"
)

// Reportable content kinds.
const (
	TargetOffer   = "offer"
	TargetProject = "project"
	TargetProfile = "profile"
)

var targetTables = map[string]string{
	TargetOffer:   store.TableOffers,
	TargetProject: store.TableProjects,
	TargetProfile: store.TableProfiles,
}

// ReportRow is one row of the admin report list.
type ReportRow struct {
	ID         string     `json:"id"`
	ReporterID string     `json:"reporterId"`
	TargetType string     `json:"targetType"`
	TargetID   string     `json:"targetId"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	ResolvedBy *string    `json:"resolvedBy"`
	ResolvedAt *time.Time `json:"resolvedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func reportFromRow(row store.Row) ReportRow {
	return ReportRow{
		ID:         row.String("id"),
		ReporterID: row.String("reporter_id"),
		TargetType: row.String("target_type"),
		TargetID:   row.String("target_id"),
		Reason:     row.String("reason"),
		Status:     row.String("status"),
		ResolvedBy: row.NullString("resolved_by"),
		ResolvedAt: row.NullTime("resolved_at"),
		CreatedAt:  row.Time("created_at"),
	}
}

// ListReports serves GET /api/admin/reports. The status filter defaults to open.
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePage(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	var where store.Filter
	switch status := strings.TrimSpace(r.URL.Query().Get("status")); status {
	case "":
		where = store.Eq{"status": ReportStatusOpen}
	case "all":
	case ReportStatusOpen, ReportStatusResolved, ReportStatusDismissed:
		where = store.Eq{"status": status}
	default:
		apperr.Write(w, r, apperr.Validation("invalid_input", fmt.Sprintf("unknown report status %q", status)))
		return
	}

	var (
		total int64
		rows  []store.Row
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := h.store.Count(ctx, store.TableReports, where)
		total = n
		return err
	})
	g.Go(func() error {
		rs, err := h.store.Select(ctx, store.Query{
			Table:   store.TableReports,
			Where:   where,
			OrderBy: []string{"created_at DESC", "id ASC"},
			Limit:   uint64(page.PageSize),
			Offset:  page.Offset(),
		})
		rows = rs
		return err
	})
	if err := g.Wait(); err != nil {
		apperr.Write(w, r, apperr.Persistence("admin.list_reports", err))
		return
	}

	out := make([]ReportRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, reportFromRow(row))
	}
	writeJSON(w, http.StatusOK, ListResponse[ReportRow]{Page: page.Page, PageSize: page.PageSize, Total: total, Rows: out})
}

// ReportActionRequest is the body of POST /api/admin/reports/actions.
type ReportActionRequest struct {
	Action    string   `json:"action" validate:"required,oneof=dismiss remove_target"`
	ReportIDs []string `json:"reportIds" validate:"required,min=1,max=100,dive,required,max=128"`
	Note      string   `json:"note" validate:"max=1000"`
}

// ReportActions resolves a batch of reports.
func (h *Handlers) ReportActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ReportActionRequest
	if err := validate.DecodeJSON(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	action := ReportAction(req.Action)
	principal := auth.PrincipalFrom(ctx)
	if principal == nil {
		apperr.Write(w, r, apperr.Unauthorized("authentication required"))
		return
	}

	ids := uniqueIDs(req.ReportIDs)
	if len(ids) == 0 {
		apperr.Write(w, r, apperr.Validation("invalid_input", "reportIds must contain at least one non-empty id"))
		return
	}

	var reports []ReportRow
	err := h.store.InTx(ctx, func(tx store.Store) error {
		th := h.withStore(tx)
		rows, err := tx.Select(ctx, store.Query{Table: store.TableReports, Where: store.Eq{"id": ids}, ForUpdate: true})
		if err != nil {
			return apperr.Persistence("admin.load_reports", err)
		}
		if len(rows) != len(ids) {
			return apperr.NotFound("admin.load_reports", "One or more reports were not found")
		}
		reports = make([]ReportRow, 0, len(rows))
		for _, row := range rows {
			reports = append(reports, reportFromRow(row))
		}

		status := ReportStatusDismissed
		if action == ReportRemoveTarget {
			status = ReportStatusResolved
			if err := th.checkRemovableTargets(ctx, reports); err != nil {
				return err
			}
			for _, rep := range reports {
				if err := th.removeTarget(ctx, rep); err != nil {
					return err
				}
			}
		}

		_, err = tx.Update(ctx, store.TableReports, store.Eq{"id": ids}, store.Row{
			"status":      status,
			"resolved_by": principal.ID,
			"resolved_at": h.now().UTC().Unix(),
		})
		if err != nil {
			return apperr.Persistence("admin.resolve_reports", err)
		}
		return nil
	})
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	rec := guard.RecorderFrom(ctx)
	for _, rep := range reports {
		var targetUser string
		if rep.TargetType == TargetProfile {
			targetUser = rep.TargetID
		}
		details := map[string]string{
			"reportId":   rep.ID,
			"targetType": rep.TargetType,
			"targetId":   rep.TargetID,
		}
		if note := strings.TrimSpace(req.Note); note != "" {
			details["note"] = note
		}
		if err := rec.Record(ctx, string(action), targetUser, details); err != nil {
			apperr.Write(w, r, apperr.Persistence("admin.record_event", err))
			return
		}
	}

	log.Info().
		Str("actor_id", principal.ID).
		Str("action", string(action)).
		Int("reports", len(reports)).
		Msg("Admin report action applied")
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// checkRemovableTargets validates every target before anything is removed.
// Profiles holding the top role cannot be removed through a report.
func (h *Handlers) checkRemovableTargets(ctx context.Context, reports []ReportRow) error {
	var profileIDs []string
	for _, rep := range reports {
		if _, ok := targetTables[rep.TargetType]; !ok {
			return apperr.Validation("invalid_target", fmt.Sprintf("report %s has unknown target type %q", rep.ID, rep.TargetType))
		}
		if rep.TargetType == TargetProfile {
			profileIDs = append(profileIDs, rep.TargetID)
		}
	}
	if len(profileIDs) == 0 {
		return nil
	}
	rows, err := h.store.Select(ctx, store.Query{
		Table:     store.TableProfiles,
		Columns:   []string{"role"},
		Where:     store.Eq{"id": uniqueIDs(profileIDs)},
		ForUpdate: true,
	})
	if err != nil {
		return apperr.Persistence("admin.load_targets", err)
	}
	for _, row := range rows {
		if auth.Role(row.String("role")) == auth.TopRole {
			return apperr.Forbidden("protected_target", "This action cannot target an administrator account")
		}
	}
	return nil
}

// removeTarget soft-deletes the reported content. Missing or already removed
// targets are left as they are.
func (h *Handlers) removeTarget(ctx context.Context, rep ReportRow) error {
	table := targetTables[rep.TargetType]
	_, err := h.store.Update(ctx, table,
		store.Eq{"id": rep.TargetID, "deleted_at": nil},
		store.Row{"deleted_at": h.now().UTC().Unix()},
	)
	if err != nil {
		return apperr.Persistence("admin.remove_target", err)
	}
	return nil
}
