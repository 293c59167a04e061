package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/werkplatz/werkplatz-api/internal/audit"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/entitlement"
	"github.com/werkplatz/werkplatz-api/internal/guard"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/settings"
	"github.com/werkplatz/werkplatz-api/internal/store"
	"github.com/werkplatz/werkplatz-api/internal/store/storetest"
)

const testSecret = "admin-test-secret"

type fixture struct {
	store    store.Store
	audit    *audit.Logger
	settings *settings.Service
	issuer   *auth.Issuer
	resolver *auth.TokenResolver
	mux      *http.ServeMux
	keySeq   int
}

func newFixture(t *testing.T, profiles ...storetest.Profile) *fixture {
	t.Helper()
	return newWrappedFixture(t, nil, profiles...)
}

// newWrappedFixture is newFixture with the handlers' store passed through
// wrap first.
func newWrappedFixture(t *testing.T, wrap func(store.Store) store.Store, profiles ...storetest.Profile) *fixture {
	t.Helper()
	s := storetest.New(t)
	for _, p := range profiles {
		storetest.SeedProfile(t, s, p)
	}
	f := &fixture{
		store:    s,
		audit:    audit.NewLogger(s, audit.NewChecksummer("audit-key")),
		settings: settings.NewService(s),
		issuer:   auth.NewIssuer(testSecret),
	}
	f.resolver = auth.NewTokenResolver(testSecret, s, f.settings)

	limiter := guard.NewMemoryRateLimiter(1000, time.Minute)
	t.Cleanup(limiter.Close)
	g := guard.New(guard.Config{RateLimiter: limiter, Resolver: f.resolver, Audit: f.audit})
	hs := store.Store(s)
	if wrap != nil {
		hs = wrap(s)
	}
	h := NewHandlers(Deps{
		Store:        hs,
		Entitlements: entitlement.NewRepository(hs),
		Settings:     f.settings,
		Audit:        f.audit,
		Issuer:       f.issuer,
	})

	moderation := []auth.Role{auth.RoleModerator, auth.RoleAdmin}
	adminOnly := []auth.Role{auth.RoleAdmin}
	f.mux = http.NewServeMux()
	route := func(pattern, path string, roles []auth.Role, fn http.HandlerFunc) {
		f.mux.Handle(pattern, g.Wrap(guard.RouteSpec{Path: path, Roles: roles}, fn))
	}
	route("GET /api/admin/users", "/api/admin/users", moderation, h.ListUsers)
	route("POST /api/admin/users/actions", "/api/admin/users/actions", moderation, h.UserActions)
	route("GET /api/admin/reports", "/api/admin/reports", moderation, h.ListReports)
	route("POST /api/admin/reports/actions", "/api/admin/reports/actions", moderation, h.ReportActions)
	route("GET /api/admin/settings/{key}", "/api/admin/settings", adminOnly, h.GetSetting)
	route("PUT /api/admin/settings/{key}", "/api/admin/settings", adminOnly, h.PutSetting)
	route("POST /api/admin/sessions/force-logout", "/api/admin/sessions/force-logout", adminOnly, h.ForceLogout)
	route("GET /api/admin/security-events", "/api/admin/security-events", moderation, h.ListSecurityEvents)
	return f
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.issuer.Issue(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	if method != http.MethodGet {
		f.keySeq++
		req.Header.Set(guard.IdempotencyHeader, fmt.Sprintf("test-key-%06d", f.keySeq))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) profile(t *testing.T, id string) store.Row {
	t.Helper()
	row, err := f.store.Get(context.Background(), store.TableProfiles, store.Eq{"id": id})
	require.NoError(t, err)
	return row
}

func (f *fixture) events(t *testing.T, filter audit.Filter) []audit.Event {
	t.Helper()
	events, err := f.audit.Query(context.Background(), filter, 100, 0)
	require.NoError(t, err)
	return events
}

func staff() []storetest.Profile {
	return []storetest.Profile{
		{ID: "admin-1", Role: "admin"},
		{ID: "admin-2", Role: "admin"},
		{ID: "mod-1", Role: "moderator"},
	}
}

func TestListUsersPaginates(t *testing.T) {
	profiles := staff()
	for i := 0; i < 25; i++ {
		profiles = append(profiles, storetest.Profile{ID: fmt.Sprintf("c%02d", i), Email: fmt.Sprintf("Builder%02d@example.ch", i)})
	}
	f := newFixture(t, profiles...)

	rec := f.do(t, http.MethodGet, "/api/admin/users?page=2&pageSize=10&role=contractor", "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ListResponse[UserRow]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 10, resp.PageSize)
	assert.EqualValues(t, 25, resp.Total)
	assert.Len(t, resp.Rows, 10)

	rec = f.do(t, http.MethodGet, "/api/admin/users?q=builder07", "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "c07", resp.Rows[0].ID)

	for _, q := range []string{"page=0", "pageSize=101", "pageSize=0", "page=x", "page=1000001", "role=root"} {
		rec = f.do(t, http.MethodGet, "/api/admin/users?"+q, "mod-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListUsersRequiresModerator(t *testing.T) {
	f := newFixture(t, storetest.Profile{ID: "c1"})
	rec := f.do(t, http.MethodGet, "/api/admin/users", "c1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoleChangeBatchWithAdminTargetChangesNothing(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "c1"}, storetest.Profile{ID: "c2"})...)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "role_change",
		"userIds": []string{"c1", "admin-2", "c2"},
		"payload": map[string]string{"role": "client"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "protected_target")

	assert.Equal(t, "contractor", f.profile(t, "c1").String("role"))
	assert.Equal(t, "contractor", f.profile(t, "c2").String("role"))
	assert.Equal(t, "admin", f.profile(t, "admin-2").String("role"))
	assert.Empty(t, f.events(t, audit.Filter{EventType: "admin.role_change"}))
}

// txSpy records how the handlers reach the store and can fail the nth update
// made inside a transaction.
type txSpy struct {
	store.Store
	inTx      bool
	failAfter int
	log       *[]string
	updates   *int
}

func (s txSpy) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.InTx(ctx, func(tx store.Store) error {
		return fn(txSpy{Store: tx, inTx: true, failAfter: s.failAfter, log: s.log, updates: s.updates})
	})
}

func (s txSpy) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	*s.log = append(*s.log, fmt.Sprintf("select %s tx=%t lock=%t", q.Table, s.inTx, q.ForUpdate))
	return s.Store.Select(ctx, q)
}

func (s txSpy) Update(ctx context.Context, table string, where store.Filter, set store.Row) (int64, error) {
	*s.log = append(*s.log, fmt.Sprintf("update %s tx=%t", table, s.inTx))
	if s.inTx {
		*s.updates++
		if s.failAfter > 0 && *s.updates > s.failAfter {
			return 0, fmt.Errorf("injected failure")
		}
	}
	return s.Store.Update(ctx, table, where, set)
}

func newSpyFixture(t *testing.T, failAfter int, profiles ...storetest.Profile) (*fixture, *[]string) {
	t.Helper()
	var calls []string
	var updates int
	f := newWrappedFixture(t, func(s store.Store) store.Store {
		return txSpy{Store: s, failAfter: failAfter, log: &calls, updates: &updates}
	}, profiles...)
	return f, &calls
}

func TestUserActionChecksTargetsInsideTransaction(t *testing.T) {
	f, calls := newSpyFixture(t, 0, append(staff(), storetest.Profile{ID: "c1"})...)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "ban",
		"userIds": []string{"c1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{
		"select profiles tx=true lock=true",
		"update profiles tx=true",
	}, *calls)
	assert.True(t, f.profile(t, "c1").Bool("is_banned"))
}

func TestUserActionRollsBackPartialBatch(t *testing.T) {
	f, _ := newSpyFixture(t, 1, append(staff(),
		storetest.Profile{ID: "c1", OfferCount: 7},
		storetest.Profile{ID: "c2", OfferCount: 7},
	)...)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "subscription_change",
		"userIds": []string{"c1", "c2"},
		"payload": map[string]any{"status": "active", "planType": "pro", "resetOfferCount": true},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	for _, id := range []string{"c1", "c2"} {
		e, err := entitlement.NewRepository(f.store).GetByUserID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 7, e.OfferCountThisMonth, id)
		assert.Nil(t, e.PlanType, id)
	}
	assert.Empty(t, f.events(t, audit.Filter{EventType: "admin.subscription_change"}))
}

func TestRoleChangeRequiresAdmin(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "c1"})...)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "mod-1", map[string]any{
		"action":  "role_change",
		"userIds": []string{"c1"},
		"payload": map[string]string{"role": "moderator"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "role_change",
		"userIds": []string{"c1"},
		"payload": map[string]string{"role": "moderator"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "moderator", f.profile(t, "c1").String("role"))

	events := f.events(t, audit.Filter{EventType: "admin.role_change"})
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
	assert.Equal(t, "admin-1", events[0].ActorID)
	assert.Equal(t, "c1", events[0].TargetUserID)
}

func TestBanRecordsOneEventPerTarget(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "c1"}, storetest.Profile{ID: "c2"})...)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "mod-1", map[string]any{
		"action":  "ban",
		"userIds": []string{"c1", "c2", "c1"},
		"payload": map[string]string{"reason": "spam"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	for _, id := range []string{"c1", "c2"} {
		row := f.profile(t, id)
		assert.True(t, row.Bool("is_banned"))
		assert.Equal(t, "spam", row.String("ban_reason"))
	}
	events := f.events(t, audit.Filter{EventType: "admin.ban"})
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, audit.SeverityWarning, ev.Severity)
	}

	rec = f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "unban",
		"userIds": []string{"c1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.profile(t, "c1").Bool("is_banned"))
	assert.Empty(t, f.profile(t, "c1").String("ban_reason"))
}

func TestUserActionValidation(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "c1"})...)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown action", map[string]any{"action": "explode", "userIds": []string{"c1"}}, http.StatusBadRequest},
		{"no targets", map[string]any{"action": "ban", "userIds": []string{}}, http.StatusBadRequest},
		{"blank targets", map[string]any{"action": "verify", "userIds": []string{"   ", "\t"}}, http.StatusBadRequest},
		{"bad payload", map[string]any{"action": "verify", "userIds": []string{"c1"}, "payload": map[string]any{"x": 1}}, http.StatusBadRequest},
		{"missing target", map[string]any{"action": "verify", "userIds": []string{"c1", "ghost"}}, http.StatusNotFound},
		{"impersonate batch", map[string]any{"action": "impersonate", "userIds": []string{"c1", "mod-1"}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
	assert.False(t, f.profile(t, "c1").Bool("is_verified"))
}

func TestSubscriptionChange(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "c1", OfferCount: 9})...)
	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "subscription_change",
		"userIds": []string{"c1"},
		"payload": map[string]any{"status": "active", "planType": "pro", "periodEnd": end, "resetOfferCount": true},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	e, err := entitlement.NewRepository(f.store).GetByUserID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusActive, e.SubscriptionStatus)
	require.NotNil(t, e.PlanType)
	assert.Equal(t, plans.Pro, *e.PlanType)
	assert.Equal(t, 0, e.OfferCountThisMonth)
	require.NotNil(t, e.CurrentPeriodEnd)
	assert.True(t, end.Equal(*e.CurrentPeriodEnd))

	rec = f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "subscription_change",
		"userIds": []string{"c1"},
		"payload": map[string]any{"status": "canceled", "planType": "pro"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "plan requires active status")
}

func TestSoftDeleteBlocksLogin(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "m2", Role: "moderator"})...)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "mod-1", map[string]any{
		"action":  "soft_delete",
		"userIds": []string{"m2"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, f.profile(t, "m2").NullTime("deleted_at"))

	rec = f.do(t, http.MethodGet, "/api/admin/users", "m2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	events := f.events(t, audit.Filter{EventType: "admin.soft_delete"})
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
}

func TestImpersonateIssuesTargetToken(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "c1"})...)

	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "impersonate",
		"userIds": []string{"c1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp impersonationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	p, err := f.resolver.Resolve(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "c1", p.ID)

	rec = f.do(t, http.MethodPost, "/api/admin/users/actions", "admin-1", map[string]any{
		"action":  "impersonate",
		"userIds": []string{"admin-2"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func seedReport(t *testing.T, s store.Store, id, targetType, targetID string) {
	t.Helper()
	require.NoError(t, s.Insert(context.Background(), store.TableReports, store.Row{
		"id":          id,
		"reporter_id": "reporter",
		"target_type": targetType,
		"target_id":   targetID,
		"reason":      "inappropriate",
		"created_at":  time.Now().Unix(),
	}))
}

func TestReportActions(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "client-1", Role: "client"}, storetest.Profile{ID: "c1"})...)
	storetest.SeedProject(t, f.store, "p1", "client-1")
	storetest.SeedProject(t, f.store, "p2", "client-1")
	seedReport(t, f.store, "r1", TargetProject, "p1")
	seedReport(t, f.store, "r2", TargetProject, "p2")
	seedReport(t, f.store, "r3", TargetProfile, "admin-2")

	rec := f.do(t, http.MethodGet, "/api/admin/reports", "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse[ReportRow]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 3, list.Total)

	rec = f.do(t, http.MethodPost, "/api/admin/reports/actions", "mod-1", map[string]any{
		"action":    "remove_target",
		"reportIds": []string{"r1"},
		"note":      "off-platform payment request",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	project, err := f.store.Get(context.Background(), store.TableProjects, store.Eq{"id": "p1"})
	require.NoError(t, err)
	assert.NotNil(t, project.NullTime("deleted_at"))
	events := f.events(t, audit.Filter{EventType: "admin.remove_target"})
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)

	rec = f.do(t, http.MethodPost, "/api/admin/reports/actions", "mod-1", map[string]any{
		"action":    "dismiss",
		"reportIds": []string{"r2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	report, err := f.store.Get(context.Background(), store.TableReports, store.Eq{"id": "r2"})
	require.NoError(t, err)
	assert.Equal(t, ReportStatusDismissed, report.String("status"))
	assert.Equal(t, "mod-1", report.String("resolved_by"))

	rec = f.do(t, http.MethodPost, "/api/admin/reports/actions", "mod-1", map[string]any{
		"action":    "remove_target",
		"reportIds": []string{"r3"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, f.profile(t, "admin-2").NullTime("deleted_at"))

	rec = f.do(t, http.MethodPost, "/api/admin/reports/actions", "mod-1", map[string]any{
		"action":    "dismiss",
		"reportIds": []string{"r404"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/reports/actions", "mod-1", map[string]any{
		"action":    "dismiss",
		"reportIds": []string{" ", "  "},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")

	rec = f.do(t, http.MethodGet, "/api/admin/reports?status=open", "mod-1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)
}

func TestSettingsEndpoints(t *testing.T) {
	f := newFixture(t, staff()...)

	rec := f.do(t, http.MethodGet, "/api/admin/settings/maintenance_banner", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"maintenance_banner","value":{"enabled":false}}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/admin/settings/maintenance_banner", "admin-1", map[string]any{
		"value": map[string]any{"enabled": true, "message": "Maintenance at 22:00", "level": "warning"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Maintenance at 22:00", f.settings.MaintenanceBanner(context.Background()).Message)

	rec = f.do(t, http.MethodPut, "/api/admin/settings/maintenance_banner", "admin-1", map[string]any{
		"value": map[string]any{"enabled": true, "level": "panic"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/settings/nope", "admin-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/settings/maintenance_banner", "mod-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	events := f.events(t, audit.Filter{EventType: "admin.settings_update"})
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
}

func TestForceLogoutRevokesOlderTokens(t *testing.T) {
	f := newFixture(t, staff()...)
	oldToken, err := f.issuer.Issue("mod-1", time.Hour)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/admin/sessions/force-logout", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err = f.resolver.Resolve(context.Background(), oldToken)
	assert.Error(t, err)

	events := f.events(t, audit.Filter{EventType: "admin.force_logout"})
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
}

func TestListSecurityEvents(t *testing.T) {
	f := newFixture(t, append(staff(), storetest.Profile{ID: "c1"})...)
	rec := f.do(t, http.MethodPost, "/api/admin/users/actions", "mod-1", map[string]any{
		"action":  "verify",
		"userIds": []string{"c1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/security-events?eventType=admin.verify&severity=warning", "mod-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ListResponse[SecurityEventRow]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Total)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "c1", resp.Rows[0].TargetUserID)
	assert.True(t, resp.Rows[0].Verified)

	rec = f.do(t, http.MethodGet, "/api/admin/security-events?severity=loud", "mod-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
