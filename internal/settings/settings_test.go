package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/store"
	"github.com/werkplatz/werkplatz-api/internal/store/storetest"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s := storetest.New(t)
	return NewService(s), s
}

func TestDefaultsWhenAbsent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, Discount{}, svc.DefaultDiscount(ctx))
	assert.Equal(t, Banner{}, svc.MaintenanceBanner(ctx))
	assert.Empty(t, svc.PriceOverrides(ctx).ProMonthly)

	at, err := svc.ForcedLogoutAt(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
}

func TestMalformedValueFallsBackToDefault(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	for _, key := range []Key{KeyDefaultDiscount, KeyMaintenanceBanner, KeyForcedLogoutAt} {
		require.NoError(t, s.Upsert(ctx, store.TableSettings, []string{"key"}, store.Row{
			"key": string(key), "value": "{not json", "updated_at": int64(1),
		}))
	}

	assert.Equal(t, Discount{}, svc.DefaultDiscount(ctx))
	assert.Equal(t, Banner{}, svc.MaintenanceBanner(ctx))
	at, err := svc.ForcedLogoutAt(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
}

func TestPutAndReadBack(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Put(ctx, KeyPriceIDs, json.RawMessage(`{"proMonthly":"price_runtime"}`), "admin-1"))
	assert.Equal(t, "price_runtime", svc.PriceOverrides(ctx).ProMonthly)

	require.NoError(t, svc.Put(ctx, KeyDefaultDiscount, json.RawMessage(`{"enabled":true,"couponId":"LAUNCH20","percentOff":20}`), "admin-1"))
	assert.Equal(t, Discount{Enabled: true, CouponID: "LAUNCH20", PercentOff: 20}, svc.DefaultDiscount(ctx))
}

func TestPutInvalidatesCache(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.False(t, svc.MaintenanceBanner(ctx).Enabled)
	require.NoError(t, svc.Put(ctx, KeyMaintenanceBanner, json.RawMessage(`{"enabled":true,"message":"Wartung","level":"warning"}`), ""))
	assert.True(t, svc.MaintenanceBanner(ctx).Enabled)
}

func TestPutRejectsInvalidValues(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		key   Key
		value string
	}{
		{"unknown key", Key("feature_flags"), `{}`},
		{"discount without coupon", KeyDefaultDiscount, `{"enabled":true}`},
		{"discount out of range", KeyDefaultDiscount, `{"enabled":true,"couponId":"X","percentOff":150}`},
		{"banner level", KeyMaintenanceBanner, `{"enabled":true,"level":"panic"}`},
		{"unknown field", KeyPriceIDs, `{"goldMonthly":"price_x"}`},
		{"not a timestamp", KeyForcedLogoutAt, `"yesterday"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Put(ctx, tt.key, json.RawMessage(tt.value), "admin-1")
			assert.True(t, apperr.IsType(err, apperr.TypeValidation), "got %v", err)
		})
	}
}

func TestForceLogout(t *testing.T) {
	svc, _ := newTestService(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	at, err := svc.ForceLogout(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, fixed, at)

	got, err := svc.ForcedLogoutAt(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(fixed))

	raw, err := svc.Get(ctx, KeyForcedLogoutAt)
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-03-01T12:00:00Z"`, string(raw))
}

func TestForceLogoutKeepsMilliseconds(t *testing.T) {
	svc, _ := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 734_912_000, time.UTC) }
	ctx := context.Background()

	at, err := svc.ForceLogout(ctx, "admin-1")
	require.NoError(t, err)
	want := time.Date(2026, 3, 1, 12, 0, 0, 734_000_000, time.UTC)
	assert.Equal(t, want, at)

	got, err := svc.ForcedLogoutAt(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(want), got)
}

func TestParseKey(t *testing.T) {
	k, ok := ParseKey("maintenance_banner")
	assert.True(t, ok)
	assert.Equal(t, KeyMaintenanceBanner, k)
	_, ok = ParseKey("nope")
	assert.False(t, ok)
}
