// Package settings reads and writes operator-managed runtime settings. Values
// are opaque JSON documents keyed by name; reads fall back to safe defaults
// when a row is absent or malformed.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/plans"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

// Key names a persisted setting.
type Key string

const (
	KeyPriceIDs          Key = "stripe_price_ids"
	KeyDefaultDiscount   Key = "default_discount"
	KeyMaintenanceBanner Key = "maintenance_banner"
	KeyForcedLogoutAt    Key = "forced_logout_at"
)

const (
	cacheTTL     = 30 * time.Second
	cacheCleanup = time.Minute
)

// Discount is the coupon applied to new checkout sessions.
type Discount struct {
	Enabled    bool   `json:"enabled"`
	CouponID   string `json:"couponId,omitempty"`
	PercentOff int    `json:"percentOff,omitempty"`
}

// Banner is the site-wide maintenance notice.
type Banner struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"` // info, warning or critical
}

// ParseKey validates a setting name.
func ParseKey(s string) (Key, bool) {
	switch k := Key(strings.TrimSpace(s)); k {
	case KeyPriceIDs, KeyDefaultDiscount, KeyMaintenanceBanner, KeyForcedLogoutAt:
		return k, true
	default:
		return "", false
	}
}

// Service is the settings repository.
type Service struct {
	store store.Store
	cache *cache.Cache
	now   func() time.Time
}

// NewService creates a settings service over s.
func NewService(s store.Store) *Service {
	return &Service{
		store: s,
		cache: cache.New(cacheTTL, cacheCleanup),
		now:   time.Now,
	}
}

// PriceOverrides returns runtime Stripe price identifiers; empty on any failure.
func (s *Service) PriceOverrides(ctx context.Context) plans.PriceOverrides {
	var v plans.PriceOverrides
	s.decode(ctx, KeyPriceIDs, &v)
	return v
}

// DefaultDiscount returns the checkout discount; disabled on any failure.
func (s *Service) DefaultDiscount(ctx context.Context) Discount {
	var v Discount
	if !s.decode(ctx, KeyDefaultDiscount, &v) {
		return Discount{}
	}
	if v.Enabled && strings.TrimSpace(v.CouponID) == "" {
		return Discount{}
	}
	return v
}

// MaintenanceBanner returns the banner; disabled on any failure.
func (s *Service) MaintenanceBanner(ctx context.Context) Banner {
	var v Banner
	if !s.decode(ctx, KeyMaintenanceBanner, &v) {
		return Banner{}
	}
	return v
}

// ForcedLogoutAt returns the instant at or before which issued sessions are
// invalid. The zero time means no forced logout. Store failures are returned
// so callers authenticating requests can fail closed.
func (s *Service) ForcedLogoutAt(ctx context.Context) (time.Time, error) {
	raw, ok, err := s.raw(ctx, KeyForcedLogoutAt)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, nil
	}
	var at time.Time
	if err := json.Unmarshal(raw, &at); err != nil {
		log.Warn().Err(err).Str("key", string(KeyForcedLogoutAt)).Msg("Ignoring malformed setting")
		return time.Time{}, nil
	}
	return at.UTC(), nil
}

// ForceLogout records now, to the millisecond, as the forced-logout instant
// and returns it.
func (s *Service) ForceLogout(ctx context.Context, actorID string) (time.Time, error) {
	at := s.now().UTC().Truncate(time.Millisecond)
	raw, err := json.Marshal(at)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.write(ctx, KeyForcedLogoutAt, raw, actorID); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// Get returns the effective JSON value for key, applying defaults.
func (s *Service) Get(ctx context.Context, key Key) (json.RawMessage, error) {
	var v any
	switch key {
	case KeyPriceIDs:
		v = s.PriceOverrides(ctx)
	case KeyDefaultDiscount:
		v = s.DefaultDiscount(ctx)
	case KeyMaintenanceBanner:
		v = s.MaintenanceBanner(ctx)
	case KeyForcedLogoutAt:
		at, err := s.ForcedLogoutAt(ctx)
		if err != nil {
			return nil, apperr.Persistence("settings.get", err)
		}
		if at.IsZero() {
			v = nil
		} else {
			v = at
		}
	default:
		return nil, apperr.Validation("unknown_setting", fmt.Sprintf("unknown setting %q", key))
	}
	return json.Marshal(v)
}

// Put validates value against the shape of key and persists it.
func (s *Service) Put(ctx context.Context, key Key, value json.RawMessage, actorID string) error {
	normalized, err := normalize(key, value)
	if err != nil {
		return err
	}
	return s.write(ctx, key, normalized, actorID)
}

func normalize(key Key, value json.RawMessage) (json.RawMessage, error) {
	invalid := func(err error) error {
		return apperr.Validation("invalid_setting", fmt.Sprintf("invalid value for %s: %v", key, err))
	}

	var v any
	switch key {
	case KeyPriceIDs:
		var p plans.PriceOverrides
		if err := strictUnmarshal(value, &p); err != nil {
			return nil, invalid(err)
		}
		v = p
	case KeyDefaultDiscount:
		var d Discount
		if err := strictUnmarshal(value, &d); err != nil {
			return nil, invalid(err)
		}
		if d.Enabled && strings.TrimSpace(d.CouponID) == "" {
			return nil, invalid(errors.New("couponId is required when enabled"))
		}
		if d.PercentOff < 0 || d.PercentOff > 100 {
			return nil, invalid(errors.New("percentOff must be between 0 and 100"))
		}
		v = d
	case KeyMaintenanceBanner:
		var b Banner
		if err := strictUnmarshal(value, &b); err != nil {
			return nil, invalid(err)
		}
		switch b.Level {
		case "", "info", "warning", "critical":
		default:
			return nil, invalid(fmt.Errorf("unknown level %q", b.Level))
		}
		v = b
	case KeyForcedLogoutAt:
		var at time.Time
		if err := json.Unmarshal(value, &at); err != nil {
			return nil, invalid(err)
		}
		v = at.UTC()
	default:
		return nil, apperr.Validation("unknown_setting", fmt.Sprintf("unknown setting %q", key))
	}
	return json.Marshal(v)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Service) write(ctx context.Context, key Key, value json.RawMessage, actorID string) error {
	var updatedBy any
	if actorID != "" {
		updatedBy = actorID
	}
	err := s.store.Upsert(ctx, store.TableSettings, []string{"key"}, store.Row{
		"key":        string(key),
		"value":      string(value),
		"updated_by": updatedBy,
		"updated_at": s.now().UTC().Unix(),
	})
	if err != nil {
		return apperr.Persistence("settings.put", err)
	}
	s.cache.Delete(string(key))
	return nil
}

// decode loads key into v, reporting false when absent, unreadable or malformed.
func (s *Service) decode(ctx context.Context, key Key, v any) bool {
	raw, ok, err := s.raw(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("key", string(key)).Msg("Failed to read setting; using default")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Warn().Err(err).Str("key", string(key)).Msg("Ignoring malformed setting")
		return false
	}
	return true
}

func (s *Service) raw(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	if cached, found := s.cache.Get(string(key)); found {
		raw, _ := cached.(json.RawMessage)
		return raw, raw != nil, nil
	}
	row, err := s.store.Get(ctx, store.TableSettings, store.Eq{"key": string(key)})
	if errors.Is(err, store.ErrNoRows) {
		s.cache.SetDefault(string(key), json.RawMessage(nil))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw := json.RawMessage(row.String("value"))
	s.cache.SetDefault(string(key), raw)
	return raw, true, nil
}
