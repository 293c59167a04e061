// Package storetest opens migrated SQLite stores for tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/werkplatz/werkplatz-api/internal/store"
)

// New returns a migrated store in a temporary directory, closed on cleanup.
func New(t testing.TB) *store.SQLStore {
	t.Helper()

	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return s
}

// Profile describes a profiles row for seeding.
type Profile struct {
	ID          string
	Email       string
	Role        string
	Banned      bool
	Deleted     bool
	CustomerID  string
	Status      string
	PlanType    string
	OfferCount  int64
	PeriodEnd   *time.Time
	LastEventAt *time.Time
}

// SeedProfile inserts p with sensible defaults for unset fields.
func SeedProfile(t testing.TB, s store.Store, p Profile) {
	t.Helper()

	if p.Role == "" {
		p.Role = "contractor"
	}
	if p.Status == "" {
		p.Status = "none"
	}
	if p.Email == "" {
		p.Email = p.ID + "@example.ch"
	}
	now := time.Now().UTC().Unix()
	row := store.Row{
		"id":                              p.ID,
		"email":                           p.Email,
		"display_name":                    p.ID,
		"role":                            p.Role,
		"is_banned":                       store.BoolInt(p.Banned),
		"stripe_customer_id":              store.StringOrNil(&p.CustomerID),
		"subscription_status":             p.Status,
		"plan_type":                       store.StringOrNil(&p.PlanType),
		"offer_count_this_month":          p.OfferCount,
		"subscription_current_period_end": store.UnixOrNil(p.PeriodEnd),
		"last_event_at":                   store.UnixOrNil(p.LastEventAt),
		"created_at":                      now,
		"updated_at":                      now,
	}
	if p.Deleted {
		row["deleted_at"] = now
	}
	if err := s.Insert(context.Background(), store.TableProfiles, row); err != nil {
		t.Fatalf("seed profile %s: %v", p.ID, err)
	}
}

// SeedProject inserts an open project owned by ownerID.
func SeedProject(t testing.TB, s store.Store, id, ownerID string) {
	t.Helper()

	err := s.Insert(context.Background(), store.TableProjects, store.Row{
		"id":         id,
		"owner_id":   ownerID,
		"title":      "Project " + id,
		"created_at": time.Now().UTC().Unix(),
	})
	if err != nil {
		t.Fatalf("seed project %s: %v", id, err)
	}
}
