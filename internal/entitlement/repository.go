package entitlement

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/store"
)

// Repository is the entitlement store adapter. Every mutation is a single-row
// absolute update or a server-side increment.
type Repository struct {
	store store.Store
	now   func() time.Time
}

// NewRepository creates a repository over s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s, now: time.Now}
}

// GetByUserID loads the entitlement of userID.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (*Entitlement, error) {
	return r.get(ctx, "entitlement.get_by_user", store.Eq{colID: userID})
}

// GetByCustomerID loads the entitlement linked to a Stripe customer.
func (r *Repository) GetByCustomerID(ctx context.Context, customerID string) (*Entitlement, error) {
	if customerID == "" {
		return nil, apperr.NotFound("entitlement.get_by_customer", "customer not found")
	}
	return r.get(ctx, "entitlement.get_by_customer", store.Eq{colCustomerID: customerID})
}

func (r *Repository) get(ctx context.Context, op string, where store.Filter) (*Entitlement, error) {
	rows, err := r.store.Select(ctx, store.Query{
		Table:   store.TableProfiles,
		Columns: columns,
		Where:   where,
		Limit:   1,
	})
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound(op, "entitlement not found")
	}
	return fromRow(rows[0]), nil
}

// UpdateByUserID applies p to the entitlement of userID.
func (r *Repository) UpdateByUserID(ctx context.Context, userID string, p Patch) error {
	return r.update(ctx, "entitlement.update_by_user", store.Eq{colID: userID}, p)
}

// UpdateByCustomerID applies p to the entitlement linked to customerID.
func (r *Repository) UpdateByCustomerID(ctx context.Context, customerID string, p Patch) error {
	if customerID == "" {
		return apperr.NotFound("entitlement.update_by_customer", "customer not found")
	}
	return r.update(ctx, "entitlement.update_by_customer", store.Eq{colCustomerID: customerID}, p)
}

func (r *Repository) update(ctx context.Context, op string, where store.Filter, p Patch) error {
	row, err := p.row(r.now().UTC())
	if err != nil {
		return &apperr.Error{Type: apperr.TypeValidation, Op: op, Code: "invalid_patch", Message: err.Error(), Err: err}
	}
	affected, err := r.store.Update(ctx, store.TableProfiles, where, row)
	if err != nil {
		return apperr.Persistence(op, err)
	}
	if affected == 0 {
		return apperr.NotFound(op, "entitlement not found")
	}
	return nil
}

// ProviderEvent identifies the provider event behind a guarded update.
type ProviderEvent struct {
	ID        string
	CreatedAt time.Time
}

// UpdateByCustomerIDIfNewer applies p only when ev is newer than the last
// provider event applied to the row, and records ev. Events from the same
// second apply unless they carry the last applied event ID, so a redelivery
// is a no-op. It reports false without error when the event is stale.
func (r *Repository) UpdateByCustomerIDIfNewer(ctx context.Context, customerID string, ev ProviderEvent, p Patch) (bool, error) {
	if customerID == "" {
		return false, apperr.NotFound("entitlement.update_by_customer", "customer not found")
	}
	return r.updateIfNewer(ctx, "entitlement.update_by_customer", store.Eq{colCustomerID: customerID}, ev, p)
}

// UpdateByUserIDIfNewer is UpdateByCustomerIDIfNewer keyed by user.
func (r *Repository) UpdateByUserIDIfNewer(ctx context.Context, userID string, ev ProviderEvent, p Patch) (bool, error) {
	return r.updateIfNewer(ctx, "entitlement.update_by_user", store.Eq{colID: userID}, ev, p)
}

func (r *Repository) updateIfNewer(ctx context.Context, op string, where store.Filter, ev ProviderEvent, p Patch) (bool, error) {
	row, err := p.row(r.now().UTC())
	if err != nil {
		return false, &apperr.Error{Type: apperr.TypeValidation, Op: op, Code: "invalid_patch", Message: err.Error(), Err: err}
	}
	at := ev.CreatedAt.Unix()
	row[colLastEvent] = at
	row[colLastID] = ev.ID

	guarded := sq.And{
		where,
		sq.Or{
			store.Eq{colLastEvent: nil},
			sq.Lt{colLastEvent: at},
			sq.And{
				store.Eq{colLastEvent: at},
				sq.Or{store.Eq{colLastID: nil}, sq.NotEq{colLastID: ev.ID}},
			},
		},
	}
	affected, err := r.store.Update(ctx, store.TableProfiles, guarded, row)
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	if affected > 0 {
		return true, nil
	}

	n, err := r.store.Count(ctx, store.TableProfiles, where)
	if err != nil {
		return false, apperr.Persistence(op, err)
	}
	if n == 0 {
		return false, apperr.NotFound(op, "entitlement not found")
	}
	return false, nil
}

// AtomicIncrementOfferCount adds one to the monthly offer counter server-side
// and returns the new value.
func (r *Repository) AtomicIncrementOfferCount(ctx context.Context, userID string) (int, error) {
	const op = "entitlement.increment_offer_count"
	n, err := r.store.Increment(ctx, store.TableProfiles, store.Eq{colID: userID}, colOfferCount, 1)
	if errors.Is(err, store.ErrNoRows) {
		return 0, apperr.NotFound(op, "entitlement not found")
	}
	if err != nil {
		return 0, apperr.Persistence(op, err)
	}
	return int(n), nil
}

// SetCustomerIDIfEmpty links customerID to userID unless a customer is already
// linked. It returns the customer ID stored after the call.
func (r *Repository) SetCustomerIDIfEmpty(ctx context.Context, userID, customerID string) (string, error) {
	const op = "entitlement.set_customer"
	_, err := r.store.Update(ctx, store.TableProfiles,
		sq.And{store.Eq{colID: userID}, store.Eq{colCustomerID: nil}},
		store.Row{colCustomerID: customerID, colUpdatedAt: r.now().UTC().Unix()},
	)
	if err != nil {
		return "", apperr.Persistence(op, err)
	}
	e, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if e.StripeCustomerID == nil {
		return "", apperr.Persistence(op, errors.New("customer id not persisted"))
	}
	return *e.StripeCustomerID, nil
}
