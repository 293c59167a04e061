package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/auth"
	"github.com/werkplatz/werkplatz-api/internal/logging"
	"github.com/werkplatz/werkplatz-api/internal/metrics"
	"github.com/werkplatz/werkplatz-api/internal/store"
	"github.com/werkplatz/werkplatz-api/internal/validate"
)

// OfferInput is the offer submission payload.
type OfferInput struct {
	ProjectID   string   `json:"projectId" validate:"required,max=64"`
	OwnerID     string   `json:"ownerId" validate:"required,max=64"`
	PriceCHF    float64  `json:"priceChf" validate:"gt=0,lte=10000000"`
	Content     string   `json:"content" validate:"required,min=10,max=5000"`
	Attachments []string `json:"attachments,omitempty" validate:"max=10,dive,url,max=2048"`
}

// OfferResult is returned after a successful submission.
type OfferResult struct {
	Success             bool   `json:"success"`
	OfferID             string `json:"offerId"`
	ChatID              string `json:"chatId"`
	OfferCountThisMonth int    `json:"offerCountThisMonth"`
	Limit               *int   `json:"limit"`
}

// Counter atomically increments a user's monthly offer counter.
type Counter interface {
	AtomicIncrementOfferCount(ctx context.Context, userID string) (int, error)
}

// OfferService submits offers under quota.
type OfferService struct {
	engine  *Engine
	counter Counter
	store   store.Store
	now     func() time.Time
	newID   func() string
}

// NewOfferService creates an offer service.
func NewOfferService(engine *Engine, counter Counter, s store.Store) *OfferService {
	return &OfferService{
		engine:  engine,
		counter: counter,
		store:   s,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Submit validates the offer, enforces the quota, increments the counter and
// then writes the offer and its chat. The counter is incremented before the
// rows are written; a failure afterwards leaves an over-count, never an
// under-count.
func (s *OfferService) Submit(ctx context.Context, user *auth.Principal, in OfferInput) (*OfferResult, error) {
	logger := logging.FromContext(ctx)

	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	decision := s.engine.CanSubmitOffer(user)
	if !decision.Allowed {
		metrics.QuotaDecisionsTotal.WithLabelValues(string(decision.Reason)).Inc()
		return nil, decision.Err()
	}

	project, err := s.store.Get(ctx, store.TableProjects, store.Eq{"id": in.ProjectID, "deleted_at": nil})
	if errors.Is(err, store.ErrNoRows) {
		return nil, apperr.NotFound("offers.submit", "project not found")
	}
	if err != nil {
		return nil, apperr.Persistence("offers.submit", err)
	}
	if project.String("owner_id") != in.OwnerID {
		return nil, apperr.NotFound("offers.submit", "project not found")
	}
	if in.OwnerID == user.ID {
		return nil, apperr.Validation("own_project", "cannot submit an offer on your own project")
	}
	if project.String("status") != "open" {
		return nil, apperr.Validation("project_closed", "project is not accepting offers")
	}

	existing, err := s.store.Count(ctx, store.TableOffers, store.Eq{"project_id": in.ProjectID, "contractor_id": user.ID})
	if err != nil {
		return nil, apperr.Persistence("offers.submit", err)
	}
	if existing > 0 {
		return nil, apperr.Conflict("offer_exists", "an offer for this project already exists")
	}

	metrics.QuotaDecisionsTotal.WithLabelValues("allowed").Inc()
	count, err := s.counter.AtomicIncrementOfferCount(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if decision.Limit != nil && count > *decision.Limit {
		// A concurrent submission consumed the last slot after the check.
		limit := *decision.Limit
		denied := Decision{
			Reason:  ReasonOfferLimitReached,
			Message: fmt.Sprintf("monthly offer limit reached: %d of %d offers used", limit, limit),
			Limit:   &limit,
			Used:    limit,
		}
		return nil, denied.Err()
	}

	attachments, err := json.Marshal(nonNil(in.Attachments))
	if err != nil {
		return nil, apperr.Validation("invalid_input", "attachments could not be encoded")
	}
	now := s.now().UTC().Unix()
	offerID := s.newID()
	err = s.store.Insert(ctx, store.TableOffers, store.Row{
		"id":              offerID,
		"project_id":      in.ProjectID,
		"contractor_id":   user.ID,
		"owner_id":        in.OwnerID,
		"price_chf_cents": int64(math.Round(in.PriceCHF * 100)),
		"content":         in.Content,
		"attachments":     string(attachments),
		"created_at":      now,
	})
	if errors.Is(err, store.ErrDuplicate) {
		logger.Warn().Str("user_id", user.ID).Str("project_id", in.ProjectID).Int("offer_count", count).
			Msg("Concurrent duplicate offer after quota increment; counter over-counts by one")
		return nil, apperr.Conflict("offer_exists", "an offer for this project already exists")
	}
	if err != nil {
		logger.Error().Err(err).Str("user_id", user.ID).Int("offer_count", count).
			Msg("Offer insert failed after quota increment; counter over-counts by one")
		return nil, apperr.Persistence("offers.insert", err)
	}

	chatID := s.newID()
	err = s.store.Insert(ctx, store.TableChats, store.Row{
		"id":            chatID,
		"offer_id":      offerID,
		"project_id":    in.ProjectID,
		"client_id":     in.OwnerID,
		"contractor_id": user.ID,
		"created_at":    now,
	})
	if err != nil {
		logger.Error().Err(err).Str("offer_id", offerID).Msg("Chat insert failed for submitted offer")
		return nil, apperr.Persistence("offers.insert_chat", err)
	}

	metrics.OffersSubmittedTotal.Inc()
	logger.Info().
		Str("user_id", user.ID).
		Str("offer_id", offerID).
		Int("offer_count", count).
		Msg("Offer submitted")

	return &OfferResult{
		Success:             true,
		OfferID:             offerID,
		ChatID:              chatID,
		OfferCountThisMonth: count,
		Limit:               decision.Limit,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
