// Package dedupe resolves incoming raw records against already-known
// businesses so re-scrapes update signals instead of creating duplicates.
package dedupe

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/model"
)

// Outcome classifies how a raw record relates to the known population.
type Outcome string

const (
	// OutcomeNew means no existing business matched; insert a fresh one.
	OutcomeNew Outcome = "new"
	// OutcomeUpdated means an existing business matched; merge signals.
	OutcomeUpdated Outcome = "updated"
	// OutcomeDiscarded means the match is archived or rejected inside the
	// discard window; audit only, never resurrect.
	OutcomeDiscarded Outcome = "discarded"
)

// Store is the lookup surface the resolver needs. Lookups return
// model.ErrNotFound when nothing matches.
type Store interface {
	FindByExternalID(ctx context.Context, externalID string) (*model.Business, error)
	FindByNamePhone(ctx context.Context, nameKey, phoneDigits string) (*model.Business, error)
	FindByName(ctx context.Context, nameKey string) (*model.Business, error)
	FindByPhone(ctx context.Context, phoneDigits string) (*model.Business, error)
}

// Resolver matches raw records to businesses.
type Resolver struct {
	store         Store
	discardWindow time.Duration
	log           *zap.Logger
}

// NewResolver creates a Resolver. discardWindowDays bounds how long an
// archived or rejected business suppresses re-ingestion of its record.
func NewResolver(store Store, discardWindowDays int) *Resolver {
	return &Resolver{
		store:         store,
		discardWindow: time.Duration(discardWindowDays) * 24 * time.Hour,
		log:           zap.L().With(zap.String("component", "dedupe")),
	}
}

// Result is the resolution of one raw record.
type Result struct {
	Outcome Outcome
	Match   *model.Business // nil for OutcomeNew
}

// Resolve matches a raw record by external id first, then by the pair of
// normalized name and phone. A partial attribute match (only one of the
// two) is deliberately treated as a new business: merging on a single
// attribute corrupts identity more often than it deduplicates.
func (r *Resolver) Resolve(ctx context.Context, externalID, nameKey, phoneDigits string) (Result, error) {
	// Pass 1: exact source identifier.
	if externalID != "" {
		match, err := r.store.FindByExternalID(ctx, externalID)
		if err != nil && !eris.Is(err, model.ErrNotFound) {
			return Result{}, eris.Wrap(err, "dedupe: resolve by external id")
		}
		if match != nil {
			r.log.Debug("matched by external id",
				zap.String("external_id", externalID),
				zap.String("business_id", match.ID),
			)
			return r.classify(match), nil
		}
	}

	// Pass 2: normalized name + phone. Both keys are required.
	if nameKey == "" || phoneDigits == "" {
		return Result{Outcome: OutcomeNew}, nil
	}

	match, err := r.store.FindByNamePhone(ctx, nameKey, phoneDigits)
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		return Result{}, eris.Wrap(err, "dedupe: resolve by name+phone")
	}
	if match != nil {
		r.log.Debug("matched by name+phone",
			zap.String("name_key", nameKey),
			zap.String("business_id", match.ID),
		)
		return r.classify(match), nil
	}

	// Partial matches are logged and ignored.
	if err := r.checkPartial(ctx, nameKey, phoneDigits); err != nil {
		return Result{}, err
	}

	return Result{Outcome: OutcomeNew}, nil
}

// classify applies the discard window to a matched business. Terminal
// businesses inside the window suppress the record; outside the window the
// lead has cooled off enough to re-enter as new.
func (r *Resolver) classify(match *model.Business) Result {
	if !match.Status.Excluded() {
		return Result{Outcome: OutcomeUpdated, Match: match}
	}

	exitedAt := match.UpdatedAt
	if match.ArchivedAt != nil {
		exitedAt = *match.ArchivedAt
	}
	if time.Since(exitedAt) < r.discardWindow {
		return Result{Outcome: OutcomeDiscarded, Match: match}
	}

	r.log.Info("excluded match outside discard window, treating as new",
		zap.String("business_id", match.ID),
		zap.String("status", string(match.Status)),
	)
	return Result{Outcome: OutcomeNew}
}

// checkPartial logs an ambiguous single-attribute match.
func (r *Resolver) checkPartial(ctx context.Context, nameKey, phoneDigits string) error {
	byName, err := r.store.FindByName(ctx, nameKey)
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		return eris.Wrap(err, "dedupe: partial check by name")
	}
	byPhone, err := r.store.FindByPhone(ctx, phoneDigits)
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		return eris.Wrap(err, "dedupe: partial check by phone")
	}

	if byName != nil || byPhone != nil {
		conflictID := ""
		attr := "phone"
		if byName != nil {
			conflictID = byName.ID
			attr = "name"
		} else if byPhone != nil {
			conflictID = byPhone.ID
		}
		r.log.Warn("ambiguous partial match, creating new business",
			zap.String("matched_attribute", attr),
			zap.String("conflicting_business_id", conflictID),
			zap.Error(model.ErrDuplicateConflict),
		)
	}
	return nil
}
