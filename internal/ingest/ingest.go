// Package ingest turns raw scraped records into businesses: validate,
// normalize, resolve against known leads, persist, and audit.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/dedupe"
	"github.com/webfabrica/leadgen-cli/internal/model"
	"github.com/webfabrica/leadgen-cli/internal/normalize"
)

// Store is the persistence surface ingestion needs.
type Store interface {
	InsertBusiness(ctx context.Context, b *model.Business) error
	UpdateSignals(ctx context.Context, b *model.Business) error
	AppendRawRecord(ctx context.Context, businessID *string, source string, rec model.RawRecord) error
}

// Transitioner is the slice of the lifecycle controller ingestion uses to
// push a re-scraped low-priority business back into analysis.
type Transitioner interface {
	Transition(ctx context.Context, id string, from, to model.Status, actor string) error
}

// Summary counts the outcomes of one ingestion run.
type Summary struct {
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// Processor runs the ingestion pipeline.
type Processor struct {
	store     Store
	resolver  *dedupe.Resolver
	lifecycle Transitioner
	log       *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(store Store, resolver *dedupe.Resolver, lifecycle Transitioner) *Processor {
	return &Processor{
		store:     store,
		resolver:  resolver,
		lifecycle: lifecycle,
		log:       zap.L().With(zap.String("component", "ingest")),
	}
}

// Process ingests a batch of raw records. Each record is isolated: a bad
// record is counted and logged, never aborts the batch. Only a context
// cancellation or a store failure stops the run early.
func (p *Processor) Process(ctx context.Context, source string, recs []model.RawRecord) (Summary, error) {
	var sum Summary
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if err := p.processOne(ctx, source, &recs[i], &sum); err != nil {
			if eris.Is(err, model.ErrValidation) {
				sum.Rejected++
				p.log.Warn("record rejected",
					zap.String("source", source),
					zap.String("name", recs[i].Name),
					zap.Error(err),
				)
				continue
			}
			return sum, err
		}
	}

	p.log.Info("ingestion complete",
		zap.String("source", source),
		zap.Int("new", sum.New),
		zap.Int("updated", sum.Updated),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("rejected", sum.Rejected),
	)
	return sum, nil
}

func (p *Processor) processOne(ctx context.Context, source string, rec *model.RawRecord, sum *Summary) error {
	if err := Validate(rec); err != nil {
		return err
	}

	nameKey := normalize.NameKey(rec.Name)
	phoneDigits := normalize.PhoneDigits(rec.Phone)

	res, err := p.resolver.Resolve(ctx, rec.ExternalID, nameKey, phoneDigits)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case dedupe.OutcomeNew:
		b := newBusiness(rec, nameKey, phoneDigits)
		if err := p.store.InsertBusiness(ctx, b); err != nil {
			return err
		}
		if err := p.store.AppendRawRecord(ctx, &b.ID, source, *rec); err != nil {
			return err
		}
		sum.New++

	case dedupe.OutcomeUpdated:
		merged := mergeSignals(res.Match, rec)
		if err := p.store.UpdateSignals(ctx, merged); err != nil {
			return err
		}
		if err := p.store.AppendRawRecord(ctx, &merged.ID, source, *rec); err != nil {
			return err
		}
		sum.Updated++

		// Fresh signals on a low-priority business reopen the
		// qualification question.
		if merged.Status == model.StatusLowPriority {
			err := p.lifecycle.Transition(ctx, merged.ID, model.StatusLowPriority, model.StatusAnalyzing, "ingest")
			if err != nil && !eris.Is(err, model.ErrTransitionConflict) {
				return err
			}
		}

	case dedupe.OutcomeDiscarded:
		// Audit trail only. The business stays terminal.
		if err := p.store.AppendRawRecord(ctx, nil, source, *rec); err != nil {
			return err
		}
		sum.Duplicates++
	}

	return nil
}

// Validate checks structural invariants on a raw record.
func Validate(rec *model.RawRecord) error {
	if strings.TrimSpace(rec.Name) == "" {
		return eris.Wrap(model.ErrValidation, "ingest: name is required")
	}
	if rec.Rating < 0 || rec.Rating > 5 {
		return eris.Wrapf(model.ErrValidation, "ingest: rating %.1f out of range", rec.Rating)
	}
	if rec.ReviewCount < 0 {
		return eris.Wrap(model.ErrValidation, "ingest: negative review count")
	}
	if rec.PhotoCount < 0 {
		return eris.Wrap(model.ErrValidation, "ingest: negative photo count")
	}
	switch rec.WebsiteStatus {
	case "", "dead", model.WebsiteNone, model.WebsiteSocialOnly, model.WebsiteBroken, model.WebsiteActive:
	default:
		return eris.Wrapf(model.ErrValidation, "ingest: unknown website status %q", rec.WebsiteStatus)
	}
	return nil
}

// websiteStatus maps the scraper's vocabulary onto ours. Older scraper
// builds report "dead" for an unreachable site.
func websiteStatus(rec *model.RawRecord) model.WebsiteStatus {
	switch {
	case rec.WebsiteStatus == "dead":
		return model.WebsiteBroken
	case rec.WebsiteStatus != "":
		return rec.WebsiteStatus
	case len(rec.SocialMedia) > 0 && !rec.HasWebsite:
		return model.WebsiteSocialOnly
	case rec.HasWebsite:
		return model.WebsiteActive
	default:
		return model.WebsiteNone
	}
}

// newBusiness builds a discovered business from a raw record.
func newBusiness(rec *model.RawRecord, nameKey, phoneDigits string) *model.Business {
	now := time.Now().UTC()
	return &model.Business{
		ID:              uuid.NewString(),
		ExternalID:      rec.ExternalID,
		Name:            strings.TrimSpace(rec.Name),
		NormalizedName:  nameKey,
		Category:        rec.Category,
		Address:         rec.Address,
		City:            rec.City,
		Neighborhood:    rec.Neighborhood,
		Latitude:        rec.Latitude,
		Longitude:       rec.Longitude,
		Phone:           rec.Phone,
		NormalizedPhone: phoneDigits,
		Email:           rec.Email,
		Rating:          rec.Rating,
		ReviewCount:     rec.ReviewCount,
		PhotoCount:      rec.PhotoCount,
		HasWebsite:      rec.HasWebsite,
		WebsiteURL:      rec.WebsiteURL,
		WebsiteStatus:   websiteStatus(rec),
		LastActivityAt:  rec.LastReviewAt,
		Status:          model.StatusDiscovered,
		DiscoveredAt:    now,
		UpdatedAt:       now,
	}
}

// mergeSignals overlays a raw record's signal fields onto an existing
// business. Identity fields are only filled when previously empty, never
// overwritten.
func mergeSignals(existing *model.Business, rec *model.RawRecord) *model.Business {
	merged := *existing

	merged.Rating = rec.Rating
	merged.ReviewCount = rec.ReviewCount
	merged.PhotoCount = rec.PhotoCount
	merged.HasWebsite = rec.HasWebsite
	merged.WebsiteURL = rec.WebsiteURL
	merged.WebsiteStatus = websiteStatus(rec)
	if rec.LastReviewAt != nil {
		merged.LastActivityAt = rec.LastReviewAt
	}

	if merged.ExternalID == "" {
		merged.ExternalID = rec.ExternalID
	}
	if merged.Phone == "" && rec.Phone != "" {
		merged.Phone = rec.Phone
		merged.NormalizedPhone = normalize.PhoneDigits(rec.Phone)
	}
	if merged.Email == "" {
		merged.Email = rec.Email
	}
	if merged.Address == "" {
		merged.Address = rec.Address
	}
	if merged.Neighborhood == "" {
		merged.Neighborhood = rec.Neighborhood
	}

	merged.UpdatedAt = time.Now().UTC()
	return &merged
}
