// Package selector answers "which businesses are eligible for stage X
// right now". All queries are read-only snapshots; selection never
// mutates status.
package selector

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/webfabrica/leadgen-cli/internal/config"
	"github.com/webfabrica/leadgen-cli/internal/model"
)

// Queue names a selectable work queue.
type Queue string

const (
	QueueQualification Queue = "qualification"
	QueueGeneration    Queue = "generation"
	QueueOutreach      Queue = "outreach"
	QueueFollowUp      Queue = "followup"
)

// Valid reports whether q is a known queue.
func (q Queue) Valid() bool {
	switch q {
	case QueueQualification, QueueGeneration, QueueOutreach, QueueFollowUp:
		return true
	}
	return false
}

// DefaultLimit caps a queue read when the caller does not specify one.
const DefaultLimit = 100

// Store is the read surface the selector needs. Every queue excludes
// businesses whose stage retries are exhausted until an operator resets
// them.
type Store interface {
	// QualificationQueue returns businesses awaiting analysis, oldest
	// first, including rows an interrupted pass left in analyzing.
	QualificationQueue(ctx context.Context, limit int) ([]model.Business, error)
	// GenerationQueue returns qualified businesses, best score first,
	// oldest first within a score.
	GenerationQueue(ctx context.Context, limit int) ([]model.Business, error)
	// OutreachQueue returns ready_for_outreach businesses with a deployed
	// site and no send since the cooldown cutoff, best score first.
	OutreachQueue(ctx context.Context, cooldownCutoff time.Time, limit int) ([]model.Business, error)
	// FollowUpQueue returns contacted businesses with a due follow-up and
	// sends remaining.
	FollowUpQueue(ctx context.Context, now time.Time, maxFollowUps, limit int) ([]model.Business, error)
	// FunnelCounts returns the status distribution.
	FunnelCounts(ctx context.Context) (map[model.Status]int, error)
	// NeedsAttentionCount counts businesses with an exhausted stage.
	NeedsAttentionCount(ctx context.Context) (int, error)
}

// Selector reads eligibility queues.
type Selector struct {
	store    Store
	outreach config.OutreachConfig
}

// New creates a Selector.
func New(store Store, outreach config.OutreachConfig) *Selector {
	return &Selector{store: store, outreach: outreach}
}

// Eligible returns the requested queue. The returned slice is a snapshot:
// eligibility is only re-checked when a stage actually starts.
func (s *Selector) Eligible(ctx context.Context, queue Queue, limit int) ([]model.Business, error) {
	if !queue.Valid() {
		return nil, eris.Wrapf(model.ErrValidation, "selector: unknown queue %q", queue)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	now := time.Now().UTC()
	switch queue {
	case QueueQualification:
		return s.store.QualificationQueue(ctx, limit)
	case QueueGeneration:
		return s.store.GenerationQueue(ctx, limit)
	case QueueOutreach:
		return s.store.OutreachQueue(ctx, now.Add(-s.outreach.CooldownWindow()), limit)
	default:
		return s.store.FollowUpQueue(ctx, now, s.outreach.MaxFollowUps, limit)
	}
}

// Funnel returns the status distribution plus the needs-attention count.
// Every status appears in the report, zero counts included.
func (s *Selector) Funnel(ctx context.Context) (*model.FunnelReport, error) {
	counts, err := s.store.FunnelCounts(ctx)
	if err != nil {
		return nil, err
	}
	attention, err := s.store.NeedsAttentionCount(ctx)
	if err != nil {
		return nil, err
	}

	report := &model.FunnelReport{Counts: make(map[model.Status]int, len(model.AllStatuses))}
	for _, status := range model.AllStatuses {
		report.Counts[status] = counts[status]
	}
	report.NeedsAttention = attention
	return report, nil
}
