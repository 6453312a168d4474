// Package batch runs the scheduled qualification pass: claim discovered
// businesses, score them, and commit the qualification decision.
package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/webfabrica/leadgen-cli/internal/config"
	"github.com/webfabrica/leadgen-cli/internal/lifecycle"
	"github.com/webfabrica/leadgen-cli/internal/model"
	"github.com/webfabrica/leadgen-cli/internal/resilience"
	"github.com/webfabrica/leadgen-cli/internal/scorer"
)

// Store is the persistence surface the analysis pass needs.
type Store interface {
	QualificationQueue(ctx context.Context, limit int) ([]model.Business, error)
	UpdateScore(ctx context.Context, id string, score int, breakdown map[string]float64) error
}

// Lifecycle is the slice of the controller the pass uses.
type Lifecycle interface {
	Claim(ctx context.Context, id string) error
	Transition(ctx context.Context, id string, from, to model.Status, actor string) error
	ReportStage(ctx context.Context, id string, stage model.Stage, result lifecycle.StageResult, artifact, actor string) error
}

// Summary counts the outcomes of one analysis pass.
type Summary struct {
	Processed   int `json:"processed"`
	Qualified   int `json:"qualified"`
	LowPriority int `json:"low_priority"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Analyzer runs the qualification pass.
type Analyzer struct {
	store     Store
	lifecycle Lifecycle
	weights   scorer.Weights
	cfg       config.BatchConfig
	retry     resilience.RetryConfig
	log       *zap.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(store Store, lc Lifecycle, weights scorer.Weights, cfg config.BatchConfig) *Analyzer {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store", "update_score")
	return &Analyzer{
		store:     store,
		lifecycle: lc,
		weights:   weights,
		cfg:       cfg,
		retry:     retry,
		log:       zap.L().With(zap.String("component", "batch")),
	}
}

// Run claims and scores up to limit discovered businesses. Individual
// failures are isolated: they are counted, retried on the next pass via
// stage bookkeeping, and never abort the batch.
func (a *Analyzer) Run(ctx context.Context, limit int) (Summary, error) {
	if limit <= 0 {
		limit = a.cfg.Size
	}

	queue, err := a.store.QualificationQueue(ctx, limit)
	if err != nil {
		return Summary{}, eris.Wrap(err, "batch: read qualification queue")
	}
	if len(queue) == 0 {
		a.log.Info("no discovered businesses to analyze")
		return Summary{}, nil
	}

	a.log.Info("analysis pass starting",
		zap.Int("businesses", len(queue)),
		zap.Int("concurrency", a.cfg.Concurrency),
	)

	limiter := rate.NewLimiter(rate.Limit(a.cfg.RatePerSecond), 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	// One reference time for the whole pass keeps every score in the
	// batch recomputable from stored signals.
	now := time.Now().UTC()

	var qualified, lowPriority, skipped, failed atomic.Int64

	for _, b := range queue {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}

			log := a.log.With(zap.String("business_id", b.ID))

			outcome, err := a.analyzeOne(gctx, &b, now)
			switch {
			case err == nil && outcome == model.StatusQualified:
				qualified.Add(1)
			case err == nil && outcome == model.StatusLowPriority:
				lowPriority.Add(1)
			case eris.Is(err, model.ErrTransitionConflict):
				skipped.Add(1)
				log.Debug("business claimed elsewhere, skipping")
			case err != nil:
				failed.Add(1)
				log.Error("analysis failed", zap.Error(err))
				if repErr := a.lifecycle.ReportStage(gctx, b.ID, model.StageAnalysis, lifecycle.ResultFailure, "", "system"); repErr != nil {
					log.Warn("failed to record analysis attempt", zap.Error(repErr))
				}
				return nil // don't abort batch on individual failure
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Summary{}, eris.Wrap(err, "batch: analysis pass")
	}

	sum := Summary{
		Processed:   len(queue),
		Qualified:   int(qualified.Load()),
		LowPriority: int(lowPriority.Load()),
		Skipped:     int(skipped.Load()),
		Failed:      int(failed.Load()),
	}
	a.log.Info("analysis pass complete",
		zap.Int("qualified", sum.Qualified),
		zap.Int("low_priority", sum.LowPriority),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// analyzeOne claims, scores, and commits a single business. Returns the
// committed status on success.
func (a *Analyzer) analyzeOne(ctx context.Context, b *model.Business, now time.Time) (model.Status, error) {
	if err := a.lifecycle.Claim(ctx, b.ID); err != nil {
		return "", err
	}

	res := scorer.Score(model.SignalsOf(b), a.weights, now)

	err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.store.UpdateScore(ctx, b.ID, res.Score, res.Breakdown)
	})
	if err != nil {
		return "", eris.Wrap(err, "batch: persist score")
	}

	// Hard gates before the tier check: a business already served by a
	// working website is not a lead, and one with no review signal at all
	// cannot qualify on category and location alone.
	target := model.StatusLowPriority
	switch {
	case b.WebsiteStatus == model.WebsiteActive:
		a.log.Debug("business already has a working website",
			zap.String("business_id", b.ID))
	case b.ReviewCount == 0 && b.Rating == 0:
		a.log.Debug("business has no review signal",
			zap.String("business_id", b.ID))
	case res.Tier == scorer.TierQualified:
		target = model.StatusQualified
	}

	if err := a.lifecycle.Transition(ctx, b.ID, model.StatusAnalyzing, target, "system"); err != nil {
		return "", err
	}
	return target, nil
}
