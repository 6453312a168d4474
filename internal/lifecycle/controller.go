package lifecycle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/config"
	"github.com/webfabrica/leadgen-cli/internal/model"
	"github.com/webfabrica/leadgen-cli/internal/resilience"
)

// StageResult is the outcome a collaborator reports for a stage.
type StageResult string

const (
	ResultStarted StageResult = "started"
	ResultSuccess StageResult = "success"
	ResultFailure StageResult = "failure"
)

// Valid reports whether r is a known stage result.
func (r StageResult) Valid() bool {
	return r == ResultStarted || r == ResultSuccess || r == ResultFailure
}

// Store is the persistence surface the controller needs.
type Store interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	TransitionStatus(ctx context.Context, id string, from, to model.Status, actor string) error
	RecordStageAttempt(ctx context.Context, id string, stage model.Stage) (int, error)
	MarkStageFailed(ctx context.Context, id string, stage model.Stage) error
	ResetStageAttempts(ctx context.Context, id string, stage model.Stage) error
	UpsertWebsite(ctx context.Context, w model.Website) error
	RecordOutreach(ctx context.Context, id string, sentAt time.Time, nextFollowUpAt *time.Time) error
	MarkResponded(ctx context.Context, id string, at time.Time) error
	DeployedAwaitingOutreach(ctx context.Context, limit int) ([]model.Business, error)
	StaleContacted(ctx context.Context, cutoff time.Time, maxFollowUps int) ([]model.Business, error)
}

// stageStart maps a stage to its started-transition.
var stageStart = map[model.Stage][2]model.Status{
	model.StageGeneration: {model.StatusQualified, model.StatusGenerating},
	model.StageDeployment: {model.StatusGenerated, model.StatusDeploying},
}

// stageSuccess maps a stage to its success-transition.
var stageSuccess = map[model.Stage][2]model.Status{
	model.StageGeneration: {model.StatusGenerating, model.StatusGenerated},
	model.StageDeployment: {model.StatusDeploying, model.StatusDeployed},
	model.StageOutreach:   {model.StatusReadyForOutreach, model.StatusContacted},
	model.StageResponse:   {model.StatusContacted, model.StatusResponded},
	model.StageConversion: {model.StatusResponded, model.StatusConverted},
}

// Controller is the sole mutator of business status.
type Controller struct {
	store           Store
	maxStageRetries int
	outreach        config.OutreachConfig
	retry           resilience.RetryConfig
	log             *zap.Logger
}

// NewController creates a Controller.
func NewController(store Store, maxStageRetries int, outreach config.OutreachConfig) *Controller {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store", "record_stage_attempt")
	return &Controller{
		store:           store,
		maxStageRetries: maxStageRetries,
		outreach:        outreach,
		retry:           retry,
		log:             zap.L().With(zap.String("component", "lifecycle")),
	}
}

// Transition moves a business from one status to another under the
// optimistic guard. A disallowed or lost transition is a logged no-op that
// surfaces model.ErrTransitionConflict to the caller.
func (c *Controller) Transition(ctx context.Context, id string, from, to model.Status, actor string) error {
	if !Allowed(from, to) {
		c.log.Warn("transition not permitted",
			zap.String("business_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("actor", actor),
		)
		return eris.Wrapf(model.ErrTransitionConflict, "lifecycle: %s -> %s", from, to)
	}

	if err := c.store.TransitionStatus(ctx, id, from, to, actor); err != nil {
		if eris.Is(err, model.ErrTransitionConflict) {
			c.log.Warn("transition lost to concurrent update",
				zap.String("business_id", id),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
		}
		return err
	}

	c.log.Info("status changed",
		zap.String("business_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor),
	)
	return nil
}

// Claim moves a discovered business into analyzing. A business already in
// analyzing is treated as claimed: re-running an interrupted pass must not
// fail.
func (c *Controller) Claim(ctx context.Context, id string) error {
	err := c.Transition(ctx, id, model.StatusDiscovered, model.StatusAnalyzing, "system")
	if err == nil {
		return nil
	}
	if !eris.Is(err, model.ErrTransitionConflict) {
		return err
	}

	b, getErr := c.store.GetBusiness(ctx, id)
	if getErr != nil {
		return getErr
	}
	if b.Status == model.StatusAnalyzing {
		return nil
	}
	return err
}

// ReportStage processes a collaborator's stage report.
func (c *Controller) ReportStage(ctx context.Context, id string, stage model.Stage, result StageResult, artifact, actor string) error {
	if !stage.Valid() {
		return eris.Wrapf(model.ErrValidation, "lifecycle: unknown stage %q", stage)
	}
	if !result.Valid() {
		return eris.Wrapf(model.ErrValidation, "lifecycle: unknown result %q", result)
	}

	switch result {
	case ResultStarted:
		return c.stageStarted(ctx, id, stage, actor)
	case ResultSuccess:
		return c.stageSucceeded(ctx, id, stage, artifact, actor)
	default:
		return c.stageFailed(ctx, id, stage, actor)
	}
}

func (c *Controller) stageStarted(ctx context.Context, id string, stage model.Stage, actor string) error {
	pair, ok := stageStart[stage]
	if !ok {
		return eris.Wrapf(model.ErrValidation, "lifecycle: stage %q does not report started", stage)
	}
	return c.Transition(ctx, id, pair[0], pair[1], actor)
}

func (c *Controller) stageSucceeded(ctx context.Context, id string, stage model.Stage, artifact, actor string) error {
	pair, ok := stageSuccess[stage]
	if !ok {
		return eris.Wrapf(model.ErrValidation, "lifecycle: stage %q has no success transition", stage)
	}

	err := c.Transition(ctx, id, pair[0], pair[1], actor)
	if err != nil {
		// A follow-up send reports outreach success while the business is
		// already contacted. Record it without a transition.
		if stage == model.StageOutreach && eris.Is(err, model.ErrTransitionConflict) {
			b, getErr := c.store.GetBusiness(ctx, id)
			if getErr != nil {
				return getErr
			}
			if b.Status == model.StatusContacted {
				return c.recordOutreach(ctx, id)
			}
		}
		return err
	}

	switch stage {
	case model.StageDeployment:
		now := time.Now().UTC()
		if upErr := c.store.UpsertWebsite(ctx, model.Website{BusinessID: id, URL: artifact, DeployedAt: now}); upErr != nil {
			return upErr
		}
	case model.StageOutreach:
		if outErr := c.recordOutreach(ctx, id); outErr != nil {
			return outErr
		}
	case model.StageResponse:
		if respErr := c.store.MarkResponded(ctx, id, time.Now().UTC()); respErr != nil {
			return respErr
		}
	}

	// A success wipes the transient failure count for the stage.
	return c.store.ResetStageAttempts(ctx, id, stage)
}

func (c *Controller) recordOutreach(ctx context.Context, id string) error {
	now := time.Now().UTC()
	next := now.Add(c.outreach.FollowUpDelay())
	return c.store.RecordOutreach(ctx, id, now, &next)
}

func (c *Controller) stageFailed(ctx context.Context, id string, stage model.Stage, actor string) error {
	// Losing the attempt row to a flaky connection would let the business
	// retry forever, so the bookkeeping write itself is retried.
	attempts, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (int, error) {
		return c.store.RecordStageAttempt(ctx, id, stage)
	})
	if err != nil {
		return err
	}

	if attempts >= c.maxStageRetries {
		if markErr := c.store.MarkStageFailed(ctx, id, stage); markErr != nil {
			return markErr
		}
		c.log.Error("stage retries exhausted, business needs attention",
			zap.String("business_id", id),
			zap.String("stage", string(stage)),
			zap.Int("attempts", attempts),
			zap.String("actor", actor),
		)
		return nil
	}

	c.log.Warn("stage failed",
		zap.String("business_id", id),
		zap.String("stage", string(stage)),
		zap.Int("attempts", attempts),
		zap.Int("max_attempts", c.maxStageRetries),
	)
	return nil
}

// Reject moves a business from its current status to rejected.
func (c *Controller) Reject(ctx context.Context, id, actor string) error {
	return c.exit(ctx, id, model.StatusRejected, actor)
}

// Archive moves a business from its current status to archived.
func (c *Controller) Archive(ctx context.Context, id, actor string) error {
	return c.exit(ctx, id, model.StatusArchived, actor)
}

func (c *Controller) exit(ctx context.Context, id string, to model.Status, actor string) error {
	b, err := c.store.GetBusiness(ctx, id)
	if err != nil {
		return err
	}
	return c.Transition(ctx, id, b.Status, to, actor)
}

// ResetStage clears the persistent failure flag and attempt count so the
// business re-enters selection. Manual operation.
func (c *Controller) ResetStage(ctx context.Context, id string, stage model.Stage) error {
	if !stage.Valid() {
		return eris.Wrapf(model.ErrValidation, "lifecycle: unknown stage %q", stage)
	}
	return c.store.ResetStageAttempts(ctx, id, stage)
}

// PromoteDeployed advances deployed businesses whose site signal is
// recorded into ready_for_outreach. Run by the scheduled pass so the
// eligibility queries stay read-only.
func (c *Controller) PromoteDeployed(ctx context.Context, limit int) (int, error) {
	ready, err := c.store.DeployedAwaitingOutreach(ctx, limit)
	if err != nil {
		return 0, err
	}

	var promoted int
	for _, b := range ready {
		if ctx.Err() != nil {
			return promoted, ctx.Err()
		}
		if err := c.Transition(ctx, b.ID, model.StatusDeployed, model.StatusReadyForOutreach, "system"); err != nil {
			if eris.Is(err, model.ErrTransitionConflict) {
				continue
			}
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// ArchiveStale archives contacted businesses whose response window expired
// with all follow-ups spent.
func (c *Controller) ArchiveStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-c.outreach.ResponseWindow())
	stale, err := c.store.StaleContacted(ctx, cutoff, c.outreach.MaxFollowUps)
	if err != nil {
		return 0, err
	}

	var archived int
	for _, b := range stale {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}
		if err := c.Transition(ctx, b.ID, model.StatusContacted, model.StatusArchived, "system"); err != nil {
			if eris.Is(err, model.ErrTransitionConflict) {
				continue
			}
			return archived, err
		}
		archived++
	}
	return archived, nil
}
