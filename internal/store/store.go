// Package store persists the lead pipeline. Postgres is the production
// backend; SQLite serves local single-user runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/webfabrica/leadgen-cli/internal/config"
	"github.com/webfabrica/leadgen-cli/internal/model"
)

// Store is the full persistence surface of the pipeline. Consumer packages
// depend on their own narrow slices of it.
type Store interface {
	// Businesses.
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.Business, error)
	FindByNamePhone(ctx context.Context, nameKey, phoneDigits string) (*model.Business, error)
	FindByName(ctx context.Context, nameKey string) (*model.Business, error)
	FindByPhone(ctx context.Context, phoneDigits string) (*model.Business, error)
	InsertBusiness(ctx context.Context, b *model.Business) error
	UpdateSignals(ctx context.Context, b *model.Business) error
	UpdateScore(ctx context.Context, id string, score int, breakdown map[string]float64) error

	// Lifecycle.
	TransitionStatus(ctx context.Context, id string, from, to model.Status, actor string) error
	History(ctx context.Context, id string) ([]model.StatusTransition, error)
	RecordStageAttempt(ctx context.Context, id string, stage model.Stage) (int, error)
	MarkStageFailed(ctx context.Context, id string, stage model.Stage) error
	ResetStageAttempts(ctx context.Context, id string, stage model.Stage) error

	// Collaborator signals.
	UpsertWebsite(ctx context.Context, w model.Website) error
	RecordOutreach(ctx context.Context, id string, sentAt time.Time, nextFollowUpAt *time.Time) error
	MarkResponded(ctx context.Context, id string, at time.Time) error

	// Audit.
	AppendRawRecord(ctx context.Context, businessID *string, source string, rec model.RawRecord) error

	// Eligibility reads.
	QualificationQueue(ctx context.Context, limit int) ([]model.Business, error)
	GenerationQueue(ctx context.Context, limit int) ([]model.Business, error)
	OutreachQueue(ctx context.Context, cooldownCutoff time.Time, limit int) ([]model.Business, error)
	FollowUpQueue(ctx context.Context, now time.Time, maxFollowUps, limit int) ([]model.Business, error)
	DeployedAwaitingOutreach(ctx context.Context, limit int) ([]model.Business, error)
	StaleContacted(ctx context.Context, cutoff time.Time, maxFollowUps int) ([]model.Business, error)
	FunnelCounts(ctx context.Context) (map[model.Status]int, error)
	NeedsAttentionCount(ctx context.Context) (int, error)
	ExportQualified(ctx context.Context, minScore int) ([]model.Business, error)

	Close() error
}

// New opens the store named by the config.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
