package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/webfabrica/leadgen-cli/internal/db"
	"github.com/webfabrica/leadgen-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool creates a PostgresStore over an existing pool.
// Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

// Pool exposes the underlying pool for migrations.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

const businessColumns = `id, external_id, name, normalized_name, category, secondary_category,
	address, city, neighborhood, latitude, longitude, phone, normalized_phone, email,
	rating, review_count, photo_count, has_website, website_url, website_status, last_activity_at,
	score, score_breakdown, status, discovered_at, updated_at, archived_at`

// qualify prefixes each business column with the "b" table alias for
// joined queries.
func qualify(cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = "b." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBusiness(row scannable) (*model.Business, error) {
	var b model.Business
	var breakdown []byte
	err := row.Scan(
		&b.ID, &b.ExternalID, &b.Name, &b.NormalizedName, &b.Category, &b.SecondaryCategory,
		&b.Address, &b.City, &b.Neighborhood, &b.Latitude, &b.Longitude, &b.Phone, &b.NormalizedPhone, &b.Email,
		&b.Rating, &b.ReviewCount, &b.PhotoCount, &b.HasWebsite, &b.WebsiteURL, &b.WebsiteStatus, &b.LastActivityAt,
		&b.Score, &breakdown, &b.Status, &b.DiscoveredAt, &b.UpdatedAt, &b.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &b.ScoreBreakdown); err != nil {
			return nil, eris.Wrap(err, "postgres: decode score breakdown")
		}
	}
	return &b, nil
}

func (s *PostgresStore) getOne(ctx context.Context, query string, args ...any) (*model.Business, error) {
	b, err := scanBusiness(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrap(model.ErrNotFound, "postgres")
		}
		return nil, eris.Wrap(err, "postgres: scan business")
	}
	return b, nil
}

func (s *PostgresStore) listBusinesses(ctx context.Context, query string, args ...any) ([]model.Business, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query businesses")
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan business row")
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate businesses")
	}
	return out, nil
}

// GetBusiness fetches a business by id.
func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	return s.getOne(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id)
}

// FindByExternalID fetches a business by its source identifier.
func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE external_id = $1 AND external_id <> ''`,
		externalID)
}

// FindByNamePhone fetches the oldest business matching both normalized keys.
func (s *PostgresStore) FindByNamePhone(ctx context.Context, nameKey, phoneDigits string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE normalized_name = $1 AND normalized_phone = $2 AND normalized_phone <> ''
		 ORDER BY discovered_at ASC LIMIT 1`,
		nameKey, phoneDigits)
}

// FindByName fetches the oldest business matching the normalized name.
func (s *PostgresStore) FindByName(ctx context.Context, nameKey string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE normalized_name = $1 ORDER BY discovered_at ASC LIMIT 1`,
		nameKey)
}

// FindByPhone fetches the oldest business matching the normalized phone.
func (s *PostgresStore) FindByPhone(ctx context.Context, phoneDigits string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE normalized_phone = $1 AND normalized_phone <> ''
		 ORDER BY discovered_at ASC LIMIT 1`,
		phoneDigits)
}

// InsertBusiness inserts a new business row.
func (s *PostgresStore) InsertBusiness(ctx context.Context, b *model.Business) error {
	breakdown, err := json.Marshal(b.ScoreBreakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: encode score breakdown")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO businesses (`+businessColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		b.ID, b.ExternalID, b.Name, b.NormalizedName, b.Category, b.SecondaryCategory,
		b.Address, b.City, b.Neighborhood, b.Latitude, b.Longitude, b.Phone, b.NormalizedPhone, b.Email,
		b.Rating, b.ReviewCount, b.PhotoCount, b.HasWebsite, b.WebsiteURL, b.WebsiteStatus, b.LastActivityAt,
		b.Score, breakdown, b.Status, b.DiscoveredAt, b.UpdatedAt, b.ArchivedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert business")
	}
	return nil
}

// UpdateSignals overwrites signal fields and fills still-empty identity
// fields. Status and score are untouched.
func (s *PostgresStore) UpdateSignals(ctx context.Context, b *model.Business) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET
			rating = $2, review_count = $3, photo_count = $4, has_website = $5,
			website_url = $6, website_status = $7, last_activity_at = $8,
			external_id = $9, phone = $10, normalized_phone = $11, email = $12,
			address = $13, neighborhood = $14, updated_at = $15
		 WHERE id = $1`,
		b.ID, b.Rating, b.ReviewCount, b.PhotoCount, b.HasWebsite,
		b.WebsiteURL, b.WebsiteStatus, b.LastActivityAt,
		b.ExternalID, b.Phone, b.NormalizedPhone, b.Email,
		b.Address, b.Neighborhood, b.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update signals")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrap(model.ErrNotFound, "postgres: update signals")
	}
	return nil
}

// UpdateScore persists a scoring result.
func (s *PostgresStore) UpdateScore(ctx context.Context, id string, score int, breakdown map[string]float64) error {
	data, err := json.Marshal(breakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: encode score breakdown")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET score = $2, score_breakdown = $3, updated_at = now() WHERE id = $1`,
		id, score, data,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update score")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrap(model.ErrNotFound, "postgres: update score")
	}
	return nil
}

// TransitionStatus applies the optimistic status guard and appends history
// in one transaction. Zero rows affected means another actor won the race.
func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to model.Status, actor string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin transition")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE businesses SET status = $3, updated_at = now(),
			archived_at = CASE WHEN $3 = 'archived' THEN now() ELSE archived_at END
		 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: transition status")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrTransitionConflict, "postgres: %s -> %s", from, to)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO status_history (business_id, from_status, to_status, actor, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		id, from, to, actor,
	); err != nil {
		return eris.Wrap(err, "postgres: append status history")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit transition")
	}
	return nil
}

// History returns the status transitions of a business, oldest first.
func (s *PostgresStore) History(ctx context.Context, id string) ([]model.StatusTransition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT business_id, from_status, to_status, actor, created_at
		 FROM status_history WHERE business_id = $1 ORDER BY created_at ASC`,
		id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query history")
	}
	defer rows.Close()

	var out []model.StatusTransition
	for rows.Next() {
		var t model.StatusTransition
		if err := rows.Scan(&t.BusinessID, &t.From, &t.To, &t.Actor, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history row")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordStageAttempt increments the attempt counter for a stage and
// returns the new count.
func (s *PostgresStore) RecordStageAttempt(ctx context.Context, id string, stage model.Stage) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stage_attempts (business_id, stage, attempts, failed, last_attempt_at)
		 VALUES ($1, $2, 1, false, now())
		 ON CONFLICT (business_id, stage)
		 DO UPDATE SET attempts = stage_attempts.attempts + 1, last_attempt_at = now()
		 RETURNING attempts`,
		id, stage,
	).Scan(&attempts)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: record stage attempt")
	}
	return attempts, nil
}

// MarkStageFailed sets the persistent failure flag for a stage.
func (s *PostgresStore) MarkStageFailed(ctx context.Context, id string, stage model.Stage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE stage_attempts SET failed = true WHERE business_id = $1 AND stage = $2`,
		id, stage,
	)
	return eris.Wrap(err, "postgres: mark stage failed")
}

// ResetStageAttempts clears attempt bookkeeping for a stage.
func (s *PostgresStore) ResetStageAttempts(ctx context.Context, id string, stage model.Stage) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM stage_attempts WHERE business_id = $1 AND stage = $2`,
		id, stage,
	)
	return eris.Wrap(err, "postgres: reset stage attempts")
}

// UpsertWebsite records the deploy-completion signal.
func (s *PostgresStore) UpsertWebsite(ctx context.Context, w model.Website) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO websites (business_id, url, deployed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (business_id) DO UPDATE SET url = EXCLUDED.url, deployed_at = EXCLUDED.deployed_at`,
		w.BusinessID, w.URL, w.DeployedAt,
	)
	return eris.Wrap(err, "postgres: upsert website")
}

// RecordOutreach appends an outreach send. The follow-up counter is the
// number of prior sends for the business.
func (s *PostgresStore) RecordOutreach(ctx context.Context, id string, sentAt time.Time, nextFollowUpAt *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outreach_log (business_id, sent_at, follow_up_count, next_follow_up_at)
		 VALUES ($1, $2, (SELECT COUNT(*) FROM outreach_log WHERE business_id = $1), $3)`,
		id, sentAt, nextFollowUpAt,
	)
	return eris.Wrap(err, "postgres: record outreach")
}

// MarkResponded stamps the open outreach rows with the response time.
func (s *PostgresStore) MarkResponded(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outreach_log SET responded_at = $2 WHERE business_id = $1 AND responded_at IS NULL`,
		id, at,
	)
	return eris.Wrap(err, "postgres: mark responded")
}

// AppendRawRecord appends an ingestion audit row. businessID is nil for
// duplicate-discards.
func (s *PostgresStore) AppendRawRecord(ctx context.Context, businessID *string, source string, rec model.RawRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: encode raw record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO raw_records (business_id, source, payload, created_at) VALUES ($1, $2, $3, now())`,
		businessID, source, payload,
	)
	return eris.Wrap(err, "postgres: append raw record")
}

// QualificationQueue returns businesses awaiting analysis, oldest first.
// Rows stranded in analyzing by an interrupted pass are picked up again;
// rows whose analysis attempts are exhausted stay out until reset.
func (s *PostgresStore) QualificationQueue(ctx context.Context, limit int) ([]model.Business, error) {
	return s.listBusinesses(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status IN ('discovered', 'analyzing')
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed
		   )
		 ORDER BY b.discovered_at ASC LIMIT $1`,
		limit)
}

// GenerationQueue returns qualified businesses, best first. The tie-break
// on discovery time keeps the order deterministic.
func (s *PostgresStore) GenerationQueue(ctx context.Context, limit int) ([]model.Business, error) {
	return s.listBusinesses(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status = 'qualified'
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed
		   )
		 ORDER BY b.score DESC, b.discovered_at ASC LIMIT $1`,
		limit)
}

// OutreachQueue returns ready businesses with a deployed site and no send
// since the cooldown cutoff.
func (s *PostgresStore) OutreachQueue(ctx context.Context, cooldownCutoff time.Time, limit int) ([]model.Business, error) {
	return s.listBusinesses(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 JOIN websites w ON w.business_id = b.id
		 WHERE b.status = 'ready_for_outreach'
		   AND NOT EXISTS (
			SELECT 1 FROM outreach_log o WHERE o.business_id = b.id AND o.sent_at > $1
		   )
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed
		   )
		 ORDER BY b.score DESC, b.discovered_at ASC LIMIT $2`,
		cooldownCutoff, limit)
}

// FollowUpQueue returns contacted businesses whose latest send is due a
// follow-up and still has sends remaining.
func (s *PostgresStore) FollowUpQueue(ctx context.Context, now time.Time, maxFollowUps, limit int) ([]model.Business, error) {
	return s.listBusinesses(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status = 'contacted'
		   AND (SELECT responded_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) IS NULL
		   AND (SELECT next_follow_up_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) <= $1
		   AND (SELECT follow_up_count FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) < $2
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed
		   )
		 ORDER BY b.score DESC, b.discovered_at ASC LIMIT $3`,
		now, maxFollowUps, limit)
}

// DeployedAwaitingOutreach returns deployed businesses whose site signal
// is recorded.
func (s *PostgresStore) DeployedAwaitingOutreach(ctx context.Context, limit int) ([]model.Business, error) {
	return s.listBusinesses(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 JOIN websites w ON w.business_id = b.id
		 WHERE b.status = 'deployed' ORDER BY b.updated_at ASC LIMIT $1`,
		limit)
}

// StaleContacted returns contacted businesses whose latest send predates
// the cutoff with all follow-ups spent and no response.
func (s *PostgresStore) StaleContacted(ctx context.Context, cutoff time.Time, maxFollowUps int) ([]model.Business, error) {
	return s.listBusinesses(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status = 'contacted'
		   AND (SELECT responded_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) IS NULL
		   AND (SELECT sent_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) <= $1
		   AND (SELECT follow_up_count FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) >= $2`,
		cutoff, maxFollowUps)
}

// FunnelCounts returns the status distribution.
func (s *PostgresStore) FunnelCounts(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM businesses GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query funnel counts")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan funnel row")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// NeedsAttentionCount counts non-terminal businesses with an exhausted stage.
func (s *PostgresStore) NeedsAttentionCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT sa.business_id)
		 FROM stage_attempts sa
		 JOIN businesses b ON b.id = sa.business_id
		 WHERE sa.failed = true AND b.status NOT IN ('converted', 'rejected', 'archived')`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count needs attention")
	}
	return n, nil
}

// ExportQualified returns active businesses at or above minScore, best
// first.
func (s *PostgresStore) ExportQualified(ctx context.Context, minScore int) ([]model.Business, error) {
	return s.listBusinesses(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE score >= $1 AND status NOT IN ('rejected', 'archived')
		 ORDER BY score DESC, discovered_at ASC`,
		minScore)
}
