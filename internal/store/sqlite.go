package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/webfabrica/leadgen-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. The schema is applied on open; SQLite runs are single-user so the
// Postgres migration machinery is unnecessary.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLiteStore{db: sdb}
	if err := s.migrate(); err != nil {
		sdb.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS businesses (
	id                 TEXT PRIMARY KEY,
	external_id        TEXT NOT NULL DEFAULT '',
	name               TEXT NOT NULL,
	normalized_name    TEXT NOT NULL,
	category           TEXT NOT NULL DEFAULT '',
	secondary_category TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	city               TEXT NOT NULL DEFAULT '',
	neighborhood       TEXT NOT NULL DEFAULT '',
	latitude           REAL,
	longitude          REAL,
	phone              TEXT NOT NULL DEFAULT '',
	normalized_phone   TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	rating             REAL NOT NULL DEFAULT 0,
	review_count       INTEGER NOT NULL DEFAULT 0,
	photo_count        INTEGER NOT NULL DEFAULT 0,
	has_website        INTEGER NOT NULL DEFAULT 0,
	website_url        TEXT NOT NULL DEFAULT '',
	website_status     TEXT NOT NULL DEFAULT 'none',
	last_activity_at   DATETIME,
	score              INTEGER NOT NULL DEFAULT 0,
	score_breakdown    TEXT,
	status             TEXT NOT NULL DEFAULT 'discovered',
	discovered_at      DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	archived_at        DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_businesses_external_id
	ON businesses(external_id) WHERE external_id <> '';
CREATE INDEX IF NOT EXISTS idx_businesses_status ON businesses(status);
CREATE INDEX IF NOT EXISTS idx_businesses_name_phone
	ON businesses(normalized_name, normalized_phone);

CREATE TABLE IF NOT EXISTS status_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	business_id TEXT NOT NULL REFERENCES businesses(id),
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT 'system',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_attempts (
	business_id     TEXT NOT NULL REFERENCES businesses(id),
	stage           TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	failed          INTEGER NOT NULL DEFAULT 0,
	last_attempt_at DATETIME,
	PRIMARY KEY (business_id, stage)
);

CREATE TABLE IF NOT EXISTS raw_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	business_id TEXT REFERENCES businesses(id),
	source      TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS websites (
	business_id TEXT PRIMARY KEY REFERENCES businesses(id),
	url         TEXT NOT NULL,
	deployed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS outreach_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	business_id       TEXT NOT NULL REFERENCES businesses(id),
	sent_at           DATETIME NOT NULL,
	follow_up_count   INTEGER NOT NULL DEFAULT 0,
	next_follow_up_at DATETIME,
	responded_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_outreach_log_business
	ON outreach_log(business_id, sent_at DESC);
`

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteBusiness(row scannable) (*model.Business, error) {
	var b model.Business
	var lat, lon sql.NullFloat64
	var lastActivity, archivedAt sql.NullTime
	var breakdown sql.NullString

	err := row.Scan(
		&b.ID, &b.ExternalID, &b.Name, &b.NormalizedName, &b.Category, &b.SecondaryCategory,
		&b.Address, &b.City, &b.Neighborhood, &lat, &lon, &b.Phone, &b.NormalizedPhone, &b.Email,
		&b.Rating, &b.ReviewCount, &b.PhotoCount, &b.HasWebsite, &b.WebsiteURL, &b.WebsiteStatus, &lastActivity,
		&b.Score, &breakdown, &b.Status, &b.DiscoveredAt, &b.UpdatedAt, &archivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "sqlite")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan business")
	}

	if lat.Valid {
		b.Latitude = &lat.Float64
	}
	if lon.Valid {
		b.Longitude = &lon.Float64
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		b.LastActivityAt = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		b.ArchivedAt = &t
	}
	if breakdown.Valid && breakdown.String != "" {
		if err := json.Unmarshal([]byte(breakdown.String), &b.ScoreBreakdown); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode score breakdown")
		}
	}
	return &b, nil
}

func (s *SQLiteStore) getOne(ctx context.Context, query string, args ...any) (*model.Business, error) {
	return scanSQLiteBusiness(s.db.QueryRowContext(ctx, query, args...))
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]model.Business, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query businesses")
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanSQLiteBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate businesses")
}

// GetBusiness fetches a business by id.
func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	return s.getOne(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id)
}

// FindByExternalID fetches a business by its source identifier.
func (s *SQLiteStore) FindByExternalID(ctx context.Context, externalID string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE external_id = ? AND external_id <> ''`,
		externalID)
}

// FindByNamePhone fetches the oldest business matching both normalized keys.
func (s *SQLiteStore) FindByNamePhone(ctx context.Context, nameKey, phoneDigits string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE normalized_name = ? AND normalized_phone = ? AND normalized_phone <> ''
		 ORDER BY discovered_at ASC LIMIT 1`,
		nameKey, phoneDigits)
}

// FindByName fetches the oldest business matching the normalized name.
func (s *SQLiteStore) FindByName(ctx context.Context, nameKey string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE normalized_name = ? ORDER BY discovered_at ASC LIMIT 1`,
		nameKey)
}

// FindByPhone fetches the oldest business matching the normalized phone.
func (s *SQLiteStore) FindByPhone(ctx context.Context, phoneDigits string) (*model.Business, error) {
	return s.getOne(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE normalized_phone = ? AND normalized_phone <> ''
		 ORDER BY discovered_at ASC LIMIT 1`,
		phoneDigits)
}

// InsertBusiness inserts a new business row.
func (s *SQLiteStore) InsertBusiness(ctx context.Context, b *model.Business) error {
	breakdown, err := json.Marshal(b.ScoreBreakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode score breakdown")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO businesses (`+businessColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.ExternalID, b.Name, b.NormalizedName, b.Category, b.SecondaryCategory,
		b.Address, b.City, b.Neighborhood, b.Latitude, b.Longitude, b.Phone, b.NormalizedPhone, b.Email,
		b.Rating, b.ReviewCount, b.PhotoCount, b.HasWebsite, b.WebsiteURL, b.WebsiteStatus, b.LastActivityAt,
		b.Score, string(breakdown), b.Status, b.DiscoveredAt, b.UpdatedAt, b.ArchivedAt,
	)
	return eris.Wrap(err, "sqlite: insert business")
}

// UpdateSignals overwrites signal fields and fills still-empty identity
// fields.
func (s *SQLiteStore) UpdateSignals(ctx context.Context, b *model.Business) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET
			rating = ?, review_count = ?, photo_count = ?, has_website = ?,
			website_url = ?, website_status = ?, last_activity_at = ?,
			external_id = ?, phone = ?, normalized_phone = ?, email = ?,
			address = ?, neighborhood = ?, updated_at = ?
		 WHERE id = ?`,
		b.Rating, b.ReviewCount, b.PhotoCount, b.HasWebsite,
		b.WebsiteURL, b.WebsiteStatus, b.LastActivityAt,
		b.ExternalID, b.Phone, b.NormalizedPhone, b.Email,
		b.Address, b.Neighborhood, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update signals")
	}
	return checkRowsAffected(res, "business", b.ID)
}

// UpdateScore persists a scoring result.
func (s *SQLiteStore) UpdateScore(ctx context.Context, id string, score int, breakdown map[string]float64) error {
	data, err := json.Marshal(breakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode score breakdown")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET score = ?, score_breakdown = ?, updated_at = ? WHERE id = ?`,
		score, string(data), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update score")
	}
	return checkRowsAffected(res, "business", id)
}

// TransitionStatus applies the optimistic status guard and appends history
// in one transaction.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, from, to model.Status, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var archivedAt any
	if to == model.StatusArchived {
		archivedAt = now
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE businesses SET status = ?, updated_at = ?,
			archived_at = COALESCE(?, archived_at)
		 WHERE id = ? AND status = ?`,
		to, now, archivedAt, id, from,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: transition status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: transition rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrTransitionConflict, "sqlite: %s -> %s", from, to)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO status_history (business_id, from_status, to_status, actor, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, from, to, actor, now,
	); err != nil {
		return eris.Wrap(err, "sqlite: append status history")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

// History returns the status transitions of a business, oldest first.
func (s *SQLiteStore) History(ctx context.Context, id string) ([]model.StatusTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT business_id, from_status, to_status, actor, created_at
		 FROM status_history WHERE business_id = ? ORDER BY created_at ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query history")
	}
	defer rows.Close()

	var out []model.StatusTransition
	for rows.Next() {
		var t model.StatusTransition
		if err := rows.Scan(&t.BusinessID, &t.From, &t.To, &t.Actor, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history row")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

// RecordStageAttempt increments the attempt counter for a stage.
func (s *SQLiteStore) RecordStageAttempt(ctx context.Context, id string, stage model.Stage) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO stage_attempts (business_id, stage, attempts, failed, last_attempt_at)
		 VALUES (?, ?, 1, 0, ?)
		 ON CONFLICT (business_id, stage)
		 DO UPDATE SET attempts = attempts + 1, last_attempt_at = excluded.last_attempt_at
		 RETURNING attempts`,
		id, stage, time.Now().UTC(),
	).Scan(&attempts)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: record stage attempt")
	}
	return attempts, nil
}

// MarkStageFailed sets the persistent failure flag for a stage.
func (s *SQLiteStore) MarkStageFailed(ctx context.Context, id string, stage model.Stage) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stage_attempts SET failed = 1 WHERE business_id = ? AND stage = ?`,
		id, stage,
	)
	return eris.Wrap(err, "sqlite: mark stage failed")
}

// ResetStageAttempts clears attempt bookkeeping for a stage.
func (s *SQLiteStore) ResetStageAttempts(ctx context.Context, id string, stage model.Stage) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stage_attempts WHERE business_id = ? AND stage = ?`,
		id, stage,
	)
	return eris.Wrap(err, "sqlite: reset stage attempts")
}

// UpsertWebsite records the deploy-completion signal.
func (s *SQLiteStore) UpsertWebsite(ctx context.Context, w model.Website) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO websites (business_id, url, deployed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (business_id) DO UPDATE SET url = excluded.url, deployed_at = excluded.deployed_at`,
		w.BusinessID, w.URL, w.DeployedAt,
	)
	return eris.Wrap(err, "sqlite: upsert website")
}

// RecordOutreach appends an outreach send.
func (s *SQLiteStore) RecordOutreach(ctx context.Context, id string, sentAt time.Time, nextFollowUpAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outreach_log (business_id, sent_at, follow_up_count, next_follow_up_at)
		 VALUES (?, ?, (SELECT COUNT(*) FROM outreach_log WHERE business_id = ?), ?)`,
		id, sentAt, id, nextFollowUpAt,
	)
	return eris.Wrap(err, "sqlite: record outreach")
}

// MarkResponded stamps the open outreach rows with the response time.
func (s *SQLiteStore) MarkResponded(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outreach_log SET responded_at = ? WHERE business_id = ? AND responded_at IS NULL`,
		at, id,
	)
	return eris.Wrap(err, "sqlite: mark responded")
}

// AppendRawRecord appends an ingestion audit row.
func (s *SQLiteStore) AppendRawRecord(ctx context.Context, businessID *string, source string, rec model.RawRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode raw record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO raw_records (business_id, source, payload, created_at) VALUES (?, ?, ?, ?)`,
		businessID, source, string(payload), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: append raw record")
}

// QualificationQueue returns businesses awaiting analysis, oldest first.
// Rows stranded in analyzing by an interrupted pass are picked up again;
// rows whose analysis attempts are exhausted stay out until reset.
func (s *SQLiteStore) QualificationQueue(ctx context.Context, limit int) ([]model.Business, error) {
	return s.list(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status IN ('discovered', 'analyzing')
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed = 1
		   )
		 ORDER BY b.discovered_at ASC LIMIT ?`,
		limit)
}

// GenerationQueue returns qualified businesses, best first.
func (s *SQLiteStore) GenerationQueue(ctx context.Context, limit int) ([]model.Business, error) {
	return s.list(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status = 'qualified'
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed = 1
		   )
		 ORDER BY b.score DESC, b.discovered_at ASC LIMIT ?`,
		limit)
}

// OutreachQueue returns ready businesses with a deployed site and no send
// since the cooldown cutoff.
func (s *SQLiteStore) OutreachQueue(ctx context.Context, cooldownCutoff time.Time, limit int) ([]model.Business, error) {
	return s.list(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 JOIN websites w ON w.business_id = b.id
		 WHERE b.status = 'ready_for_outreach'
		   AND NOT EXISTS (
			SELECT 1 FROM outreach_log o WHERE o.business_id = b.id AND o.sent_at > ?
		   )
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed = 1
		   )
		 ORDER BY b.score DESC, b.discovered_at ASC LIMIT ?`,
		cooldownCutoff, limit)
}

// FollowUpQueue returns contacted businesses whose latest send is due a
// follow-up with sends remaining.
func (s *SQLiteStore) FollowUpQueue(ctx context.Context, now time.Time, maxFollowUps, limit int) ([]model.Business, error) {
	return s.list(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status = 'contacted'
		   AND (SELECT responded_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) IS NULL
		   AND (SELECT next_follow_up_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) <= ?
		   AND (SELECT follow_up_count FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) < ?
		   AND NOT EXISTS (
			SELECT 1 FROM stage_attempts sa WHERE sa.business_id = b.id AND sa.failed = 1
		   )
		 ORDER BY b.score DESC, b.discovered_at ASC LIMIT ?`,
		now, maxFollowUps, limit)
}

// DeployedAwaitingOutreach returns deployed businesses whose site signal
// is recorded.
func (s *SQLiteStore) DeployedAwaitingOutreach(ctx context.Context, limit int) ([]model.Business, error) {
	return s.list(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 JOIN websites w ON w.business_id = b.id
		 WHERE b.status = 'deployed' ORDER BY b.updated_at ASC LIMIT ?`,
		limit)
}

// StaleContacted returns contacted businesses whose latest send predates
// the cutoff with all follow-ups spent and no response.
func (s *SQLiteStore) StaleContacted(ctx context.Context, cutoff time.Time, maxFollowUps int) ([]model.Business, error) {
	return s.list(ctx,
		`SELECT `+qualify(businessColumns)+` FROM businesses b
		 WHERE b.status = 'contacted'
		   AND (SELECT responded_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) IS NULL
		   AND (SELECT sent_at FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) <= ?
		   AND (SELECT follow_up_count FROM outreach_log WHERE business_id = b.id ORDER BY sent_at DESC LIMIT 1) >= ?`,
		cutoff, maxFollowUps)
}

// FunnelCounts returns the status distribution.
func (s *SQLiteStore) FunnelCounts(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM businesses GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query funnel counts")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan funnel row")
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate funnel counts")
}

// NeedsAttentionCount counts non-terminal businesses with an exhausted stage.
func (s *SQLiteStore) NeedsAttentionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT sa.business_id)
		 FROM stage_attempts sa
		 JOIN businesses b ON b.id = sa.business_id
		 WHERE sa.failed = 1 AND b.status NOT IN ('converted', 'rejected', 'archived')`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count needs attention")
	}
	return n, nil
}

// ExportQualified returns active businesses at or above minScore.
func (s *SQLiteStore) ExportQualified(ctx context.Context, minScore int) ([]model.Business, error) {
	return s.list(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE score >= ? AND status NOT IN ('rejected', 'archived')
		 ORDER BY score DESC, discovered_at ASC`,
		minScore)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
