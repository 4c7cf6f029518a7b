package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nutrikit/adapt/internal/domain/model"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const (
	dateLayout  = "2006-01-02"
	stampLayout = time.RFC3339Nano
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_metric_records (
	user_id         TEXT NOT NULL,
	date            TEXT NOT NULL,
	weight          REAL,
	intake_kcal     REAL,
	adherence_score REAL,
	updated_at      TEXT NOT NULL,
	PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS adaptation_proposals (
	id                       TEXT PRIMARY KEY,
	user_id                  TEXT NOT NULL,
	window_start             TEXT NOT NULL,
	window_end               TEXT NOT NULL,
	adaptation_type          TEXT NOT NULL,
	magnitude                REAL NOT NULL,
	old_daily_calories       INTEGER NOT NULL,
	new_daily_calories       INTEGER NOT NULL,
	old_expenditure_estimate REAL NOT NULL,
	new_expenditure_estimate REAL NOT NULL,
	data_points_used         INTEGER NOT NULL,
	confidence               REAL NOT NULL,
	status                   TEXT NOT NULL,
	coach_message            TEXT NOT NULL DEFAULT '',
	created_at               TEXT NOT NULL,
	decided_at               TEXT,
	applied_at               TEXT,
	rolled_back_at           TEXT
);

CREATE INDEX IF NOT EXISTS idx_proposals_user_status
	ON adaptation_proposals(user_id, status);

CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_single_open
	ON adaptation_proposals(user_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id        TEXT PRIMARY KEY,
	daily_calories INTEGER NOT NULL,
	goal           TEXT NOT NULL DEFAULT 'lose',
	auto_apply     INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore implements Store on SQLite. Proposals double as the audit
// trail for calorie-target changes, so rows are never deleted; the status
// CAS and the target write share one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// UpsertMetric writes one (user, date) observation, overwriting any
// earlier submission for the same date.
func (s *SQLiteStore) UpsertMetric(ctx context.Context, rec model.DailyMetricRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_metric_records (user_id, date, weight, intake_kcal, adherence_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET
			weight = excluded.weight,
			intake_kcal = excluded.intake_kcal,
			adherence_score = excluded.adherence_score,
			updated_at = excluded.updated_at`,
		rec.UserID,
		model.DateOf(rec.Date).Format(dateLayout),
		nullFloat(rec.Weight),
		nullFloat(rec.IntakeKcal),
		nullFloat(rec.AdherenceScore),
		rec.UpdatedAt.UTC().Format(stampLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert metric: %w", err)
	}
	return nil
}

// MetricsSince returns the user's records dated at or after since,
// ascending by date.
func (s *SQLiteStore) MetricsSince(ctx context.Context, userID string, since time.Time) ([]model.DailyMetricRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date, weight, intake_kcal, adherence_score, updated_at
		FROM daily_metric_records
		WHERE user_id = ? AND date >= ?
		ORDER BY date ASC`,
		userID, model.DateOf(since).Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []model.DailyMetricRecord
	for rows.Next() {
		var (
			rec               model.DailyMetricRecord
			date, updated     string
			weight, in, adher sql.NullFloat64
		)
		if err := rows.Scan(&rec.UserID, &date, &weight, &in, &adher, &updated); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		if rec.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse metric date: %w", err)
		}
		if rec.UpdatedAt, err = time.Parse(stampLayout, updated); err != nil {
			return nil, fmt.Errorf("parse metric updated_at: %w", err)
		}
		rec.Weight = floatPtr(weight)
		rec.IntakeKcal = floatPtr(in)
		rec.AdherenceScore = floatPtr(adher)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}

// UserIDs lists every user with a profile.
func (s *SQLiteStore) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

// Profile returns the user's profile or ErrNotFound.
func (s *SQLiteStore) Profile(ctx context.Context, userID string) (model.Profile, error) {
	var (
		p    model.Profile
		auto int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, daily_calories, goal, auto_apply
		FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DailyCalories, &p.Goal, &auto)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("query profile: %w", err)
	}
	p.AutoApply = auto != 0
	return p, nil
}

// SaveProfile creates or replaces a profile.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p model.Profile) error {
	auto := 0
	if p.AutoApply {
		auto = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, daily_calories, goal, auto_apply)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			daily_calories = excluded.daily_calories,
			goal = excluded.goal,
			auto_apply = excluded.auto_apply`,
		p.UserID, p.DailyCalories, string(p.Goal), auto,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// CreateProposal persists a new proposal; a non-nil targetKcal is written
// to the profile inside the same transaction (trusted auto-apply).
func (s *SQLiteStore) CreateProposal(ctx context.Context, p *model.AdaptationProposal, targetKcal *int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create proposal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if p.Status == model.StatusPending {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM adaptation_proposals WHERE user_id = ? AND status = ? LIMIT 1`,
			p.UserID, string(model.StatusPending),
		).Scan(&existing)
		if err == nil {
			return fmt.Errorf("user %s has proposal %s pending: %w", p.UserID, existing, ErrOpenProposalExists)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check open proposal: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO adaptation_proposals (
			id, user_id, window_start, window_end, adaptation_type, magnitude,
			old_daily_calories, new_daily_calories,
			old_expenditure_estimate, new_expenditure_estimate,
			data_points_used, confidence, status, coach_message,
			created_at, decided_at, applied_at, rolled_back_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID,
		p.WindowStart.Format(dateLayout), p.WindowEnd.Format(dateLayout),
		string(p.Type), p.Magnitude,
		p.OldDailyCalories, p.NewDailyCalories,
		p.OldExpenditureEstimate, p.NewExpenditureEstimate,
		p.DataPointsUsed, p.Confidence, string(p.Status), p.CoachMessage,
		p.CreatedAt.UTC().Format(stampLayout),
		nullStamp(p.DecidedAt), nullStamp(p.AppliedAt), nullStamp(p.RolledBackAt),
	)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	if targetKcal != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE user_profiles SET daily_calories = ? WHERE user_id = ?`,
			*targetKcal, p.UserID,
		)
		if err != nil {
			return fmt.Errorf("write target: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("profile %s: %w", p.UserID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create proposal: %w", err)
	}
	return nil
}

// Proposal returns a proposal by id or ErrNotFound.
func (s *SQLiteStore) Proposal(ctx context.Context, id string) (model.AdaptationProposal, error) {
	row := s.db.QueryRowContext(ctx, proposalSelect+` WHERE id = ?`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AdaptationProposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return p, err
}

// PendingProposals lists the user's pending proposals, newest first.
func (s *SQLiteStore) PendingProposals(ctx context.Context, userID string) ([]model.AdaptationProposal, error) {
	rows, err := s.db.QueryContext(ctx,
		proposalSelect+` WHERE user_id = ? AND status = ? ORDER BY created_at DESC`,
		userID, string(model.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending proposals: %w", err)
	}
	defer rows.Close()

	var out []model.AdaptationProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending proposals: %w", err)
	}
	return out, nil
}

// OpenProposal returns the user's single pending proposal, or nil.
func (s *SQLiteStore) OpenProposal(ctx context.Context, userID string) (*model.AdaptationProposal, error) {
	row := s.db.QueryRowContext(ctx,
		proposalSelect+` WHERE user_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		userID, string(model.StatusPending),
	)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// TransitionProposal compare-and-sets the status and applies the target
// write in one transaction.
func (s *SQLiteStore) TransitionProposal(ctx context.Context, id string, expect, next model.ProposalStatus, at time.Time, targetKcal *int) (model.AdaptationProposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, proposalSelect+` WHERE id = ?`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AdaptationProposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.AdaptationProposal{}, err
	}
	if p.Status != expect {
		return p, fmt.Errorf("proposal %s is %s, expected %s: %w", id, p.Status, expect, ErrStatusConflict)
	}

	stamp := at.UTC()
	p.Status = next
	switch next {
	case model.StatusApproved, model.StatusDeclined:
		p.DecidedAt = &stamp
	case model.StatusApplied:
		if p.DecidedAt == nil {
			p.DecidedAt = &stamp
		}
		p.AppliedAt = &stamp
	case model.StatusRolledBack:
		p.RolledBackAt = &stamp
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE adaptation_proposals
		SET status = ?, decided_at = ?, applied_at = ?, rolled_back_at = ?
		WHERE id = ? AND status = ?`,
		string(next), nullStamp(p.DecidedAt), nullStamp(p.AppliedAt), nullStamp(p.RolledBackAt),
		id, string(expect),
	)
	if err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("update proposal status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p, fmt.Errorf("proposal %s: %w", id, ErrStatusConflict)
	}

	if targetKcal != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE user_profiles SET daily_calories = ? WHERE user_id = ?`,
			*targetKcal, p.UserID,
		)
		if err != nil {
			return model.AdaptationProposal{}, fmt.Errorf("write target: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.AdaptationProposal{}, fmt.Errorf("profile %s: %w", p.UserID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("commit transition: %w", err)
	}
	return p, nil
}

const proposalSelect = `
	SELECT id, user_id, window_start, window_end, adaptation_type, magnitude,
		old_daily_calories, new_daily_calories,
		old_expenditure_estimate, new_expenditure_estimate,
		data_points_used, confidence, status, coach_message,
		created_at, decided_at, applied_at, rolled_back_at
	FROM adaptation_proposals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (model.AdaptationProposal, error) {
	var (
		p                          model.AdaptationProposal
		wStart, wEnd, created      string
		typ, status                string
		decided, applied, rolledBk sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.UserID, &wStart, &wEnd, &typ, &p.Magnitude,
		&p.OldDailyCalories, &p.NewDailyCalories,
		&p.OldExpenditureEstimate, &p.NewExpenditureEstimate,
		&p.DataPointsUsed, &p.Confidence, &status, &p.CoachMessage,
		&created, &decided, &applied, &rolledBk,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AdaptationProposal{}, err
		}
		return model.AdaptationProposal{}, fmt.Errorf("scan proposal: %w", err)
	}
	p.Type = model.AdaptationType(typ)
	p.Status = model.ProposalStatus(status)
	if p.WindowStart, err = time.Parse(dateLayout, wStart); err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("parse window_start: %w", err)
	}
	if p.WindowEnd, err = time.Parse(dateLayout, wEnd); err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("parse window_end: %w", err)
	}
	if p.CreatedAt, err = time.Parse(stampLayout, created); err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("parse created_at: %w", err)
	}
	if p.DecidedAt, err = stampPtr(decided); err != nil {
		return model.AdaptationProposal{}, err
	}
	if p.AppliedAt, err = stampPtr(applied); err != nil {
		return model.AdaptationProposal{}, err
	}
	if p.RolledBackAt, err = stampPtr(rolledBk); err != nil {
		return model.AdaptationProposal{}, err
	}
	return p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullStamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(stampLayout), Valid: true}
}

func stampPtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(stampLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	return &t, nil
}
