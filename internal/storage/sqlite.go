package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trials (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		operator TEXT NOT NULL DEFAULT '',
		raw_seconds REAL NOT NULL,
		penalty_seconds REAL NOT NULL,
		total_seconds REAL NOT NULL,
		waypoint_seconds REAL,
		penalties_json TEXT NOT NULL,
		eliminations_json TEXT NOT NULL,
		penalty_count INTEGER NOT NULL,
		elimination_count INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		stopped_at DATETIME NOT NULL,
		submitted_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trials_subject_id ON trials(subject_id);
	CREATE INDEX IF NOT EXISTS idx_trials_submitted_at ON trials(submitted_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepository) SaveTrial(ctx context.Context, record *TrialRecord) error {
	args, err := insertArgs(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trials (id, subject_id, operator, raw_seconds, penalty_seconds, total_seconds,
			waypoint_seconds, penalties_json, eliminations_json, penalty_count, elimination_count,
			started_at, stopped_at, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *SQLiteRepository) TrialsBySubject(ctx context.Context, subjectID string) ([]TrialRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM trials
		WHERE subject_id = ?
		ORDER BY submitted_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrials(rows)
}

func (r *SQLiteRepository) RecentTrials(ctx context.Context, subjectID string, since time.Time) ([]TrialRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM trials
		WHERE subject_id = ? AND submitted_at >= ?
		ORDER BY submitted_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, subjectID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrials(rows)
}

func (r *SQLiteRepository) SubjectStats(ctx context.Context, subjectID string) (*SubjectStats, error) {
	query := `SELECT ` + statsColumns + `
		FROM trials
		WHERE subject_id = ?
	`

	return scanStats(r.db.QueryRowContext(ctx, query, subjectID))
}

func (r *SQLiteRepository) DeleteTrial(ctx context.Context, subjectID, trialID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trials WHERE id = ? AND subject_id = ?`, trialID, subjectID)
	if err != nil {
		return err
	}
	return checkDeleted(res)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
