package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(connStr string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	repo := &PostgresRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	return repo, nil
}

// PostgresDSN builds a lib/pq key/value connection string.
func PostgresDSN(host string, port int, user, password, name, sslmode string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, name, sslmode)
}

func (r *PostgresRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trials (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		operator TEXT NOT NULL DEFAULT '',
		raw_seconds DOUBLE PRECISION NOT NULL,
		penalty_seconds DOUBLE PRECISION NOT NULL,
		total_seconds DOUBLE PRECISION NOT NULL,
		waypoint_seconds DOUBLE PRECISION,
		penalties_json JSONB NOT NULL,
		eliminations_json JSONB NOT NULL,
		penalty_count INTEGER NOT NULL,
		elimination_count INTEGER NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		stopped_at TIMESTAMPTZ NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trials_subject_id ON trials(subject_id);
	CREATE INDEX IF NOT EXISTS idx_trials_submitted_at ON trials(submitted_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *PostgresRepository) SaveTrial(ctx context.Context, record *TrialRecord) error {
	args, err := insertArgs(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trials (id, subject_id, operator, raw_seconds, penalty_seconds, total_seconds,
			waypoint_seconds, penalties_json, eliminations_json, penalty_count, elimination_count,
			started_at, stopped_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *PostgresRepository) TrialsBySubject(ctx context.Context, subjectID string) ([]TrialRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM trials
		WHERE subject_id = $1
		ORDER BY submitted_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrials(rows)
}

func (r *PostgresRepository) RecentTrials(ctx context.Context, subjectID string, since time.Time) ([]TrialRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM trials
		WHERE subject_id = $1 AND submitted_at >= $2
		ORDER BY submitted_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, subjectID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrials(rows)
}

func (r *PostgresRepository) SubjectStats(ctx context.Context, subjectID string) (*SubjectStats, error) {
	query := `SELECT ` + statsColumns + `
		FROM trials
		WHERE subject_id = $1
	`

	return scanStats(r.db.QueryRowContext(ctx, query, subjectID))
}

func (r *PostgresRepository) DeleteTrial(ctx context.Context, subjectID, trialID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trials WHERE id = $1 AND subject_id = $2`, trialID, subjectID)
	if err != nil {
		return err
	}
	return checkDeleted(res)
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
