package storage

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	// SaveTrial stores record once. Saving an id that already exists is a
	// no-op and keeps the first copy.
	SaveTrial(ctx context.Context, record *TrialRecord) error

	TrialsBySubject(ctx context.Context, subjectID string) ([]TrialRecord, error)

	RecentTrials(ctx context.Context, subjectID string, since time.Time) ([]TrialRecord, error)

	SubjectStats(ctx context.Context, subjectID string) (*SubjectStats, error)

	DeleteTrial(ctx context.Context, subjectID, trialID string) error

	Close() error
}

type SubjectStats struct {
	TotalTrials           int      `json:"totalTrials"`
	CleanTrials           int      `json:"cleanTrials"`
	BestTotalSeconds      *float64 `json:"bestTotalSeconds"`
	AverageTotalSeconds   float64  `json:"averageTotalSeconds"`
	AveragePenaltySeconds float64  `json:"averagePenaltySeconds"`
	CleanRate             float64  `json:"cleanRate"`
}

// A clean trial has no penalties and no eliminations.
const statsColumns = `
	COUNT(*) as total,
	COALESCE(SUM(CASE WHEN penalty_count = 0 AND elimination_count = 0 THEN 1 ELSE 0 END), 0) as clean,
	MIN(total_seconds) as best,
	AVG(total_seconds) as avg_total,
	AVG(penalty_seconds) as avg_penalty`

const selectColumns = `id, subject_id, operator, raw_seconds, penalty_seconds, total_seconds,
	waypoint_seconds, penalties_json, eliminations_json, started_at, stopped_at, submitted_at`

func scanStats(row *sql.Row) (*SubjectStats, error) {
	var stats SubjectStats
	var best, avgTotal, avgPenalty sql.NullFloat64

	err := row.Scan(
		&stats.TotalTrials,
		&stats.CleanTrials,
		&best,
		&avgTotal,
		&avgPenalty,
	)
	if err != nil {
		return nil, err
	}

	if best.Valid {
		v := best.Float64
		stats.BestTotalSeconds = &v
	}
	if avgTotal.Valid {
		stats.AverageTotalSeconds = avgTotal.Float64
	}
	if avgPenalty.Valid {
		stats.AveragePenaltySeconds = avgPenalty.Float64
	}
	if stats.TotalTrials > 0 {
		stats.CleanRate = float64(stats.CleanTrials) / float64(stats.TotalTrials) * 100
	}

	return &stats, nil
}

func scanTrials(rows *sql.Rows) ([]TrialRecord, error) {
	records := []TrialRecord{}

	for rows.Next() {
		var record TrialRecord
		var waypoint sql.NullFloat64
		var penaltiesJSON, eliminationsJSON []byte

		err := rows.Scan(
			&record.ID,
			&record.SubjectID,
			&record.Operator,
			&record.RawTimeSeconds,
			&record.PenaltySeconds,
			&record.TotalTimeSeconds,
			&waypoint,
			&penaltiesJSON,
			&eliminationsJSON,
			&record.StartedAt,
			&record.StoppedAt,
			&record.SubmittedAt,
		)
		if err != nil {
			return nil, err
		}

		if waypoint.Valid {
			v := waypoint.Float64
			record.WaypointSeconds = &v
		}
		if record.Penalties, err = decodeLabels(penaltiesJSON); err != nil {
			return nil, err
		}
		if record.Eliminations, err = decodeLabels(eliminationsJSON); err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

func insertArgs(record *TrialRecord) ([]any, error) {
	penalties, err := encodeLabels(record.Penalties)
	if err != nil {
		return nil, err
	}
	eliminations, err := encodeLabels(record.Eliminations)
	if err != nil {
		return nil, err
	}

	var waypoint sql.NullFloat64
	if record.WaypointSeconds != nil {
		waypoint = sql.NullFloat64{Float64: *record.WaypointSeconds, Valid: true}
	}

	return []any{
		record.ID,
		record.SubjectID,
		record.Operator,
		record.RawTimeSeconds,
		record.PenaltySeconds,
		record.TotalTimeSeconds,
		waypoint,
		string(penalties),
		string(eliminations),
		len(record.Penalties),
		len(record.Eliminations),
		record.StartedAt.UTC(),
		record.StoppedAt.UTC(),
		record.SubmittedAt.UTC(),
	}, nil
}

func checkDeleted(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
