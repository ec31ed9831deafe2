package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hperssn/trialclock/internal/domain"
)

var ErrNotFound = errors.New("trial record not found")

// TrialRecord is an archived trial result.
type TrialRecord struct {
	ID               string    `json:"id"`
	SubjectID        string    `json:"subjectId"`
	Operator         string    `json:"operator,omitempty"`
	RawTimeSeconds   float64   `json:"rawTimeSeconds"`
	PenaltySeconds   float64   `json:"penaltySeconds"`
	TotalTimeSeconds float64   `json:"totalTimeSeconds"`
	WaypointSeconds  *float64  `json:"waypointTimeSeconds"`
	Penalties        []string  `json:"penaltiesList"`
	Eliminations     []string  `json:"eliminatedObstaclesList"`
	StartedAt        time.Time `json:"startedAt"`
	StoppedAt        time.Time `json:"stoppedAt"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

// FromResult converts a finalized trial result into a record.
func FromResult(r domain.Result, submittedAt time.Time) *TrialRecord {
	return &TrialRecord{
		ID:               r.TrialID,
		SubjectID:        r.SubjectID,
		Operator:         r.Operator,
		RawTimeSeconds:   r.RawTimeSeconds,
		PenaltySeconds:   r.PenaltySeconds,
		TotalTimeSeconds: r.TotalTimeSeconds,
		WaypointSeconds:  r.WaypointTimeSeconds,
		Penalties:        nonNil(r.PenaltiesList),
		Eliminations:     nonNil(r.EliminatedObstaclesList),
		StartedAt:        r.StartedAt,
		StoppedAt:        r.StoppedAt,
		SubmittedAt:      submittedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func encodeLabels(labels []string) ([]byte, error) {
	return json.Marshal(nonNil(labels))
}

func decodeLabels(data []byte) ([]string, error) {
	var labels []string
	if len(data) == 0 {
		return []string{}, nil
	}
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, err
	}
	return nonNil(labels), nil
}
