package domain

import "time"

// Totals is the derived view of a session at one instant.
type Totals struct {
	ElapsedSeconds  float64  `json:"elapsedSeconds"`
	PenaltyCount    int      `json:"penaltyCount"`
	PenaltySeconds  float64  `json:"penaltySeconds"`
	TotalSeconds    float64  `json:"totalSeconds"`
	WaypointSeconds *float64 `json:"waypointSeconds"`
	PenaltyList     []string `json:"penaltyList"`
	EliminationList []string `json:"eliminationList"`
}

// Result is the finalized record handed to a submitter.
type Result struct {
	TrialID                 string    `json:"trialId"`
	SubjectID               string    `json:"subjectId"`
	Operator                string    `json:"operator,omitempty"`
	RawTimeSeconds          float64   `json:"rawTimeSeconds"`
	PenaltySeconds          float64   `json:"penaltySeconds"`
	TotalTimeSeconds        float64   `json:"totalTimeSeconds"`
	PenaltiesList           []string  `json:"penaltiesList"`
	EliminatedObstaclesList []string  `json:"eliminatedObstaclesList"`
	WaypointTimeSeconds     *float64  `json:"waypointTimeSeconds"`
	StartedAt               time.Time `json:"startedAt"`
	StoppedAt               time.Time `json:"stoppedAt"`
}
