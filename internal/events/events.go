package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names a trial lifecycle event.
type Type string

const (
	TrialStarted     Type = "TrialStarted"
	TrialStopped     Type = "TrialStopped"
	ResultSubmitted  Type = "ResultSubmitted"
	SubmissionFailed Type = "SubmissionFailed"
	TrialAbandoned   Type = "TrialAbandoned"
)

// Event is the envelope published for every lifecycle change of a trial.
type Event struct {
	ID         uuid.UUID       `json:"eventId"`
	Type       Type            `json:"eventType"`
	TrialID    string          `json:"trialId"`
	SubjectID  string          `json:"subjectId"`
	Operator   string          `json:"operator,omitempty"`
	OccurredAt time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Publisher delivers lifecycle events to whoever listens downstream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// New builds an event with a fresh id. A nil payload leaves Payload empty.
func New(t Type, trialID, subjectID, operator string, at time.Time, payload any) (Event, error) {
	ev := Event{
		ID:         uuid.New(),
		Type:       t,
		TrialID:    trialID,
		SubjectID:  subjectID,
		Operator:   operator,
		OccurredAt: at.UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Event payloads shared between the trial manager and downstream consumers.

type StartedPayload struct {
	StartedAt time.Time `json:"startedAt"`
}

type StoppedPayload struct {
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	TotalSeconds   float64 `json:"totalSeconds"`
	Formatted      string  `json:"formatted"`
}

type SubmittedPayload struct {
	RawTimeSeconds   float64  `json:"rawTimeSeconds"`
	PenaltySeconds   float64  `json:"penaltySeconds"`
	TotalTimeSeconds float64  `json:"totalTimeSeconds"`
	Penalties        []string `json:"penaltiesList"`
	Eliminated       []string `json:"eliminatedObstaclesList"`
	WaypointSeconds  *float64 `json:"waypointTimeSeconds"`
}

type FailedPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type AbandonedPayload struct {
	Reason string `json:"reason"`
}
