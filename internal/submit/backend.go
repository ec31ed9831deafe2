package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hperssn/trialclock/internal/domain"
)

const (
	simulationsEndpoint = "/api/simulations"
	candidatesEndpoint  = "/api/users/candidates"
)

// BackendClient talks to the user and simulation backend.
type BackendClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewBackendClient(baseURL, token string, timeout time.Duration) *BackendClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// simulationRequest is the body the backend expects. Times are in seconds;
// javelinTime carries the waypoint and is null when it was never started.
type simulationRequest struct {
	UserID                  string   `json:"userId"`
	RawTime                 float64  `json:"rawTime"`
	PenaltyTime             float64  `json:"penaltyTime"`
	TotalTime               float64  `json:"totalTime"`
	PenaltiesList           []string `json:"penaltiesList"`
	EliminatedObstaclesList []string `json:"eliminatedObstaclesList"`
	JavelinTime             *float64 `json:"javelinTime"`
}

func newSimulationRequest(r domain.Result) simulationRequest {
	req := simulationRequest{
		UserID:                  r.SubjectID,
		RawTime:                 r.RawTimeSeconds,
		PenaltyTime:             r.PenaltySeconds,
		TotalTime:               r.TotalTimeSeconds,
		PenaltiesList:           r.PenaltiesList,
		EliminatedObstaclesList: r.EliminatedObstaclesList,
		JavelinTime:             r.WaypointTimeSeconds,
	}
	if req.PenaltiesList == nil {
		req.PenaltiesList = []string{}
	}
	if req.EliminatedObstaclesList == nil {
		req.EliminatedObstaclesList = []string{}
	}
	return req
}

func (c *BackendClient) Submit(ctx context.Context, result domain.Result) error {
	body, err := json.Marshal(newSimulationRequest(result))
	if err != nil {
		return &SubmissionError{Kind: KindValidation, Err: fmt.Errorf("encode result: %w", err)}
	}
	_, err = c.do(ctx, http.MethodPost, simulationsEndpoint, bytes.NewReader(body))
	return err
}

type Candidate struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// ListCandidates returns the subjects a trial can be started for.
func (c *BackendClient) ListCandidates(ctx context.Context) ([]Candidate, error) {
	data, err := c.do(ctx, http.MethodGet, candidatesEndpoint, nil)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, &SubmissionError{Kind: KindServer, Err: fmt.Errorf("decode candidates: %w", err)}
	}
	return candidates, nil
}

func (c *BackendClient) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, &SubmissionError{Kind: KindNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SubmissionError{Kind: KindNetwork, Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SubmissionError{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SubmissionError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody))),
		}
	}

	return responseBody, nil
}
