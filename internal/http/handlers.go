package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hperssn/trialclock/internal/domain"
	"github.com/hperssn/trialclock/internal/runner"
	"github.com/hperssn/trialclock/internal/submit"
)

// CandidateLister lists the subjects a trial can be started for.
type CandidateLister interface {
	ListCandidates(ctx context.Context) ([]submit.Candidate, error)
}

type startRequest struct {
	SubjectID string `json:"subjectId"`
}

type obstacleRequest struct {
	Obstacle string `json:"obstacle"`
}

type toggleResponse struct {
	Obstacle string       `json:"obstacle"`
	Marked   bool         `json:"marked"`
	Trial    runner.Frame `json:"trial"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func (s *Server) startTrial(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	frame, err := s.manager.StartTrial(r.Context(), req.SubjectID, IdentityFrom(r).UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, frame, http.StatusCreated)
}

func (s *Server) listTrials(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.manager.List(), http.StatusOK)
}

func (s *Server) getTrial(w http.ResponseWriter, r *http.Request) {
	frame, err := s.manager.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, frame, http.StatusOK)
}

func (s *Server) stopTrial(w http.ResponseWriter, r *http.Request) {
	frame, err := s.manager.StopTrial(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, frame, http.StatusOK)
}

func (s *Server) toggleWaypoint(w http.ResponseWriter, r *http.Request) {
	frame, err := s.manager.ToggleWaypoint(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, frame, http.StatusOK)
}

func (s *Server) togglePenalty(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.manager.TogglePenalty)
}

func (s *Server) toggleElimination(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, s.manager.ToggleElimination)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, fn func(id, obstacle string) (runner.Frame, bool, error)) {
	var req obstacleRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	frame, marked, err := fn(chi.URLParam(r, "id"), req.Obstacle)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, toggleResponse{Obstacle: req.Obstacle, Marked: marked, Trial: frame}, http.StatusOK)
}

func (s *Server) submitTrial(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.SubmitTrial(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *Server) resetTrial(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ResetTrial(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getCourse(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.manager.Course(), http.StatusOK)
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	if s.candidates == nil {
		respondError(w, errBackendDisabled)
		return
	}

	candidates, err := s.candidates.ListCandidates(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if candidates == nil {
		candidates = []submit.Candidate{}
	}
	respondJSON(w, candidates, http.StatusOK)
}

// subjectTrials lists archived trials of a subject, newest first. An optional
// since query parameter (RFC 3339) narrows the window.
func (s *Server) subjectTrials(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		respondError(w, errStorageDisabled)
		return
	}
	subjectID := chi.URLParam(r, "id")

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, fmt.Errorf("%w: since must be RFC 3339", errBadBody))
			return
		}
		records, err := s.repo.RecentTrials(r.Context(), subjectID, since)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, records, http.StatusOK)
		return
	}

	records, err := s.repo.TrialsBySubject(r.Context(), subjectID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, records, http.StatusOK)
}

func (s *Server) subjectStats(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		respondError(w, errStorageDisabled)
		return
	}

	stats, err := s.repo.SubjectStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, stats, http.StatusOK)
}

func (s *Server) deleteArchivedTrial(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		respondError(w, errStorageDisabled)
		return
	}

	if err := s.repo.DeleteTrial(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "trialId")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status      string `json:"status"`
	LiveTrials  int    `json:"liveTrials"`
	Viewers     int64  `json:"viewers"`
	PenaltyUnit string `json:"penaltyUnit"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, healthResponse{
		Status:      "ok",
		LiveTrials:  len(s.manager.List()),
		Viewers:     s.socket.Connections(),
		PenaltyUnit: domain.PenaltyPerEvent.String(),
	}, http.StatusOK)
}
