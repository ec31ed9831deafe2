package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hperssn/trialclock/internal/domain"
	"github.com/hperssn/trialclock/internal/runner"
	"github.com/hperssn/trialclock/internal/storage"
	"github.com/hperssn/trialclock/internal/submit"
)

var (
	errBadBody         = errors.New("invalid request body")
	errStorageDisabled = errors.New("trial archive is not enabled")
	errBackendDisabled = errors.New("backend is not configured")
	errUnauthenticated = errors.New("unauthorized")
	errForbidden       = errors.New("operator role required")
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	respondJSON(w, errorResponse{Error: err.Error(), Code: code}, status)
}

// classify maps an error to its HTTP status and a stable machine code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrMissingSubject):
		return http.StatusBadRequest, "missing_subject"
	case errors.Is(err, domain.ErrEmptyLabel):
		return http.StatusBadRequest, "empty_label"
	case errors.Is(err, domain.ErrUnknownObstacle):
		return http.StatusBadRequest, "unknown_obstacle"
	case errors.Is(err, domain.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid_format"

	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"

	case errors.Is(err, runner.ErrTrialNotFound):
		return http.StatusNotFound, "trial_not_found"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "record_not_found"

	case errors.Is(err, domain.ErrAlreadyRunning):
		return http.StatusConflict, "already_running"
	case errors.Is(err, domain.ErrNotRunning):
		return http.StatusConflict, "not_running"
	case errors.Is(err, domain.ErrAlreadyActive):
		return http.StatusConflict, "already_active"
	case errors.Is(err, domain.ErrNotStarted):
		return http.StatusConflict, "not_started"
	case errors.Is(err, domain.ErrNotStopped):
		return http.StatusConflict, "not_stopped"
	case errors.Is(err, runner.ErrSubjectBusy):
		return http.StatusConflict, "subject_busy"
	case errors.Is(err, runner.ErrSubmitInProgress):
		return http.StatusConflict, "submit_in_progress"

	case errors.Is(err, submit.ErrSubmissionFailed):
		kind := submit.KindOf(err)
		if kind == submit.KindUnauthorized {
			return http.StatusUnauthorized, "submission_unauthorized"
		}
		if kind == "" {
			return http.StatusBadGateway, "submission_failed"
		}
		return http.StatusBadGateway, "submission_" + string(kind)

	case errors.Is(err, runner.ErrNoSubmitter), errors.Is(err, errStorageDisabled), errors.Is(err, errBackendDisabled):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
