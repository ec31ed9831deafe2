package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/hperssn/trialclock/internal/domain"
)

// ErrSubmissionFailed matches every error returned by a Submitter.
var ErrSubmissionFailed = errors.New("result submission failed")

// Submitter persists a finalized trial result.
type Submitter interface {
	Submit(ctx context.Context, result domain.Result) error
}

type Kind string

const (
	KindNetwork      Kind = "network"
	KindUnauthorized Kind = "unauthorized"
	KindValidation   Kind = "validation"
	KindServer       Kind = "server"
)

// SubmissionError describes why a result was not accepted.
type SubmissionError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submission failed (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submission failed (%s): %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

// KindOf returns the kind of a submission error, or "" when err is not one.
func KindOf(err error) Kind {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func kindForStatus(code int) Kind {
	switch code {
	case 401, 403:
		return KindUnauthorized
	case 400, 404, 422:
		return KindValidation
	default:
		return KindServer
	}
}

// MultiSubmitter submits to each submitter in order and stops at the first
// failure. A retry replays every submitter, so all but the last must accept
// the same result twice.
type MultiSubmitter []Submitter

func (m MultiSubmitter) Submit(ctx context.Context, result domain.Result) error {
	for _, s := range m {
		if err := s.Submit(ctx, result); err != nil {
			return err
		}
	}
	return nil
}
