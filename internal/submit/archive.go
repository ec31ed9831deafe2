package submit

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/hperssn/trialclock/internal/domain"
	"github.com/hperssn/trialclock/internal/storage"
)

// ArchiveSubmitter keeps a local copy of every submitted result.
type ArchiveSubmitter struct {
	repo  storage.Repository
	clock clockwork.Clock
}

func NewArchiveSubmitter(repo storage.Repository, clock clockwork.Clock) *ArchiveSubmitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ArchiveSubmitter{repo: repo, clock: clock}
}

func (a *ArchiveSubmitter) Submit(ctx context.Context, result domain.Result) error {
	if err := a.repo.SaveTrial(ctx, storage.FromResult(result, a.clock.Now())); err != nil {
		return &SubmissionError{Kind: KindServer, Err: fmt.Errorf("archive trial %s: %w", result.TrialID, err)}
	}
	return nil
}
