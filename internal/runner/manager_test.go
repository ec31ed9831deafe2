package runner_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hperssn/trialclock/internal/domain"
	"github.com/hperssn/trialclock/internal/events"
	"github.com/hperssn/trialclock/internal/runner"
	"github.com/hperssn/trialclock/internal/storage"
	"github.com/hperssn/trialclock/internal/submit"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type stubSubmitter struct {
	mu      sync.Mutex
	err     error
	results []domain.Result
}

func (s *stubSubmitter) Submit(ctx context.Context, r domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return s.err
}

type fixture struct {
	m         *runner.TrialManager
	clock     *clockwork.FakeClock
	publisher *recordingPublisher
	submitter *stubSubmitter
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	f := &fixture{
		clock:     clockwork.NewFakeClock(),
		publisher: &recordingPublisher{},
		submitter: &stubSubmitter{},
	}
	f.m = runner.NewTrialManager(runner.Options{
		Clock:           f.clock,
		DisplayInterval: -1,
		StaleAfter:      time.Hour,
		StrictObstacles: strict,
		Submitter:       f.submitter,
		Publisher:       f.publisher,
	})
	t.Cleanup(f.m.Close)
	return f
}

func (f *fixture) start(t *testing.T, subject string) runner.Frame {
	t.Helper()
	frame, err := f.m.StartTrial(context.Background(), subject, "operator-1")
	if err != nil {
		t.Fatalf("start %s: %v", subject, err)
	}
	return frame
}

func TestTrialManager_StartAndSnapshot(t *testing.T) {
	f := newFixture(t, false)

	frame := f.start(t, "  subject-1 ")
	if frame.TrialID == "" {
		t.Fatalf("expected trial id")
	}
	if frame.SubjectID != "subject-1" {
		t.Fatalf("expected trimmed subject, got %q", frame.SubjectID)
	}
	if frame.State != domain.StateRunning {
		t.Fatalf("expected running, got %s", frame.State)
	}

	f.clock.Advance(2500 * time.Millisecond)

	got, err := f.m.Snapshot(frame.TrialID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got.Elapsed != "00:02.50" {
		t.Fatalf("expected 00:02.50, got %s", got.Elapsed)
	}
	if got.Operator != "operator-1" {
		t.Fatalf("expected operator, got %q", got.Operator)
	}

	if _, ok := f.m.Get(frame.TrialID); !ok {
		t.Fatalf("expected Get to find trial")
	}
	if _, ok := f.m.Get("missing"); ok {
		t.Fatalf("expected Get to miss unknown trial")
	}
}

func TestTrialManager_StartErrors(t *testing.T) {
	f := newFixture(t, false)

	if _, err := f.m.StartTrial(context.Background(), "   ", ""); !errors.Is(err, domain.ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}

	f.start(t, "subject-1")
	if _, err := f.m.StartTrial(context.Background(), "subject-1", ""); !errors.Is(err, runner.ErrSubjectBusy) {
		t.Fatalf("expected ErrSubjectBusy, got %v", err)
	}

	f.start(t, "subject-2")
	if n := len(f.m.List()); n != 2 {
		t.Fatalf("expected 2 live trials, got %d", n)
	}
}

func TestTrialManager_MissingTrial(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["snapshot"] = f.m.Snapshot("nope")
	_, checks["stop"] = f.m.StopTrial(ctx, "nope")
	_, checks["waypoint"] = f.m.ToggleWaypoint("nope")
	_, _, checks["penalty"] = f.m.TogglePenalty("nope", "Zid")
	_, _, checks["elimination"] = f.m.ToggleElimination("nope", "Zid")
	_, checks["submit"] = f.m.SubmitTrial(ctx, "nope")
	checks["reset"] = f.m.ResetTrial(ctx, "nope")
	_, _, checks["subscribe"] = f.m.Subscribe("nope")

	for name, err := range checks {
		if !errors.Is(err, runner.ErrTrialNotFound) {
			t.Errorf("%s: expected ErrTrialNotFound, got %v", name, err)
		}
	}
}

func TestTrialManager_FullRun(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.start(t, "subject-1").TrialID

	f.clock.Advance(10 * time.Second)
	if _, err := f.m.ToggleWaypoint(id); err != nil {
		t.Fatalf("waypoint: %v", err)
	}
	if _, err := f.m.ToggleWaypoint(id); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	_, marked, err := f.m.TogglePenalty(id, "Groapa")
	if err != nil || !marked {
		t.Fatalf("penalty: marked=%v err=%v", marked, err)
	}
	if _, _, err := f.m.ToggleElimination(id, "Zid"); err != nil {
		t.Fatalf("elimination: %v", err)
	}

	f.clock.Advance(5 * time.Second)
	frame, err := f.m.StopTrial(ctx, id)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if frame.Totals.ElapsedSeconds != 15 || frame.Totals.TotalSeconds != 18 {
		t.Fatalf("unexpected totals %+v", frame.Totals)
	}
	if frame.Waypoint != "00:05.00" {
		t.Fatalf("expected waypoint 00:05.00, got %s", frame.Waypoint)
	}
	if frame.Total != "00:18.00" {
		t.Fatalf("expected total 00:18.00, got %s", frame.Total)
	}

	if _, err := f.m.StopTrial(ctx, id); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	// toggles remain allowed after stop
	frame, marked, err = f.m.TogglePenalty(id, "Groapa")
	if err != nil || marked {
		t.Fatalf("unpenalize after stop: marked=%v err=%v", marked, err)
	}
	if frame.Totals.TotalSeconds != 15 {
		t.Fatalf("expected total 15 after removing penalty, got %v", frame.Totals.TotalSeconds)
	}
}

func TestTrialManager_StrictObstacles(t *testing.T) {
	f := newFixture(t, true)
	id := f.start(t, "subject-1").TrialID
	known := domain.DefaultCourse.Obstacles[0]

	if _, _, err := f.m.TogglePenalty(id, "Trambulina"); !errors.Is(err, domain.ErrUnknownObstacle) {
		t.Fatalf("expected ErrUnknownObstacle, got %v", err)
	}
	if _, _, err := f.m.ToggleElimination(id, " "); !errors.Is(err, domain.ErrEmptyLabel) {
		t.Fatalf("expected ErrEmptyLabel, got %v", err)
	}
	if _, marked, err := f.m.TogglePenalty(id, known); err != nil || !marked {
		t.Fatalf("known obstacle: marked=%v err=%v", marked, err)
	}

	lenient := newFixture(t, false)
	lid := lenient.start(t, "subject-1").TrialID
	if _, _, err := lenient.m.TogglePenalty(lid, "Trambulina"); err != nil {
		t.Fatalf("lenient manager rejected label: %v", err)
	}
}

func TestTrialManager_SubmitRequiresStop(t *testing.T) {
	f := newFixture(t, false)
	id := f.start(t, "subject-1").TrialID

	if _, err := f.m.SubmitTrial(context.Background(), id); !errors.Is(err, domain.ErrNotStopped) {
		t.Fatalf("expected ErrNotStopped, got %v", err)
	}
	if len(f.submitter.results) != 0 {
		t.Fatalf("submitter must not be called for a running trial")
	}
}

func TestTrialManager_SubmitFailureKeepsTrial(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.start(t, "subject-1").TrialID

	f.clock.Advance(42 * time.Second)
	f.m.TogglePenalty(id, "Groapa")
	stopped, err := f.m.StopTrial(ctx, id)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	f.submitter.err = &submit.SubmissionError{Kind: submit.KindServer, StatusCode: 500, Err: errors.New("boom")}
	f.clock.Advance(time.Minute)

	if _, err := f.m.SubmitTrial(ctx, id); !errors.Is(err, submit.ErrSubmissionFailed) {
		t.Fatalf("expected submission failure, got %v", err)
	}

	after, err := f.m.Snapshot(id)
	if err != nil {
		t.Fatalf("trial should survive a failed submission: %v", err)
	}
	if after.State != domain.StateStopped {
		t.Fatalf("expected stopped, got %s", after.State)
	}
	if after.Totals.TotalSeconds != stopped.Totals.TotalSeconds || after.Total != stopped.Total {
		t.Fatalf("totals changed after failed submission: %+v vs %+v", after.Totals, stopped.Totals)
	}

	// retry succeeds once the backend recovers
	f.submitter.err = nil
	res, err := f.m.SubmitTrial(ctx, id)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.TotalTimeSeconds != 45 || res.Operator != "operator-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := f.m.Snapshot(id); !errors.Is(err, runner.ErrTrialNotFound) {
		t.Fatalf("expected trial discarded after submit, got %v", err)
	}

	want := []events.Type{events.TrialStarted, events.TrialStopped, events.SubmissionFailed, events.ResultSubmitted}
	got := f.publisher.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

// failingRepository fails the first n saves and then defers to the wrapped
// repository.
type failingRepository struct {
	storage.Repository
	n int
}

func (r *failingRepository) SaveTrial(ctx context.Context, record *storage.TrialRecord) error {
	if r.n > 0 {
		r.n--
		return errors.New("archive down")
	}
	return r.Repository.SaveTrial(ctx, record)
}

type failingOnce struct {
	stubSubmitter
	fail bool
}

func (s *failingOnce) Submit(ctx context.Context, r domain.Result) error {
	s.stubSubmitter.Submit(ctx, r)
	if s.fail {
		s.fail = false
		return &submit.SubmissionError{Kind: submit.KindNetwork, Err: errors.New("connection refused")}
	}
	return nil
}

func TestTrialManager_RetryAfterPartialSubmission(t *testing.T) {
	tests := []struct {
		name            string
		archiveFailures int
		backendFails    bool
		wantBackend     int
	}{
		{"archive fails once", 1, false, 1},
		{"backend fails once", 0, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "trials.db"))
			if err != nil {
				t.Fatalf("open repository: %v", err)
			}
			t.Cleanup(func() { repo.Close() })

			clock := clockwork.NewFakeClock()
			backend := &failingOnce{fail: tt.backendFails}
			archive := submit.NewArchiveSubmitter(&failingRepository{Repository: repo, n: tt.archiveFailures}, clock)
			m := runner.NewTrialManager(runner.Options{
				Clock:           clock,
				DisplayInterval: -1,
				Submitter:       submit.MultiSubmitter{archive, backend},
				Publisher:       &recordingPublisher{},
			})
			t.Cleanup(m.Close)

			ctx := context.Background()
			frame, err := m.StartTrial(ctx, "subject-1", "operator-1")
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			clock.Advance(30 * time.Second)
			if _, err := m.StopTrial(ctx, frame.TrialID); err != nil {
				t.Fatalf("stop: %v", err)
			}

			if _, err := m.SubmitTrial(ctx, frame.TrialID); !errors.Is(err, submit.ErrSubmissionFailed) {
				t.Fatalf("expected first submission to fail, got %v", err)
			}
			if _, err := m.SubmitTrial(ctx, frame.TrialID); err != nil {
				t.Fatalf("retry: %v", err)
			}

			if got := len(backend.results); got != tt.wantBackend {
				t.Fatalf("expected %d backend calls, got %d", tt.wantBackend, got)
			}
			archived, err := repo.TrialsBySubject(ctx, "subject-1")
			if err != nil {
				t.Fatalf("list archive: %v", err)
			}
			if len(archived) != 1 {
				t.Fatalf("expected 1 archived trial, got %d", len(archived))
			}
		})
	}
}

func TestTrialManager_SubjectFreeAfterSubmit(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.start(t, "subject-1").TrialID

	if _, err := f.m.StopTrial(ctx, id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := f.m.StartTrial(ctx, "subject-1", ""); !errors.Is(err, runner.ErrSubjectBusy) {
		t.Fatalf("stopped trial should still hold the subject, got %v", err)
	}
	if _, err := f.m.SubmitTrial(ctx, id); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.start(t, "subject-1")
}

func TestTrialManager_Reset(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := f.start(t, "subject-1").TrialID

	if err := f.m.ResetTrial(ctx, id); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.m.Snapshot(id); !errors.Is(err, runner.ErrTrialNotFound) {
		t.Fatalf("expected trial gone, got %v", err)
	}
	if len(f.m.List()) != 0 {
		t.Fatalf("expected no live trials")
	}
	types := f.publisher.types()
	if types[len(types)-1] != events.TrialAbandoned {
		t.Fatalf("expected TrialAbandoned last, got %v", types)
	}
	f.start(t, "subject-1")
}

func TestTrialManager_CleanupStale(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	running := f.start(t, "runner").TrialID
	stopped := f.start(t, "stopper").TrialID
	if _, err := f.m.StopTrial(ctx, stopped); err != nil {
		t.Fatalf("stop: %v", err)
	}

	f.clock.Advance(30 * time.Minute)
	if n := f.m.CleanupStale(ctx); n != 0 {
		t.Fatalf("nothing is stale yet, discarded %d", n)
	}

	f.clock.Advance(31 * time.Minute)
	if n := f.m.CleanupStale(ctx); n != 1 {
		t.Fatalf("expected one stale trial, discarded %d", n)
	}
	if _, err := f.m.Snapshot(stopped); !errors.Is(err, runner.ErrTrialNotFound) {
		t.Fatalf("stopped trial should be discarded")
	}
	if _, err := f.m.Snapshot(running); err != nil {
		t.Fatalf("running trial must never be discarded: %v", err)
	}
}

func TestTrialManager_ListOrder(t *testing.T) {
	f := newFixture(t, false)

	first := f.start(t, "a").TrialID
	f.clock.Advance(time.Second)
	second := f.start(t, "b").TrialID

	list := f.m.List()
	if len(list) != 2 || list[0].TrialID != first || list[1].TrialID != second {
		t.Fatalf("expected oldest first, got %+v", list)
	}
}
