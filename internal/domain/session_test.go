package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const tolerance = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func newTestSession() (*Session, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewSession("trial-1", clock), clock
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewSessionGeneratesID(t *testing.T) {
	s := NewSession("", nil)
	if s.ID == "" {
		t.Fatalf("expected generated id")
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s, want idle", s.State())
	}
}

func TestStartRequiresSubject(t *testing.T) {
	for _, subject := range []string{"", "   "} {
		s, _ := newTestSession()
		if err := s.Start(subject); !errors.Is(err, ErrMissingSubject) {
			t.Fatalf("Start(%q) err = %v, want ErrMissingSubject", subject, err)
		}
		if s.State() != StateIdle {
			t.Fatalf("state = %s, want idle", s.State())
		}
	}
}

func TestStartTwiceRejected(t *testing.T) {
	s, clock := newTestSession()
	if err := s.Start("subject-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := s.TogglePenalty("A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Start("subject-1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if !s.IsPenalized("A") {
		t.Fatalf("rejected start must not clear penalties")
	}
	if got := s.Elapsed(); got != 2*time.Second {
		t.Fatalf("elapsed = %v, want 2s", got)
	}
}

func TestStartAgainAfterStopDiscardsRun(t *testing.T) {
	s, clock := newTestSession()
	_ = s.Start("subject-1")
	_ = s.ToggleWaypoint()
	_, _ = s.TogglePenalty("A")
	clock.Advance(10 * time.Second)
	_ = s.Stop()

	if err := s.Start("subject-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	totals := s.Totals()
	if totals.ElapsedSeconds != 0 || totals.PenaltyCount != 0 || totals.WaypointSeconds != nil {
		t.Fatalf("expected fresh run, got %+v", totals)
	}
}

func TestTogglesRequireStart(t *testing.T) {
	s, _ := newTestSession()
	if _, err := s.TogglePenalty("A"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("TogglePenalty err = %v, want ErrNotStarted", err)
	}
	if _, err := s.ToggleElimination("A"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("ToggleElimination err = %v, want ErrNotStarted", err)
	}
	if err := s.ToggleWaypoint(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("ToggleWaypoint err = %v, want ErrNotRunning", err)
	}
}

func TestToggleEmptyLabel(t *testing.T) {
	s, _ := newTestSession()
	_ = s.Start("subject-1")
	if _, err := s.TogglePenalty(" "); !errors.Is(err, ErrEmptyLabel) {
		t.Fatalf("err = %v, want ErrEmptyLabel", err)
	}
}

func TestTogglePenaltyAlternates(t *testing.T) {
	s, _ := newTestSession()
	_ = s.Start("subject-1")

	for i := 1; i <= 7; i++ {
		present, err := s.TogglePenalty("A")
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		want := i%2 == 1
		if present != want || s.IsPenalized("A") != want {
			t.Fatalf("after %d toggles present = %v, want %v", i, present, want)
		}
	}
}

func TestTogglePenaltyTwiceIsNoop(t *testing.T) {
	s, _ := newTestSession()
	_ = s.Start("subject-1")
	_, _ = s.TogglePenalty("A")
	_, _ = s.TogglePenalty("A")

	if got := s.Totals().PenaltyList; len(got) != 0 {
		t.Fatalf("penalty list = %v, want empty", got)
	}
}

func TestPenaltyAndEliminationAreIndependent(t *testing.T) {
	s, _ := newTestSession()
	_ = s.Start("subject-1")
	_, _ = s.TogglePenalty("A")
	_, _ = s.ToggleElimination("A")
	_, _ = s.ToggleElimination("B")
	_, _ = s.TogglePenalty("C")

	totals := s.Totals()
	if !equalLabels(totals.PenaltyList, []string{"A", "C"}) {
		t.Fatalf("penalties = %v", totals.PenaltyList)
	}
	if !equalLabels(totals.EliminationList, []string{"A", "B"}) {
		t.Fatalf("eliminations = %v", totals.EliminationList)
	}
}

func TestTogglesAllowedAfterStop(t *testing.T) {
	s, clock := newTestSession()
	_ = s.Start("subject-1")
	clock.Advance(30 * time.Second)
	_ = s.Stop()

	if _, err := s.TogglePenalty("A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(time.Minute)

	totals := s.Totals()
	if !approx(totals.ElapsedSeconds, 30) {
		t.Fatalf("elapsed = %v, want 30 frozen", totals.ElapsedSeconds)
	}
	if !approx(totals.TotalSeconds, 33) {
		t.Fatalf("total = %v, want 33", totals.TotalSeconds)
	}
}

func TestStopOnlyWhenRunning(t *testing.T) {
	s, clock := newTestSession()
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("idle stop err = %v, want ErrNotRunning", err)
	}

	_ = s.Start("subject-1")
	clock.Advance(5 * time.Second)
	_ = s.Stop()
	clock.Advance(5 * time.Second)

	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second stop err = %v, want ErrNotRunning", err)
	}
	if got := s.Elapsed(); got != 5*time.Second {
		t.Fatalf("elapsed = %v, want 5s", got)
	}
}

func TestElapsedComputedFromStartInstant(t *testing.T) {
	s, clock := newTestSession()
	_ = s.Start("subject-1")

	for i := 0; i < 1000; i++ {
		clock.Advance(37 * time.Millisecond)
		_ = s.Totals()
	}
	if got := s.Elapsed(); got != 37*time.Second {
		t.Fatalf("elapsed = %v, want 37s", got)
	}
}

func TestTotalIsElapsedPlusPenalties(t *testing.T) {
	s, clock := newTestSession()
	_ = s.Start("subject-1")

	labels := []string{"A", "B", "A", "C", "D", "B"}
	for _, l := range labels {
		clock.Advance(1234 * time.Millisecond)
		_, _ = s.TogglePenalty(l)
		totals := s.Totals()
		want := totals.ElapsedSeconds + 3*float64(len(totals.PenaltyList))
		if totals.TotalSeconds != want {
			t.Fatalf("total = %v, want %v", totals.TotalSeconds, want)
		}
		if totals.PenaltyCount != len(totals.PenaltyList) {
			t.Fatalf("penalty count = %d, list = %v", totals.PenaltyCount, totals.PenaltyList)
		}
	}
}

func TestResetFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Session, clock *clockwork.FakeClock)
	}{
		{"idle", func(s *Session, clock *clockwork.FakeClock) {}},
		{"running", func(s *Session, clock *clockwork.FakeClock) {
			_ = s.Start("subject-1")
			_ = s.ToggleWaypoint()
			_, _ = s.TogglePenalty("A")
			clock.Advance(3 * time.Second)
		}},
		{"stopped", func(s *Session, clock *clockwork.FakeClock) {
			_ = s.Start("subject-1")
			_, _ = s.ToggleElimination("B")
			clock.Advance(3 * time.Second)
			_ = s.Stop()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestSession()
			tt.setup(s, clock)
			s.Reset()

			totals := s.Totals()
			if s.State() != StateIdle {
				t.Fatalf("state = %s, want idle", s.State())
			}
			if totals.ElapsedSeconds != 0 || len(totals.PenaltyList) != 0 || len(totals.EliminationList) != 0 {
				t.Fatalf("expected cleared totals, got %+v", totals)
			}
			if s.WaypointState() != WaypointNotStarted {
				t.Fatalf("waypoint = %s, want not_started", s.WaypointState())
			}
			if s.SubjectID() != "" {
				t.Fatalf("subject = %q, want empty", s.SubjectID())
			}
		})
	}
}

func TestScenarioPenaltyAndElimination(t *testing.T) {
	s, clock := newTestSession()
	_ = s.Start("subject-1")

	clock.Advance(12300 * time.Millisecond)
	_, _ = s.TogglePenalty("A")
	_, _ = s.ToggleElimination("B")
	clock.Advance(27700 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := s.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(res.RawTimeSeconds, 40) {
		t.Fatalf("raw = %v, want 40", res.RawTimeSeconds)
	}
	if res.PenaltySeconds != 3 {
		t.Fatalf("penalty = %v, want 3", res.PenaltySeconds)
	}
	if !approx(res.TotalTimeSeconds, 43) {
		t.Fatalf("total = %v, want 43", res.TotalTimeSeconds)
	}
	if !equalLabels(res.PenaltiesList, []string{"A"}) || !equalLabels(res.EliminatedObstaclesList, []string{"B"}) {
		t.Fatalf("lists = %v / %v", res.PenaltiesList, res.EliminatedObstaclesList)
	}
	if res.WaypointTimeSeconds != nil {
		t.Fatalf("waypoint = %v, want nil", *res.WaypointTimeSeconds)
	}
	if res.SubjectID != "subject-1" || res.TrialID != "trial-1" {
		t.Fatalf("ids = %q / %q", res.SubjectID, res.TrialID)
	}
}

func TestScenarioWaypointCapturedOnStop(t *testing.T) {
	s, clock := newTestSession()
	_ = s.Start("subject-1")
	clock.Advance(5 * time.Second)
	if err := s.ToggleWaypoint(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ToggleWaypoint(); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}
	clock.Advance(15 * time.Second)
	_ = s.Stop()
	clock.Advance(time.Minute)

	if s.WaypointState() != WaypointCaptured {
		t.Fatalf("waypoint = %s, want captured", s.WaypointState())
	}
	wp := s.Totals().WaypointSeconds
	if wp == nil || !approx(*wp, 15) {
		t.Fatalf("waypoint seconds = %v, want 15", wp)
	}
}

func TestResultRequiresStop(t *testing.T) {
	s, _ := newTestSession()
	if _, err := s.Result(); !errors.Is(err, ErrNotStopped) {
		t.Fatalf("err = %v, want ErrNotStopped", err)
	}
	_ = s.Start("subject-1")
	if _, err := s.Result(); !errors.Is(err, ErrNotStopped) {
		t.Fatalf("err = %v, want ErrNotStopped", err)
	}
}

func TestResultListsAreCopies(t *testing.T) {
	s, _ := newTestSession()
	_ = s.Start("subject-1")
	_, _ = s.TogglePenalty("A")
	_ = s.Stop()

	res, _ := s.Result()
	res.PenaltiesList[0] = "mutated"
	if !s.IsPenalized("A") {
		t.Fatalf("session state leaked through result")
	}
}
