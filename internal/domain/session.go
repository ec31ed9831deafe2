package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// PenaltyPerEvent is the time added to the total for every penalized obstacle.
const PenaltyPerEvent = 3 * time.Second

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is the timer engine for one obstacle-course trial.
//
// Elapsed time is never accumulated by ticking. While running it is derived
// from the start instant on every read, and it is frozen once on Stop.
// A Session is not safe for concurrent use; callers serialise access.
type Session struct {
	ID string

	clock     clockwork.Clock
	subjectID string
	state     State
	startedAt time.Time
	stoppedAt time.Time
	elapsed   time.Duration

	penalties    labelSet
	eliminations labelSet
	waypoint     waypoint
}

// NewSession returns an idle session. An empty id gets a fresh UUID and a nil
// clock falls back to the real wall clock.
func NewSession(id string, clock clockwork.Clock) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{ID: id, clock: clock}
}

func (s *Session) SubjectID() string { return s.subjectID }

func (s *Session) State() State { return s.state }

func (s *Session) WaypointState() WaypointState { return s.waypoint.state }

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) StoppedAt() time.Time { return s.stoppedAt }

// IsPenalized reports whether label is currently in the penalty set.
func (s *Session) IsPenalized(label string) bool {
	return s.penalties.contains(strings.TrimSpace(label))
}

func (s *Session) IsEliminated(label string) bool {
	return s.eliminations.contains(strings.TrimSpace(label))
}

// Start begins a run for subjectID. A stopped session may be started again,
// which discards the previous run.
func (s *Session) Start(subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return ErrMissingSubject
	}
	if s.state == StateRunning {
		return ErrAlreadyRunning
	}

	s.clear()
	s.subjectID = subjectID
	s.startedAt = s.clock.Now()
	s.state = StateRunning
	return nil
}

// ToggleWaypoint starts the secondary waypoint timer. It can only be started
// once per run; Stop captures it.
func (s *Session) ToggleWaypoint() error {
	if s.state != StateRunning {
		return ErrNotRunning
	}
	if s.waypoint.state != WaypointNotStarted {
		return ErrAlreadyActive
	}
	s.waypoint.start(s.clock.Now())
	return nil
}

// TogglePenalty adds label to the penalized obstacles, or removes it when it
// is already there. It reports whether the label is penalized afterwards.
func (s *Session) TogglePenalty(label string) (bool, error) {
	if err := s.checkToggle(label); err != nil {
		return false, err
	}
	return s.penalties.toggle(strings.TrimSpace(label)), nil
}

// ToggleElimination has the same contract as TogglePenalty against the
// independent set of eliminated obstacles.
func (s *Session) ToggleElimination(label string) (bool, error) {
	if err := s.checkToggle(label); err != nil {
		return false, err
	}
	return s.eliminations.toggle(strings.TrimSpace(label)), nil
}

func (s *Session) checkToggle(label string) error {
	if s.state == StateIdle {
		return ErrNotStarted
	}
	if strings.TrimSpace(label) == "" {
		return ErrEmptyLabel
	}
	return nil
}

// Stop freezes the main clock and, if it is running, the waypoint clock.
func (s *Session) Stop() error {
	if s.state != StateRunning {
		return ErrNotRunning
	}
	now := s.clock.Now()
	s.elapsed = nonNegative(now.Sub(s.startedAt))
	s.stoppedAt = now
	if s.waypoint.state == WaypointRunning {
		s.waypoint.capture(now)
	}
	s.state = StateStopped
	return nil
}

// Reset returns the session to idle and drops everything it recorded.
func (s *Session) Reset() {
	s.clear()
}

func (s *Session) clear() {
	s.subjectID = ""
	s.state = StateIdle
	s.startedAt = time.Time{}
	s.stoppedAt = time.Time{}
	s.elapsed = 0
	s.penalties = labelSet{}
	s.eliminations = labelSet{}
	s.waypoint = waypoint{}
}

// Elapsed is the raw trial time without penalties.
func (s *Session) Elapsed() time.Duration {
	return s.elapsedAt(s.clock.Now())
}

func (s *Session) elapsedAt(now time.Time) time.Duration {
	switch s.state {
	case StateRunning:
		return nonNegative(now.Sub(s.startedAt))
	case StateStopped:
		return s.elapsed
	default:
		return 0
	}
}

// Totals derives the current figures. It never mutates the session.
func (s *Session) Totals() Totals {
	now := s.clock.Now()
	elapsed := s.elapsedAt(now)
	count := s.penalties.len()

	t := Totals{
		ElapsedSeconds:  elapsed.Seconds(),
		PenaltyCount:    count,
		PenaltySeconds:  float64(count) * PenaltyPerEvent.Seconds(),
		WaypointSeconds: s.waypoint.seconds(now),
		PenaltyList:     s.penalties.list(),
		EliminationList: s.eliminations.list(),
	}
	t.TotalSeconds = t.ElapsedSeconds + t.PenaltySeconds
	return t
}

// Result packages a stopped run for submission.
func (s *Session) Result() (Result, error) {
	if s.state != StateStopped {
		return Result{}, ErrNotStopped
	}
	t := s.Totals()
	return Result{
		TrialID:                 s.ID,
		SubjectID:               s.subjectID,
		RawTimeSeconds:          t.ElapsedSeconds,
		PenaltySeconds:          t.PenaltySeconds,
		TotalTimeSeconds:        t.TotalSeconds,
		PenaltiesList:           t.PenaltyList,
		EliminatedObstaclesList: t.EliminationList,
		WaypointTimeSeconds:     t.WaypointSeconds,
		StartedAt:               s.startedAt,
		StoppedAt:               s.stoppedAt,
	}, nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// labelSet keeps obstacle labels unique in insertion order.
type labelSet struct {
	labels []string
}

func (l *labelSet) toggle(label string) bool {
	for i, existing := range l.labels {
		if existing == label {
			l.labels = append(l.labels[:i], l.labels[i+1:]...)
			return false
		}
	}
	l.labels = append(l.labels, label)
	return true
}

func (l *labelSet) contains(label string) bool {
	for _, existing := range l.labels {
		if existing == label {
			return true
		}
	}
	return false
}

func (l *labelSet) len() int { return len(l.labels) }

func (l *labelSet) list() []string {
	out := make([]string, len(l.labels))
	copy(out, l.labels)
	return out
}
