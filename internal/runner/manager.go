package runner

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/hperssn/trialclock/internal/domain"
	"github.com/hperssn/trialclock/internal/events"
	"github.com/hperssn/trialclock/internal/submit"
)

var (
	ErrTrialNotFound    = errors.New("trial not found")
	ErrSubjectBusy      = errors.New("subject already has a live trial")
	ErrSubmitInProgress = errors.New("trial submission in progress")
	ErrNoSubmitter      = errors.New("no result submitter configured")
)

// MetricsRecorder receives trial lifecycle measurements.
type MetricsRecorder interface {
	TrialStarted()
	TrialStopped(totalSeconds float64)
	Submission(success bool)
	LiveTrials(n int)
}

type noopMetrics struct{}

func (noopMetrics) TrialStarted() {}

func (noopMetrics) TrialStopped(float64) {}

func (noopMetrics) Submission(bool) {}

func (noopMetrics) LiveTrials(int) {}

type Options struct {
	Clock clockwork.Clock
	// DisplayInterval defaults to 100ms; a negative value disables the
	// display ticker so only commands publish frames.
	DisplayInterval time.Duration
	StaleAfter      time.Duration
	CleanupInterval time.Duration
	Course          domain.Course
	StrictObstacles bool
	Submitter       submit.Submitter
	Publisher       events.Publisher
	Metrics         MetricsRecorder
}

// TrialManager owns every live trial, keyed by trial id.
type TrialManager struct {
	mu     sync.Mutex
	trials map[string]*trialRunner

	clock     clockwork.Clock
	feed      *Feed
	interval  time.Duration
	staleFor  time.Duration
	cleanup   time.Duration
	course    domain.Course
	strict    bool
	submitter submit.Submitter
	publisher events.Publisher
	metrics   MetricsRecorder
}

func NewTrialManager(opts Options) *TrialManager {
	m := &TrialManager{
		trials:    make(map[string]*trialRunner),
		clock:     opts.Clock,
		feed:      NewFeed(0),
		interval:  opts.DisplayInterval,
		staleFor:  opts.StaleAfter,
		cleanup:   opts.CleanupInterval,
		course:    opts.Course,
		strict:    opts.StrictObstacles,
		submitter: opts.Submitter,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.interval == 0 {
		m.interval = 100 * time.Millisecond
	}
	if m.staleFor <= 0 {
		m.staleFor = time.Hour
	}
	if m.cleanup <= 0 {
		m.cleanup = 5 * time.Minute
	}
	if len(m.course.Obstacles) == 0 {
		m.course = domain.DefaultCourse
	}
	if m.publisher == nil {
		m.publisher = events.NewLogPublisher()
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	return m
}

func (m *TrialManager) Course() domain.Course { return m.course }

// RunCleanup discards stale trials every cleanup interval until ctx is done.
func (m *TrialManager) RunCleanup(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := m.CleanupStale(ctx); n > 0 {
				log.Info().Int("count", n).Msg("discarded stale trials")
			}
		}
	}
}

// CleanupStale discards trials that are not running and were untouched for
// longer than the stale window. It returns how many were discarded.
func (m *TrialManager) CleanupStale(ctx context.Context) int {
	cutoff := m.clock.Now().Add(-m.staleFor)

	m.mu.Lock()
	var stale []*trialRunner
	for id, r := range m.trials {
		if r.retireIfStale(cutoff) {
			stale = append(stale, r)
			delete(m.trials, id)
		}
	}
	live := len(m.trials)
	m.mu.Unlock()

	for _, r := range stale {
		r.close()
		m.publish(ctx, events.TrialAbandoned, r, events.AbandonedPayload{Reason: "stale"})
	}
	if len(stale) > 0 {
		m.metrics.LiveTrials(live)
	}
	return len(stale)
}

// StartTrial creates a trial for subjectID and starts its clock.
func (m *TrialManager) StartTrial(ctx context.Context, subjectID, operator string) (Frame, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Frame{}, domain.ErrMissingSubject
	}

	m.mu.Lock()
	for _, existing := range m.trials {
		if existing.subjectID() == subjectID && existing.isLive() {
			m.mu.Unlock()
			return Frame{}, ErrSubjectBusy
		}
	}

	r := newTrialRunner(domain.NewSession("", m.clock), m.clock, m.feed, m.interval, operator)
	frame, err := r.apply(func(s *domain.Session) error { return s.Start(subjectID) })
	if err != nil {
		m.mu.Unlock()
		r.close()
		return Frame{}, err
	}
	m.trials[frame.TrialID] = r
	live := len(m.trials)
	m.mu.Unlock()

	m.metrics.TrialStarted()
	m.metrics.LiveTrials(live)
	m.publish(ctx, events.TrialStarted, r, events.StartedPayload{StartedAt: frame.StartedAt})

	log.Info().
		Str("trial_id", frame.TrialID).
		Str("subject_id", subjectID).
		Str("operator", operator).
		Msg("trial started")
	return frame, nil
}

func (m *TrialManager) get(id string) (*trialRunner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.trials[id]
	if !ok {
		return nil, ErrTrialNotFound
	}
	return r, nil
}

// Get returns the current frame of a trial and whether it exists.
func (m *TrialManager) Get(id string) (Frame, bool) {
	r, err := m.get(id)
	if err != nil {
		return Frame{}, false
	}
	return r.Snapshot(), true
}

func (m *TrialManager) Snapshot(id string) (Frame, error) {
	r, err := m.get(id)
	if err != nil {
		return Frame{}, err
	}
	return r.Snapshot(), nil
}

// List returns a frame per live trial, oldest first.
func (m *TrialManager) List() []Frame {
	m.mu.Lock()
	runners := make([]*trialRunner, 0, len(m.trials))
	for _, r := range m.trials {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	frames := make([]Frame, 0, len(runners))
	for _, r := range runners {
		frames = append(frames, r.Snapshot())
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].StartedAt.Equal(frames[j].StartedAt) {
			return frames[i].TrialID < frames[j].TrialID
		}
		return frames[i].StartedAt.Before(frames[j].StartedAt)
	})
	return frames
}

func (m *TrialManager) StopTrial(ctx context.Context, id string) (Frame, error) {
	r, err := m.get(id)
	if err != nil {
		return Frame{}, err
	}

	frame, err := r.apply(func(s *domain.Session) error { return s.Stop() })
	if err != nil {
		return frame, err
	}

	m.metrics.TrialStopped(frame.Totals.TotalSeconds)
	m.publish(ctx, events.TrialStopped, r, events.StoppedPayload{
		ElapsedSeconds: frame.Totals.ElapsedSeconds,
		TotalSeconds:   frame.Totals.TotalSeconds,
		Formatted:      frame.Total,
	})

	log.Info().
		Str("trial_id", id).
		Str("subject_id", frame.SubjectID).
		Str("total", frame.Total).
		Msg("trial stopped")
	return frame, nil
}

func (m *TrialManager) ToggleWaypoint(id string) (Frame, error) {
	r, err := m.get(id)
	if err != nil {
		return Frame{}, err
	}
	return r.apply(func(s *domain.Session) error { return s.ToggleWaypoint() })
}

// TogglePenalty flips the penalty mark of an obstacle and reports whether it
// is marked afterwards.
func (m *TrialManager) TogglePenalty(id, obstacle string) (Frame, bool, error) {
	return m.toggle(id, obstacle, (*domain.Session).TogglePenalty)
}

func (m *TrialManager) ToggleElimination(id, obstacle string) (Frame, bool, error) {
	return m.toggle(id, obstacle, (*domain.Session).ToggleElimination)
}

func (m *TrialManager) toggle(id, obstacle string, fn func(*domain.Session, string) (bool, error)) (Frame, bool, error) {
	r, err := m.get(id)
	if err != nil {
		return Frame{}, false, err
	}

	var marked bool
	frame, err := r.apply(func(s *domain.Session) error {
		if m.strict && s.State() != domain.StateIdle && strings.TrimSpace(obstacle) != "" && !m.course.Contains(obstacle) {
			return domain.ErrUnknownObstacle
		}
		var err error
		marked, err = fn(s, obstacle)
		return err
	})
	return frame, marked, err
}

// ResetTrial abandons a trial and discards everything it recorded.
func (m *TrialManager) ResetTrial(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.trials[id]
	if !ok {
		m.mu.Unlock()
		return ErrTrialNotFound
	}
	if err := r.retire(); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.trials, id)
	live := len(m.trials)
	m.mu.Unlock()

	r.close()
	m.metrics.LiveTrials(live)
	m.publish(ctx, events.TrialAbandoned, r, events.AbandonedPayload{Reason: "reset"})

	log.Info().Str("trial_id", id).Msg("trial reset")
	return nil
}

// SubmitTrial hands the result of a stopped trial to the submitter. On
// success the trial is discarded; on failure it stays stopped and unchanged
// so the operator can retry.
func (m *TrialManager) SubmitTrial(ctx context.Context, id string) (domain.Result, error) {
	if m.submitter == nil {
		return domain.Result{}, ErrNoSubmitter
	}

	r, err := m.get(id)
	if err != nil {
		return domain.Result{}, err
	}

	res, err := r.beginSubmit()
	if err != nil {
		return domain.Result{}, err
	}

	if err := m.submitter.Submit(ctx, res); err != nil {
		r.endSubmit()
		m.metrics.Submission(false)
		m.publish(ctx, events.SubmissionFailed, r, events.FailedPayload{
			Error: err.Error(),
			Kind:  string(submit.KindOf(err)),
		})

		log.Error().Err(err).
			Str("trial_id", id).
			Str("subject_id", res.SubjectID).
			Msg("trial submission failed")
		return domain.Result{}, err
	}

	m.mu.Lock()
	delete(m.trials, id)
	live := len(m.trials)
	m.mu.Unlock()

	r.close()
	m.metrics.Submission(true)
	m.metrics.LiveTrials(live)
	m.publish(ctx, events.ResultSubmitted, r, events.SubmittedPayload{
		RawTimeSeconds:   res.RawTimeSeconds,
		PenaltySeconds:   res.PenaltySeconds,
		TotalTimeSeconds: res.TotalTimeSeconds,
		Penalties:        res.PenaltiesList,
		Eliminated:       res.EliminatedObstaclesList,
		WaypointSeconds:  res.WaypointTimeSeconds,
	})

	log.Info().
		Str("trial_id", id).
		Str("subject_id", res.SubjectID).
		Float64("total_seconds", res.TotalTimeSeconds).
		Msg("trial submitted")
	return res, nil
}

// Subscribe returns the display frames of a live trial.
func (m *TrialManager) Subscribe(id string) (<-chan Frame, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trials[id]; !ok {
		return nil, nil, ErrTrialNotFound
	}
	ch, cancel := m.feed.Subscribe(id)
	return ch, cancel, nil
}

// Close discards every live trial.
func (m *TrialManager) Close() {
	m.mu.Lock()
	runners := make([]*trialRunner, 0, len(m.trials))
	for id, r := range m.trials {
		runners = append(runners, r)
		delete(m.trials, id)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.close()
	}
	m.metrics.LiveTrials(0)
}

func (m *TrialManager) publish(ctx context.Context, t events.Type, r *trialRunner, payload any) {
	frame := r.Snapshot()
	ev, err := events.New(t, frame.TrialID, frame.SubjectID, frame.Operator, m.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("build trial event")
		return
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).
			Str("event_type", string(t)).
			Str("trial_id", frame.TrialID).
			Msg("publish trial event")
	}
}
