package runner

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hperssn/trialclock/internal/domain"
)

// Frame is one display sample of a trial. Frames are cosmetic: they are
// derived from the session on demand and never feed back into it.
type Frame struct {
	TrialID       string               `json:"trialId"`
	SubjectID     string               `json:"subjectId"`
	Operator      string               `json:"operator,omitempty"`
	State         domain.State         `json:"state"`
	WaypointState domain.WaypointState `json:"waypointState"`
	Totals        domain.Totals        `json:"totals"`
	Elapsed       string               `json:"elapsed"`
	Total         string               `json:"total"`
	Waypoint      string               `json:"waypoint,omitempty"`
	StartedAt     time.Time            `json:"startedAt"`
	At            time.Time            `json:"at"`
	Closed        bool                 `json:"closed,omitempty"`
}

// trialRunner owns one session. Commands and display samples are serialised
// through mu; the display ticker only reads.
type trialRunner struct {
	mu sync.Mutex

	session  *domain.Session
	clock    clockwork.Clock
	feed     *Feed
	interval time.Duration
	operator string

	touchedAt  time.Time
	submitting bool
	closed     bool

	ctx      context.Context
	cancel   context.CancelFunc
	tickStop chan struct{}
}

func newTrialRunner(s *domain.Session, clock clockwork.Clock, feed *Feed, interval time.Duration, operator string) *trialRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &trialRunner{
		session:   s,
		clock:     clock,
		feed:      feed,
		interval:  interval,
		operator:  operator,
		touchedAt: clock.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// apply runs a command against the session and publishes the resulting frame
// when the command succeeded. The ticker follows the running state.
func (r *trialRunner) apply(fn func(s *domain.Session) error) (Frame, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Frame{}, ErrTrialNotFound
	}
	if r.submitting {
		r.mu.Unlock()
		return Frame{}, ErrSubmitInProgress
	}

	wasRunning := r.session.State() == domain.StateRunning
	err := fn(r.session)
	r.touchedAt = r.clock.Now()
	running := r.session.State() == domain.StateRunning

	switch {
	case running && !wasRunning:
		r.startTickerLocked()
	case !running && wasRunning:
		r.stopTickerLocked()
	}
	frame := r.frameLocked()
	r.mu.Unlock()

	if err != nil {
		return frame, err
	}
	r.feed.Publish(frame)
	return frame, nil
}

func (r *trialRunner) Snapshot() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameLocked()
}

func (r *trialRunner) frameLocked() Frame {
	t := r.session.Totals()
	f := Frame{
		TrialID:       r.session.ID,
		SubjectID:     r.session.SubjectID(),
		Operator:      r.operator,
		State:         r.session.State(),
		WaypointState: r.session.WaypointState(),
		Totals:        t,
		Elapsed:       domain.FormatTime(t.ElapsedSeconds),
		Total:         domain.FormatTime(t.TotalSeconds),
		StartedAt:     r.session.StartedAt(),
		At:            r.clock.Now(),
	}
	if t.WaypointSeconds != nil {
		f.Waypoint = domain.FormatTime(*t.WaypointSeconds)
	}
	return f
}

func (r *trialRunner) startTickerLocked() {
	if r.tickStop != nil || r.interval <= 0 {
		return
	}
	stop := make(chan struct{})
	r.tickStop = stop
	go r.tick(stop)
}

func (r *trialRunner) stopTickerLocked() {
	if r.tickStop == nil {
		return
	}
	close(r.tickStop)
	r.tickStop = nil
}

func (r *trialRunner) tick(stop <-chan struct{}) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.feed.Publish(r.Snapshot())
		case <-stop:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *trialRunner) subjectID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.SubjectID()
}

// retire marks the runner closed unless a submission holds it. After retire
// no command or submission is accepted.
func (r *trialRunner) retire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitting {
		return ErrSubmitInProgress
	}
	r.closed = true
	return nil
}

func (r *trialRunner) isLive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.State() != domain.StateIdle
}

// beginSubmit freezes the runner against further commands and returns the
// result to hand to the submitter.
func (r *trialRunner) beginSubmit() (domain.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.Result{}, ErrTrialNotFound
	}
	if r.submitting {
		return domain.Result{}, ErrSubmitInProgress
	}
	res, err := r.session.Result()
	if err != nil {
		return domain.Result{}, err
	}
	res.Operator = r.operator
	r.submitting = true
	return res, nil
}

func (r *trialRunner) endSubmit() {
	r.mu.Lock()
	r.submitting = false
	r.touchedAt = r.clock.Now()
	r.mu.Unlock()
}

// retireIfStale retires the runner when the trial is not running, not being
// submitted and nobody touched it since cutoff.
func (r *trialRunner) retireIfStale(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.State() == domain.StateRunning || r.submitting || !r.touchedAt.Before(cutoff) {
		return false
	}
	r.closed = true
	return true
}

// close stops the ticker and tells every viewer the trial is gone.
func (r *trialRunner) close() {
	r.mu.Lock()
	r.closed = true
	r.stopTickerLocked()
	frame := r.frameLocked()
	r.mu.Unlock()

	r.cancel()
	frame.Closed = true
	r.feed.Publish(frame)
	r.feed.Close(frame.TrialID)
}
