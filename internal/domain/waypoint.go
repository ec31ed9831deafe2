package domain

import "time"

// WaypointState tracks the optional secondary timer that runs inside a trial
// without stopping the main clock.
type WaypointState int

const (
	WaypointNotStarted WaypointState = iota
	WaypointRunning
	WaypointCaptured
)

func (w WaypointState) String() string {
	switch w {
	case WaypointNotStarted:
		return "not_started"
	case WaypointRunning:
		return "running"
	case WaypointCaptured:
		return "captured"
	default:
		return "unknown"
	}
}

func (w WaypointState) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

type waypoint struct {
	state     WaypointState
	startedAt time.Time
	elapsed   time.Duration
}

func (w *waypoint) start(now time.Time) {
	w.state = WaypointRunning
	w.startedAt = now
	w.elapsed = 0
}

func (w *waypoint) capture(now time.Time) {
	w.elapsed = nonNegative(now.Sub(w.startedAt))
	w.state = WaypointCaptured
}

// seconds is nil until the waypoint has been started.
func (w *waypoint) seconds(now time.Time) *float64 {
	var d time.Duration
	switch w.state {
	case WaypointRunning:
		d = nonNegative(now.Sub(w.startedAt))
	case WaypointCaptured:
		d = w.elapsed
	default:
		return nil
	}
	secs := d.Seconds()
	return &secs
}
