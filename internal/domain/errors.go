package domain

import "errors"

// Command precondition failures. All are recoverable: the command is
// rejected and the session is left exactly as it was.
var (
	ErrMissingSubject  = errors.New("subject id is required to start a trial")
	ErrAlreadyRunning  = errors.New("trial is already running")
	ErrNotRunning      = errors.New("trial is not running")
	ErrAlreadyActive   = errors.New("waypoint timer already started")
	ErrNotStarted      = errors.New("trial has not been started")
	ErrNotStopped      = errors.New("trial must be stopped before its result can be taken")
	ErrEmptyLabel      = errors.New("obstacle label is required")
	ErrUnknownObstacle = errors.New("obstacle is not on the course")
	ErrInvalidFormat   = errors.New("invalid time format, want MM:SS.cc")
)
