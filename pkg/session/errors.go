package session

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrEmptyQuery        = errors.New("query cannot be empty")
	ErrTerminal          = errors.New("session is in a terminal state")
	ErrNotRunning        = errors.New("session is not running")
	ErrStepInProgress    = errors.New("a step is already in progress")
	ErrNoStepInProgress  = errors.New("no step in progress")
	ErrStepMismatch      = errors.New("step number does not match the in-progress step")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionActive     = errors.New("session is still active")
)
