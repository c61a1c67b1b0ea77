package agent

import "errors"

var (
	// ErrAdmissionRejected is returned by Start when the concurrent session
	// limit is reached.
	ErrAdmissionRejected = errors.New("too many concurrent sessions")
	// ErrSessionNotFound is returned for ids the engine does not know.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFinished is returned when cancelling a terminal session.
	ErrSessionFinished = errors.New("session already finished")
	// ErrEngineClosed is returned by Start after Shutdown.
	ErrEngineClosed = errors.New("engine is shut down")
	// ErrPlanner wraps planner failures recorded on a session.
	ErrPlanner = errors.New("planner failed")

	errCancelRequested = errors.New("cancelled by request")
	errShutdown        = errors.New("engine shutting down")
	errSessionDeadline = errors.New("session deadline exceeded")
)
