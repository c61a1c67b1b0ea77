package commandqueue

import "errors"

var (
	// ErrQueueFull is returned when every slot is taken.
	ErrQueueFull = errors.New("admission limit reached")
	// ErrLaneBusy is returned when the lane already runs a task.
	ErrLaneBusy = errors.New("lane already has a running task")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("command queue closed")
)
