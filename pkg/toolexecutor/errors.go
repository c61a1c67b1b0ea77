package toolexecutor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a tool failure.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation_error"
	KindUnknownTool ErrorKind = "unknown_tool_error"
	KindRetryable   ErrorKind = "retryable_error"
	KindFatal       ErrorKind = "fatal_error"
	KindTimeout     ErrorKind = "timeout_error"
	KindCancelled   ErrorKind = "cancelled"
)

var (
	ErrValidation     = errors.New("argument validation failed")
	ErrUnknownTool    = errors.New("unknown tool")
	ErrRetryable      = errors.New("retryable tool failure")
	ErrFatal          = errors.New("fatal tool failure")
	ErrTimeout        = errors.New("tool call timed out")
	ErrCancelled      = errors.New("tool call cancelled")
	ErrDuplicateTool  = errors.New("tool already registered")
	ErrRegistrySealed = errors.New("registry is sealed")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:  ErrValidation,
	KindUnknownTool: ErrUnknownTool,
	KindRetryable:   ErrRetryable,
	KindFatal:       ErrFatal,
	KindTimeout:     ErrTimeout,
	KindCancelled:   ErrCancelled,
}

// ToolError is the normalized failure of a resolve or dispatch.
// errors.Is matches it against the sentinel for its Kind as well as the
// wrapped cause.
type ToolError struct {
	Kind    ErrorKind
	Tool    string
	Field   string // offending argument, validation failures only
	Message string
	Err     error

	// retryableTimeout is copied from the contract for timeout failures.
	retryableTimeout bool
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: tool %s: field %s: %s", e.Kind, e.Tool, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: tool %s: %s", e.Kind, e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func (e *ToolError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Retryable reports whether the loop may dispatch the same step again.
func (e *ToolError) Retryable() bool {
	return e.Kind == KindRetryable || (e.Kind == KindTimeout && e.retryableTimeout)
}

// KindOf extracts the kind of a *ToolError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
