package planner

import (
	"context"
	"errors"

	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
)

var (
	// ErrScriptExhausted is returned when a scripted planner has no decision left.
	ErrScriptExhausted = errors.New("planner script exhausted")
	// ErrInvalidDecision is returned when a decision cannot be parsed or names no tool.
	ErrInvalidDecision = errors.New("invalid planner decision")
	// ErrEmptyResponse is returned when a model answers with no text.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrUnsupportedProvider is returned by NewCompleter for unknown kinds.
	ErrUnsupportedProvider = errors.New("unsupported planner provider")
)

// Decision is the planner's next thought and action.
type Decision struct {
	Thought string         `json:"thought"`
	Action  session.Action `json:"action"`
}

// Final reports whether the decision ends the session.
func (d Decision) Final() bool {
	return d.Action.Tool == toolexecutor.FinalResponse
}

// Planner picks the next step given the query and the steps so far.
type Planner interface {
	Name() string
	Next(ctx context.Context, query string, history []session.Step) (Decision, error)
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, query string, history []session.Step) (Decision, error)

// Name returns "func".
func (f Func) Name() string { return "func" }

// Next calls f.
func (f Func) Next(ctx context.Context, query string, history []session.Step) (Decision, error) {
	return f(ctx, query, history)
}
