package planner

import (
	"context"
	"fmt"

	"github.com/harun/nexus/pkg/session"
)

// Finisher fills in the final_response arguments from the session history.
type Finisher func(query string, history []session.Step) map[string]interface{}

// Scripted replays decisions by position: the decision for step n is
// script[n-1]. It holds no per-session state, so one value serves any
// number of sessions.
type Scripted struct {
	name   string
	script []Decision
	finish Finisher
}

// NewScripted creates a planner that replays script.
func NewScripted(name string, script []Decision) *Scripted {
	return &Scripted{name: name, script: script}
}

// WithFinisher sets the hook applied to the final decision.
func (s *Scripted) WithFinisher(f Finisher) *Scripted {
	s.finish = f
	return s
}

// Name returns the script name.
func (s *Scripted) Name() string {
	return s.name
}

// Next returns the decision for the step after history.
func (s *Scripted) Next(ctx context.Context, query string, history []session.Step) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	idx := len(history)
	if idx >= len(s.script) {
		return Decision{}, fmt.Errorf("%s: step %d of %d: %w", s.name, idx+1, len(s.script), ErrScriptExhausted)
	}

	d := s.script[idx]
	args := make(map[string]interface{}, len(d.Action.Arguments))
	for k, v := range d.Action.Arguments {
		args[k] = v
	}
	if d.Final() && s.finish != nil {
		for k, v := range s.finish(query, history) {
			args[k] = v
		}
	}
	d.Action.Arguments = args
	return d, nil
}
