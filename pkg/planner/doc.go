// Package planner provides the decision source the ReAct loop asks for its
// next step.
//
// The loop only depends on the Planner interface. This package ships two
// adapters: Scripted, which replays a fixed decision list, and LLM, which
// asks a chat model for a JSON decision through a Completer (Anthropic or
// OpenAI).
//
// Invariants:
// - Next never mutates the history it is given.
// - A returned Decision always names a tool; final_response ends the session.
// - Malformed model output is repaired once before it is rejected.
//
// Usage:
//
//	p := planner.NewScripted("demo", planner.DemoScript())
//	d, err := p.Next(ctx, query, history)
//	if d.Final() {
//		// d.Action.Arguments is the session result
//	}
package planner
