// Package agent runs ReAct sessions: it asks a planner for the next action,
// dispatches the tool, records the observation and streams every step.
//
// Invariants:
// - One loop task per session, admitted through commandqueue; excess starts
//   are rejected with ErrAdmissionRejected.
// - Step numbers are contiguous from 1; retries of a step reuse its number.
// - Every session stream ends with exactly one terminal event
//   (execution_complete, error or cancelled).
// - Cancellation and the session deadline reach the in-flight tool call
//   through its context.
//
// Usage:
//
//	engine, _ := agent.NewEngine(agent.Config{...})
//	id, err := engine.Start(ctx, agent.Request{Query: "Compare NVDA and AMD"})
//	sub, _ := engine.Subscribe(id)
//	for {
//		ev, err := sub.Next(ctx)
//		if err != nil {
//			break // io.EOF after the terminal event
//		}
//		_ = ev
//	}
package agent
