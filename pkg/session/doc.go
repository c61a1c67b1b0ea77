// Package session holds per-session ReAct state and its lifecycle.
//
// A Session is created by Store.Create, which hands out the single Writer
// allowed to mutate it. Every other caller reads deep-copied snapshots, so a
// running loop never shares mutable state with status readers.
//
// Invariants:
// - Step numbers form the contiguous sequence 1..k with no gaps or repeats.
// - At most one step is in_progress, and it is always the last step.
// - A step moves from in_progress to completed or error exactly once.
// - completed, failed and cancelled are terminal; no mutation follows them.
// - Result is present only when the session is completed.
//
// Usage:
//
//	store := session.NewStore()
//	w, _ := store.Create("Compare NVDA and AMD", nil)
//	_ = w.Start()
//	n, _ := w.AppendStep("look up NVDA", session.Action{Tool: "get_financial_data"})
//	_ = w.CompleteStep(n, &session.Observation{Payload: data})
//	snap, _ := store.Get(w.ID())
//	_ = snap
package session
