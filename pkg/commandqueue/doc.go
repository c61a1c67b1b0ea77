// Package commandqueue runs session loops as isolated tasks behind an
// admission limit.
//
// Invariants:
// - A lane runs at most one task at a time; a second submit to a busy lane
//   is rejected.
// - The number of running tasks never exceeds the queue capacity. Work over
//   capacity is rejected immediately, never queued.
// - Queue activity is observable through admitted/rejected/completed events
//   and metrics.
//
// Usage:
//
//	queue := commandqueue.New(32)
//	defer queue.Close()
//	err := queue.TrySubmit(ctx, "session:abc", func(ctx context.Context) error {
//		return runLoop(ctx)
//	})
//	if errors.Is(err, commandqueue.ErrQueueFull) {
//		// reply 429
//	}
package commandqueue
