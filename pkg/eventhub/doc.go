// Package eventhub is the per-session event log and its fan-out.
//
// Each session has an append-only log. A subscription is a cursor into that
// log, so a subscriber that arrives late replays every event from the start
// before it sees live ones. Publish never waits for subscribers: one that
// falls more than the configured capacity behind is dropped and its next
// read returns ErrSubscriberDropped.
//
// Invariants:
// - Events of one session carry Seq 1, 2, 3... in publish order.
// - Exactly one terminal event (execution_complete, error, cancelled) is
//   accepted per session and it is always the last; later publishes fail
//   with ErrStreamClosed.
// - Next returns io.EOF once the terminal event has been delivered.
//
// Usage:
//
//	hub := eventhub.New(256)
//	_ = hub.Open(id)
//	sub, _ := hub.Subscribe(id)
//	defer sub.Close()
//	for {
//		ev, err := sub.Next(ctx)
//		if err != nil {
//			break // io.EOF after the terminal event
//		}
//		_ = ev
//	}
package eventhub
