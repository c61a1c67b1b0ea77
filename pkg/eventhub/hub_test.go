package eventhub

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []Event
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestHub_OpenTwice(t *testing.T) {
	h := New(8)
	require.NoError(t, h.Open("s"))
	assert.ErrorIs(t, h.Open("s"), ErrStreamExists)
}

func TestHub_UnknownSession(t *testing.T) {
	h := New(8)
	_, err := h.Subscribe("missing")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = h.Publish("missing", Event{Type: EventStepUpdate})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestHub_PublishAssignsSeq(t *testing.T) {
	h := New(8)
	require.NoError(t, h.Open("s"))

	first, err := h.Publish("s", Event{Type: EventSessionStart})
	require.NoError(t, err)
	second, err := h.Publish("s", Event{Type: EventStepUpdate, StepNumber: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, "s", second.SessionID)
	assert.False(t, second.Timestamp.IsZero())
}

func TestHub_SingleTerminalEvent(t *testing.T) {
	h := New(8)
	require.NoError(t, h.Open("s"))

	_, err := h.Publish("s", Event{Type: EventExecutionComplete})
	require.NoError(t, err)
	assert.True(t, h.Closed("s"))

	_, err = h.Publish("s", Event{Type: EventError})
	assert.ErrorIs(t, err, ErrStreamClosed)
	_, err = h.Publish("s", Event{Type: EventStepUpdate})
	assert.ErrorIs(t, err, ErrStreamClosed)

	history, err := h.History("s")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestHub_LateSubscriberReplaysPrefix(t *testing.T) {
	h := New(16)
	require.NoError(t, h.Open("s"))

	_, _ = h.Publish("s", Event{Type: EventSessionStart})
	_, _ = h.Publish("s", Event{Type: EventStepUpdate, StepNumber: 1, Status: "in_progress"})
	_, _ = h.Publish("s", Event{Type: EventStepUpdate, StepNumber: 1, Status: "completed"})

	sub, err := h.Subscribe("s")
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan []Event)
	go func() { done <- drain(t, sub) }()

	time.Sleep(20 * time.Millisecond)
	_, _ = h.Publish("s", Event{Type: EventStepUpdate, StepNumber: 2, Status: "in_progress"})
	_, _ = h.Publish("s", Event{Type: EventExecutionComplete})

	events := <-done
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, EventExecutionComplete, events[4].Type)
}

func TestHub_SubscribeAfterTerminal(t *testing.T) {
	h := New(8)
	require.NoError(t, h.Open("s"))
	_, _ = h.Publish("s", Event{Type: EventSessionStart})
	_, _ = h.Publish("s", Event{Type: EventCancelled})

	sub, err := h.Subscribe("s")
	require.NoError(t, err)

	events := drain(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, EventCancelled, events[1].Type)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestHub_ManySubscribersSeeSameOrder(t *testing.T) {
	h := New(64)
	require.NoError(t, h.Open("s"))

	const subscribers = 5
	results := make([][]Event, subscribers)
	var wg sync.WaitGroup
	for i := 0; i < subscribers; i++ {
		sub, err := h.Subscribe("s")
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			results[i] = drain(t, sub)
		}(i, sub)
	}

	for i := 1; i <= 20; i++ {
		_, err := h.Publish("s", Event{Type: EventStepUpdate, StepNumber: i})
		require.NoError(t, err)
	}
	_, err := h.Publish("s", Event{Type: EventExecutionComplete})
	require.NoError(t, err)
	wg.Wait()

	for _, events := range results {
		require.Len(t, events, 21)
		for i := 0; i < 20; i++ {
			assert.Equal(t, i+1, events[i].StepNumber)
		}
		assert.True(t, events[20].Type.Terminal())
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := New(3)
	require.NoError(t, h.Open("s"))

	slow, err := h.Subscribe("s")
	require.NoError(t, err)
	fast, err := h.Subscribe("s")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		start := time.Now()
		_, err := h.Publish("s", Event{Type: EventStepUpdate, StepNumber: i})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 100*time.Millisecond)

		_, err = fast.Next(ctx)
		require.NoError(t, err)
	}

	_, err = slow.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriberDropped)
	assert.Equal(t, 1, h.Subscribers("s"))

	_, err = h.Publish("s", Event{Type: EventExecutionComplete})
	require.NoError(t, err)
	ev, err := fast.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventExecutionComplete, ev.Type)
}

func TestHub_BacklogLargerThanCapacity(t *testing.T) {
	h := New(4)
	require.NoError(t, h.Open("s"))
	for i := 1; i <= 10; i++ {
		_, err := h.Publish("s", Event{Type: EventStepUpdate, StepNumber: i})
		require.NoError(t, err)
	}

	t.Run("late subscriber replays the whole backlog", func(t *testing.T) {
		sub, err := h.Subscribe("s")
		require.NoError(t, err)
		defer sub.Close()

		_, err = h.Publish("s", Event{Type: EventStepUpdate, StepNumber: 11})
		require.NoError(t, err)

		ctx := context.Background()
		for i := 1; i <= 11; i++ {
			ev, err := sub.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(i), ev.Seq)
		}
	})

	t.Run("late subscriber lagging on live events is dropped", func(t *testing.T) {
		sub, err := h.Subscribe("s")
		require.NoError(t, err)
		defer sub.Close()

		for i := 0; i < 5; i++ {
			_, err := h.Publish("s", Event{Type: EventStepUpdate})
			require.NoError(t, err)
		}

		_, err = sub.Next(context.Background())
		assert.ErrorIs(t, err, ErrSubscriberDropped)
	})
}

func TestSubscription_NextHonoursContext(t *testing.T) {
	h := New(8)
	require.NoError(t, h.Open("s"))
	sub, err := h.Subscribe("s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscription_Close(t *testing.T) {
	h := New(8)
	require.NoError(t, h.Open("s"))
	sub, err := h.Subscribe("s")
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	sub.Close()
	assert.Zero(t, h.Subscribers("s"))
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionDone)
}

func TestHub_Remove(t *testing.T) {
	h := New(8)
	require.NoError(t, h.Open("s"))
	sub, err := h.Subscribe("s")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	h.Remove("s")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStreamRemoved)
	case <-time.After(time.Second):
		t.Fatal("subscriber not woken by Remove")
	}

	_, err = h.Subscribe("s")
	assert.ErrorIs(t, err, ErrUnknownSession)
	h.Remove("s")
}

func TestEventType_Terminal(t *testing.T) {
	assert.False(t, EventSessionStart.Terminal())
	assert.False(t, EventStepUpdate.Terminal())
	assert.True(t, EventExecutionComplete.Terminal())
	assert.True(t, EventError.Terminal())
	assert.True(t, EventCancelled.Terminal())
}
