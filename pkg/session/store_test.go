package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 20, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore_Create(t *testing.T) {
	store := NewStore()

	t.Run("rejects empty query", func(t *testing.T) {
		_, err := store.Create("   ", nil)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("creates pending session", func(t *testing.T) {
		w, err := store.Create("Compare NVDA and AMD", map[string]interface{}{"user_id": "u-1"})
		require.NoError(t, err)

		snap, err := store.Get(w.ID())
		require.NoError(t, err)
		assert.Equal(t, StatePending, snap.State)
		assert.Equal(t, "Compare NVDA and AMD", snap.Query)
		assert.Equal(t, "u-1", snap.Metadata["user_id"])
		assert.Empty(t, snap.Steps)
	})

	t.Run("unique ids", func(t *testing.T) {
		a, err := store.Create("a", nil)
		require.NoError(t, err)
		b, err := store.Create("b", nil)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID(), b.ID())
	})
}

func TestStore_GetUnknown(t *testing.T) {
	_, err := NewStore().Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_SnapshotsAreDeepCopies(t *testing.T) {
	store := NewStore()
	w, err := store.Create("q", nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	n, err := w.AppendStep("look up", Action{Tool: "get_financial_data", Arguments: map[string]interface{}{"symbol": "NVDA"}})
	require.NoError(t, err)
	require.NoError(t, w.CompleteStep(n, &Observation{Payload: map[string]interface{}{
		"revenue": map[string]interface{}{"q3_2024": "35.08B"},
	}}))

	snap, err := store.Get(w.ID())
	require.NoError(t, err)
	snap.Steps[0].Action.Arguments["symbol"] = "AMD"
	snap.Steps[0].Observation.Payload.(map[string]interface{})["revenue"].(map[string]interface{})["q3_2024"] = "0"

	again, err := store.Get(w.ID())
	require.NoError(t, err)
	assert.Equal(t, "NVDA", again.Steps[0].Action.Arguments["symbol"])
	assert.Equal(t, "35.08B", again.Steps[0].Observation.Payload.(map[string]interface{})["revenue"].(map[string]interface{})["q3_2024"])
}

func TestStore_DeleteAndList(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	first, err := store.Create("first", nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := store.Create("second", nil)
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID(), list[0].ID)
	assert.Equal(t, second.ID(), list[1].ID)

	assert.ErrorIs(t, store.Delete(first.ID()), ErrSessionActive)

	require.NoError(t, first.Start())
	require.NoError(t, first.Complete("done"))
	require.NoError(t, store.Delete(first.ID()))
	assert.ErrorIs(t, store.Delete(first.ID()), ErrSessionNotFound)
	assert.Len(t, store.List(), 1)
}

func TestStore_Expired(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(WithClock(clock.Now))

	done, _ := store.Create("done", nil)
	require.NoError(t, done.Start())
	require.NoError(t, done.Complete(nil))

	cancelled, _ := store.Create("cancelled", nil)
	require.NoError(t, cancelled.Cancel("user request"))

	running, _ := store.Create("running", nil)
	require.NoError(t, running.Start())

	ids := store.Expired(clock.Now(), time.Hour)
	assert.ElementsMatch(t, []string{cancelled.ID()}, ids)

	clock.Advance(time.Hour)
	ids = store.Expired(clock.Now(), time.Hour)
	assert.ElementsMatch(t, []string{cancelled.ID(), done.ID()}, ids)
	assert.Equal(t, 1, store.Active())
}

func TestStore_ConcurrentSessions(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := store.Create("q", nil)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, w.Start())
			for j := 0; j < 5; j++ {
				n, err := w.AppendStep("t", Action{Tool: "x"})
				assert.NoError(t, err)
				assert.NoError(t, w.CompleteStep(n, &Observation{Payload: j}))
				_, _ = store.Get(w.ID())
			}
			assert.NoError(t, w.Complete("ok"))
		}()
	}
	wg.Wait()

	for _, s := range store.List() {
		require.Len(t, s.Steps, 5)
		for i, st := range s.Steps {
			assert.Equal(t, i+1, st.Number)
		}
	}
}
