package eventhub

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/harun/nexus/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the per-subscriber lag allowed before a drop.
const DefaultCapacity = 256

// Hub owns the event logs of all live sessions.
type Hub struct {
	mu       sync.RWMutex
	streams  map[string]*stream
	capacity int
	logger   zerolog.Logger
	now      func() time.Time
}

type stream struct {
	mu      sync.Mutex
	id      string
	log     []Event
	closed  bool
	removed bool
	notify  chan struct{}
	subs    map[string]*Subscription
}

// Subscription is one reader's cursor into a session log. It is not safe
// for concurrent use by multiple goroutines.
type Subscription struct {
	id      string
	st      *stream
	cursor  int
	// base is the log length at subscribe time. Replaying the backlog
	// before it does not count as lag.
	base    int
	dropped bool
	done    bool
}

// New creates a hub. capacity <= 0 selects DefaultCapacity.
func New(capacity int, logger ...zerolog.Logger) *Hub {
	observability.EnsureRegistered()

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := log.Logger
	if len(logger) > 0 {
		l = logger[0]
	}
	return &Hub{
		streams:  make(map[string]*stream),
		capacity: capacity,
		logger:   l,
		now:      time.Now,
	}
}

// Open creates the log for sessionID.
func (h *Hub) Open(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[sessionID]; ok {
		return fmt.Errorf("open %s: %w", sessionID, ErrStreamExists)
	}
	h.streams[sessionID] = &stream{
		id:     sessionID,
		notify: make(chan struct{}),
		subs:   make(map[string]*Subscription),
	}
	return nil
}

// Publish appends ev to the session log and wakes subscribers. It assigns
// SessionID, Seq and, when zero, Timestamp, and returns the stored event.
// It never blocks on subscribers.
func (h *Hub) Publish(sessionID string, ev Event) (Event, error) {
	st, ok := h.get(sessionID)
	if !ok {
		return Event{}, fmt.Errorf("publish %s: %w", sessionID, ErrUnknownSession)
	}

	st.mu.Lock()
	if st.closed || st.removed {
		st.mu.Unlock()
		return Event{}, fmt.Errorf("publish %s to %s: %w", ev.Type, sessionID, ErrStreamClosed)
	}

	ev.SessionID = sessionID
	ev.Seq = int64(len(st.log) + 1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}
	st.log = append(st.log, ev)
	if ev.Type.Terminal() {
		st.closed = true
	}

	var dropped []string
	for id, sub := range st.subs {
		if len(st.log)-max(sub.cursor, sub.base) > h.capacity {
			sub.dropped = true
			delete(st.subs, id)
			dropped = append(dropped, id)
		}
	}

	close(st.notify)
	st.notify = make(chan struct{})
	st.mu.Unlock()

	observability.RecordEventPublished(string(ev.Type))
	for _, id := range dropped {
		observability.RecordSubscriberDrop()
		h.logger.Warn().
			Str("session_id", sessionID).
			Str("subscriber_id", id).
			Int("capacity", h.capacity).
			Msg("Dropped slow subscriber")
	}

	return ev, nil
}

// Subscribe returns a cursor positioned before the first event.
func (h *Hub) Subscribe(sessionID string) (*Subscription, error) {
	st, ok := h.get(sessionID)
	if !ok {
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, ErrUnknownSession)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate subscriber id: %w", err)
	}

	sub := &Subscription{id: id, st: st}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.removed {
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, ErrUnknownSession)
	}
	sub.base = len(st.log)
	st.subs[id] = sub
	return sub, nil
}

// History returns a copy of the events published so far.
func (h *Hub) History(sessionID string) ([]Event, error) {
	st, ok := h.get(sessionID)
	if !ok {
		return nil, fmt.Errorf("history %s: %w", sessionID, ErrUnknownSession)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]Event(nil), st.log...), nil
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers(sessionID string) int {
	st, ok := h.get(sessionID)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

// Closed reports whether the terminal event has been published.
func (h *Hub) Closed(sessionID string) bool {
	st, ok := h.get(sessionID)
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// Remove discards the session log. Subscribers still reading get the
// remaining events and then io.EOF, or ErrStreamRemoved if the stream never
// reached its terminal event.
func (h *Hub) Remove(sessionID string) {
	h.mu.Lock()
	st, ok := h.streams[sessionID]
	delete(h.streams, sessionID)
	h.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	st.removed = true
	close(st.notify)
	st.notify = make(chan struct{})
	st.mu.Unlock()
}

func (h *Hub) get(sessionID string) (*stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.streams[sessionID]
	return st, ok
}

// ID returns the subscriber id.
func (s *Subscription) ID() string {
	return s.id
}

// Next blocks until the next event is available. It returns io.EOF after
// the terminal event, ErrSubscriberDropped once the hub dropped this
// subscriber, or ctx's error when ctx ends first.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.st.mu.Lock()
		switch {
		case s.done:
			s.st.mu.Unlock()
			return Event{}, ErrSubscriptionDone
		case s.dropped:
			s.st.mu.Unlock()
			return Event{}, ErrSubscriberDropped
		case s.cursor < len(s.st.log):
			ev := s.st.log[s.cursor]
			s.cursor++
			s.st.mu.Unlock()
			return ev, nil
		case s.st.closed:
			s.st.mu.Unlock()
			return Event{}, io.EOF
		case s.st.removed:
			s.st.mu.Unlock()
			return Event{}, ErrStreamRemoved
		}
		wait := s.st.notify
		s.st.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wait:
		}
	}
}

// Close detaches the subscription. Further Next calls fail.
func (s *Subscription) Close() {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.done = true
	delete(s.st.subs, s.id)
}
