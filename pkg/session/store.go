package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nexus/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store keeps sessions in memory keyed by id. Safe for concurrent use across
// sessions; mutation of one session goes through its Writer only.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	logger   zerolog.Logger
	now      func() time.Time
}

type record struct {
	mu sync.Mutex
	s  Session
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	observability.EnsureRegistered()

	s := &Store{
		sessions: make(map[string]*record),
		logger:   log.Logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a pending session and returns its only Writer.
func (s *Store) Create(query string, metadata map[string]interface{}) (*Writer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	rec := &record{s: Session{
		ID:        uuid.New().String(),
		Query:     query,
		Metadata:  copyMap(metadata),
		State:     StatePending,
		Steps:     []Step{},
		CreatedAt: s.now(),
	}}

	s.mu.Lock()
	s.sessions[rec.s.ID] = rec
	s.mu.Unlock()

	s.logger.Debug().Str("session_id", rec.s.ID).Msg("Session created")
	s.updateActiveMetric()

	return &Writer{store: s, rec: rec}, nil
}

// Get returns a deep copy of the session.
func (s *Store) Get(id string) (Session, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.s.clone(), nil
}

// List returns snapshots of all sessions, oldest first.
func (s *Store) List() []Session {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.s.clone())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete removes a terminal session. Live sessions cannot be deleted.
func (s *Store) Delete(id string) error {
	rec, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	rec.mu.Lock()
	terminal := rec.s.State.Terminal()
	rec.mu.Unlock()
	if !terminal {
		return fmt.Errorf("delete %s: %w", id, ErrSessionActive)
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	s.logger.Debug().Str("session_id", id).Msg("Session deleted")
	return nil
}

// Expired returns ids of sessions eligible for eviction: terminal sessions
// whose retention window has elapsed, and cancelled sessions regardless of age.
func (s *Store) Expired(now time.Time, retention time.Duration) []string {
	var ids []string
	for _, snap := range s.List() {
		switch {
		case snap.State == StateCancelled:
			ids = append(ids, snap.ID)
		case snap.State.Terminal() && !snap.CompletedAt.After(now.Add(-retention)):
			ids = append(ids, snap.ID)
		}
	}
	return ids
}

// Active returns the number of pending or running sessions.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.sessions {
		rec.mu.Lock()
		if !rec.s.State.Terminal() {
			n++
		}
		rec.mu.Unlock()
	}
	return n
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *Store) updateActiveMetric() {
	observability.SetActiveSessions(s.Active())
}
