package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/nexus/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention       = 30 * time.Minute
	DefaultCleanupSchedule = "@every 1m"
)

// Cleanup evicts expired sessions from the store on a cron schedule,
// archiving each one first when an Archiver is configured.
type Cleanup struct {
	store     *Store
	retention time.Duration
	schedule  string
	archiver  Archiver
	onEvict   []func(id string)
	logger    zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// CleanupOption configures a Cleanup.
type CleanupOption func(*Cleanup)

// WithArchiver archives sessions before they are evicted.
func WithArchiver(a Archiver) CleanupOption {
	return func(c *Cleanup) { c.archiver = a }
}

// OnEvict registers a hook called with each evicted session id.
func OnEvict(fn func(id string)) CleanupOption {
	return func(c *Cleanup) { c.onEvict = append(c.onEvict, fn) }
}

// WithCleanupLogger sets the cleanup logger.
func WithCleanupLogger(logger zerolog.Logger) CleanupOption {
	return func(c *Cleanup) { c.logger = logger }
}

// NewCleanup creates a janitor for store. Zero values select the defaults.
func NewCleanup(store *Store, retention time.Duration, schedule string, opts ...CleanupOption) *Cleanup {
	if retention == 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	c := &Cleanup{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start schedules the janitor.
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	sched := cron.New()
	if _, err := sched.AddFunc(c.schedule, func() {
		if _, err := c.CleanupNow(context.Background()); err != nil {
			c.logger.Error().Err(err).Msg("Failed to clean up sessions")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	sched.Start()

	c.cron = sched
	c.running = true

	c.logger.Info().
		Dur("retention", c.retention).
		Str("schedule", c.schedule).
		Msg("Session cleanup started")

	return nil
}

// Stop unschedules the janitor and waits for a running pass to finish.
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("cleanup is not running")
	}
	sched := c.cron
	c.cron = nil
	c.running = false
	c.mu.Unlock()

	<-sched.Stop().Done()
	c.logger.Info().Msg("Session cleanup stopped")
	return nil
}

// IsRunning returns whether the cleanup is scheduled.
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CleanupNow runs one eviction pass and returns the number of evicted sessions.
// A session whose archive write fails stays in the store for the next pass.
func (c *Cleanup) CleanupNow(ctx context.Context) (int, error) {
	ids := c.store.Expired(c.store.now(), c.retention)
	evicted := 0
	var firstErr error

	for _, id := range ids {
		if c.archiver != nil {
			snap, err := c.store.Get(id)
			if err != nil {
				continue
			}
			err = c.archiver.Archive(ctx, snap)
			observability.RecordSessionArchived(c.archiver.Name(), err == nil)
			if err != nil {
				c.logger.Warn().Str("session_id", id).Err(err).Msg("Failed to archive session")
				if firstErr == nil {
					firstErr = fmt.Errorf("archive %s: %w", id, err)
				}
				continue
			}
		}

		if err := c.store.Delete(id); err != nil {
			continue
		}
		for _, fn := range c.onEvict {
			fn(id)
		}
		evicted++
	}

	if evicted > 0 {
		observability.RecordSessionsEvicted(evicted)
		c.logger.Info().Int("evicted", evicted).Msg("Evicted expired sessions")
	}

	return evicted, firstErr
}
