package daemon

import (
	"context"
	"time"
)

// statsInterval is how often the event loop logs runtime gauges.
const statsInterval = 30 * time.Second

// EventLoop handles periodic maintenance while the daemon runs
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: statsInterval,
	}
}

// Run logs queue and session stats until ctx ends.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

func (e *EventLoop) processTasks() {
	stats := e.daemon.queue.GetStats()
	if stats["running"] == 0 && e.daemon.store.Active() == 0 {
		return
	}
	e.daemon.logger.Debug().
		Int("running", stats["running"]).
		Int("capacity", stats["capacity"]).
		Int("active_sessions", e.daemon.store.Active()).
		Int("stored_sessions", len(e.daemon.store.List())).
		Msg("Runtime stats")
}

// HandleShutdown waits for in-flight session lanes to drain.
func (e *EventLoop) HandleShutdown(ctx context.Context) {
	e.daemon.logger.Info().Msg("Handling graceful shutdown")

	if e.daemon.queue.WaitForActive(ctx) {
		e.daemon.logger.Info().Msg("All active sessions drained")
		return
	}
	e.daemon.logger.Warn().Int("in_flight", e.daemon.queue.InFlight()).Msg("Shutdown deadline reached with sessions in flight")
}
