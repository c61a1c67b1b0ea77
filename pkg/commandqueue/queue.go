package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/nexus/internal/observability"
	"github.com/harun/nexus/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultCapacity is used when New receives a non-positive capacity.
const DefaultCapacity = 32

// Task is one lane's unit of work.
type Task func(ctx context.Context) error

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event types emitted by the queue.
const (
	EventAdmitted  = "admitted"
	EventRejected  = "rejected"
	EventCompleted = "completed"
)

// Event represents a queue event
type Event struct {
	Type   string                 // admitted, rejected or completed
	Lane   string                 // Lane name
	TaskID string                 // Task ID, empty for rejections
	Data   map[string]interface{} // Additional event data
}

type laneState struct {
	taskID    string
	startedAt time.Time
}

// CommandQueue admits tasks into lanes up to a fixed capacity.
type CommandQueue struct {
	capacity  int
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a queue admitting at most capacity concurrent tasks.
func New(capacity int, logger ...zerolog.Logger) *CommandQueue {
	observability.EnsureRegistered()

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := log.Logger
	if len(logger) > 0 {
		l = logger[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		capacity:      capacity,
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		logger:        l,
		eventHandlers: make(map[string][]EventHandler),
	}
}

// TrySubmit starts task on lane if a slot is free and the lane is idle.
// It never blocks on capacity. The task context carries ctx's values but
// not its cancellation; it is cancelled by Close.
func (cq *CommandQueue) TrySubmit(ctx context.Context, lane string, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cq.mu.Lock()
	var reason error
	switch {
	case cq.closed:
		reason = ErrQueueClosed
	case cq.lanes[lane] != nil:
		reason = ErrLaneBusy
	case len(cq.lanes) >= cq.capacity:
		reason = ErrQueueFull
	}
	if reason != nil {
		inFlight := len(cq.lanes)
		cq.mu.Unlock()

		observability.RecordAdmission(false, inFlight)
		cq.logger.Warn().
			Str("lane", lane).
			Int("in_flight", inFlight).
			Int("capacity", cq.capacity).
			Err(reason).
			Msg("Task rejected")
		cq.emit(Event{
			Type: EventRejected,
			Lane: lane,
			Data: map[string]interface{}{"reason": reason.Error(), "inFlight": inFlight},
		})
		return fmt.Errorf("submit %s: %w", lane, reason)
	}

	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.lanes[lane] = &laneState{taskID: taskID, startedAt: time.Now()}
	inFlight := len(cq.lanes)
	cq.wg.Add(1)
	cq.mu.Unlock()

	observability.RecordAdmission(true, inFlight)
	cq.logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("in_flight", inFlight).
		Msg("Task admitted")
	cq.emit(Event{
		Type:   EventAdmitted,
		Lane:   lane,
		TaskID: taskID,
		Data:   map[string]interface{}{"inFlight": inFlight},
	})

	go cq.execute(tracing.Detach(ctx), lane, taskID, task)
	return nil
}

func (cq *CommandQueue) execute(ctx context.Context, lane, taskID string, task Task) {
	defer cq.wg.Done()

	ctx, span := tracing.StartSpan(
		ctx,
		"nexus.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", taskID),
	)
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger := tracing.LoggerFromContext(ctx, cq.logger)
	startTime := time.Now()

	err := cq.run(runCtx, task)
	duration := time.Since(startTime)

	cq.mu.Lock()
	delete(cq.lanes, lane)
	inFlight := len(cq.lanes)
	cq.mu.Unlock()

	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().
			Str("lane", lane).
			Str("task_id", taskID).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", taskID).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordLaneCompletion(duration, err == nil, inFlight)
	cq.emit(Event{
		Type:   EventCompleted,
		Lane:   lane,
		TaskID: taskID,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})
}

func (cq *CommandQueue) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Capacity returns the admission limit.
func (cq *CommandQueue) Capacity() int {
	return cq.capacity
}

// InFlight returns the number of running tasks.
func (cq *CommandQueue) InFlight() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// Running reports whether lane has a task in flight.
func (cq *CommandQueue) Running(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.lanes[lane] != nil
}

// GetStats returns a snapshot of queue occupancy.
func (cq *CommandQueue) GetStats() map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return map[string]int{
		"running":  len(cq.lanes),
		"capacity": cq.capacity,
	}
}

// WaitForActive waits for all running tasks to finish or ctx to end.
// It reports whether the queue drained.
func (cq *CommandQueue) WaitForActive(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		cq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cq.logger.Info().Msg("All active tasks completed")
		return true
	case <-ctx.Done():
		cq.logger.Warn().Int("in_flight", cq.InFlight()).Msg("Timeout waiting for active tasks")
		return false
	}
}

// Close rejects new work, cancels running tasks and waits for them.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (cq *CommandQueue) Off(eventType string) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	delete(cq.eventHandlers, eventType)
}

// emit calls handlers synchronously
func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
