package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/nexus/internal/observability"
	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/commandqueue"
	"github.com/harun/nexus/pkg/eventhub"
	"github.com/harun/nexus/pkg/planner"
	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Defaults applied by NewEngine to zero Config fields.
const (
	DefaultMaxSteps    = 8
	DefaultRetryBudget = 2
)

// BackoffConfig shapes the wait between attempts of one step.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Config holds engine dependencies and limits.
type Config struct {
	Store      *session.Store
	Registry   *toolexecutor.Registry
	Dispatcher *toolexecutor.Dispatcher
	Planner    planner.Planner
	Hub        *eventhub.Hub
	Queue      *commandqueue.CommandQueue
	// Dedup maps idempotency keys to session ids. Optional.
	Dedup *commandqueue.DedupCache
	// Archiver serves Status for sessions already evicted. Optional.
	Archiver session.Archiver
	Logger   zerolog.Logger

	MaxSteps       int
	RetryBudget    int
	SessionTimeout time.Duration
	// StepTimeout overrides the contract timeout when positive.
	StepTimeout time.Duration
	Backoff     BackoffConfig
}

// Request starts a session.
type Request struct {
	Query    string
	Metadata map[string]interface{}
	// IdempotencyKey makes repeated starts return the first session id.
	IdempotencyKey string
}

type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Engine owns the running sessions.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("event hub is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = toolexecutor.NewDispatcher(cfg.Logger)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = 500 * time.Millisecond
	}
	if cfg.Backoff.Max < cfg.Backoff.Initial {
		cfg.Backoff.Max = cfg.Backoff.Initial
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = 2
	}

	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "agent").Logger(),
		runs:   make(map[string]*run),
	}, nil
}

// Start creates a session and launches its loop. The loop outlives ctx;
// only ctx's values (trace and request ids) are carried over.
func (e *Engine) Start(ctx context.Context, req Request) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", ErrEngineClosed
	}

	if req.IdempotencyKey != "" && e.cfg.Dedup != nil {
		if id, ok := e.cfg.Dedup.Get(req.IdempotencyKey); ok {
			return id, nil
		}
	}

	w, err := e.cfg.Store.Create(req.Query, req.Metadata)
	if err != nil {
		return "", err
	}
	id := w.ID()

	if req.IdempotencyKey != "" && e.cfg.Dedup != nil {
		if existing, fresh := e.cfg.Dedup.Remember(req.IdempotencyKey, id); !fresh {
			e.discard(w, "duplicate request")
			return existing, nil
		}
	}

	if err := e.cfg.Hub.Open(id); err != nil {
		e.discard(w, err.Error())
		return "", err
	}

	ctx = tracing.WithSessionID(ctx, id)
	base, cancel := context.WithCancelCause(tracing.Detach(ctx))
	r := &run{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.runs[id] = r
	e.mu.Unlock()

	err = e.cfg.Queue.TrySubmit(ctx, "session:"+id, func(taskCtx context.Context) error {
		defer e.release(id, r)
		return e.execute(taskCtx, base, w)
	})
	if err != nil {
		cancel(err)
		e.mu.Lock()
		delete(e.runs, id)
		e.mu.Unlock()
		e.cfg.Hub.Remove(id)
		e.discard(w, err.Error())
		if req.IdempotencyKey != "" && e.cfg.Dedup != nil {
			e.cfg.Dedup.Forget(req.IdempotencyKey)
		}
		if errors.Is(err, commandqueue.ErrQueueFull) {
			return "", fmt.Errorf("%w: %v", ErrAdmissionRejected, err)
		}
		if errors.Is(err, commandqueue.ErrQueueClosed) {
			return "", ErrEngineClosed
		}
		return "", err
	}

	e.logger.Info().
		Str("session_id", id).
		Str("trace_id", tracing.GetTraceID(ctx)).
		Msg("Session started")
	return id, nil
}

// discard removes a session that never ran.
func (e *Engine) discard(w *session.Writer, reason string) {
	_ = w.Fail(session.Failure{Kind: session.KindFatal, Message: reason})
	_ = e.cfg.Store.Delete(w.ID())
}

func (e *Engine) release(id string, r *run) {
	e.mu.Lock()
	if e.runs[id] == r {
		delete(e.runs, id)
	}
	e.mu.Unlock()
	r.cancel(nil)
	close(r.done)
}

// execute runs the loop under the task context, the session's own
// cancellation and the session deadline.
func (e *Engine) execute(taskCtx, base context.Context, w *session.Writer) error {
	ctx, stop := context.WithCancelCause(taskCtx)
	defer stop(nil)
	unhook := context.AfterFunc(base, func() { stop(context.Cause(base)) })
	defer unhook()

	if e.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.cfg.SessionTimeout, errSessionDeadline)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "nexus.agent", "agent.session",
		attribute.String("session.id", w.ID()),
	)
	defer span.End()

	l := &loop{
		engine: e,
		w:      w,
		logger: tracing.LoggerFromContext(ctx, e.logger),
	}
	state := l.run(ctx)
	if state != session.StateCompleted {
		if snap := w.Snapshot(); snap.Error != nil {
			tracing.FailSpan(span, snap.Error)
		}
	}
	return nil
}

// Cancel requests cancellation of a running session. The loop stops at its
// next checkpoint and aborts the in-flight tool call.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()

	if !ok {
		if _, err := e.cfg.Store.Get(id); err != nil {
			return fmt.Errorf("cancel %s: %w", id, ErrSessionNotFound)
		}
		return fmt.Errorf("cancel %s: %w", id, ErrSessionFinished)
	}

	e.logger.Info().Str("session_id", id).Msg("Cancelling session")
	r.cancel(errCancelRequested)
	return nil
}

// Subscribe attaches to the session's event stream from its first event.
func (e *Engine) Subscribe(id string) (*eventhub.Subscription, error) {
	sub, err := e.cfg.Hub.Subscribe(id)
	if errors.Is(err, eventhub.ErrUnknownSession) {
		return nil, fmt.Errorf("subscribe %s: %w", id, ErrSessionNotFound)
	}
	return sub, err
}

// Status returns the session snapshot, falling back to the archive for
// evicted sessions.
func (e *Engine) Status(ctx context.Context, id string) (session.Session, error) {
	s, err := e.cfg.Store.Get(id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return session.Session{}, err
	}
	if e.cfg.Archiver != nil {
		if archived, aerr := e.cfg.Archiver.Lookup(ctx, id); aerr == nil {
			return archived, nil
		}
	}
	return session.Session{}, fmt.Errorf("status %s: %w", id, ErrSessionNotFound)
}

// Wait blocks until the session is terminal or ctx ends, then returns its
// snapshot.
func (e *Engine) Wait(ctx context.Context, id string) (session.Session, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()

	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return session.Session{}, ctx.Err()
		}
	}
	return e.Status(ctx, id)
}

// Running returns the number of sessions with a live loop.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Tools returns the registered tool contracts.
func (e *Engine) Tools() []toolexecutor.Contract {
	return e.cfg.Registry.List()
}

// Shutdown rejects new sessions, cancels running ones and waits for their
// loops to publish a terminal event.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.cancel(errShutdown)
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			e.logger.Warn().Int("running", e.Running()).Msg("Shutdown timed out waiting for sessions")
			return ctx.Err()
		}
	}
	e.logger.Info().Int("cancelled", len(runs)).Msg("Engine stopped")
	return nil
}
