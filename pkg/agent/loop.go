package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/harun/nexus/internal/observability"
	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/eventhub"
	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// loop drives one session. It is the only holder of the session Writer.
type loop struct {
	engine *Engine
	w      *session.Writer
	logger zerolog.Logger

	// current is the in-progress step number, 0 between steps.
	current int
}

// run executes the session to a terminal state and returns it.
func (l *loop) run(ctx context.Context) session.State {
	cfg := l.engine.cfg
	snap := l.w.Snapshot()

	if err := l.w.Start(); err != nil {
		l.logger.Error().Err(err).Msg("Failed to start session")
		return l.fail(session.Failure{Kind: session.KindFatal, Message: err.Error()})
	}
	l.publish(eventhub.Event{Type: eventhub.EventSessionStart, Query: snap.Query})
	observability.RecordSessionAudit(ctx, l.w.ID(), "start", "running", map[string]interface{}{"query": snap.Query})

	for {
		if ctx.Err() != nil {
			return l.interrupted(ctx)
		}

		history := l.w.Snapshot().Steps
		if len(history) >= cfg.MaxSteps {
			return l.truncate(len(history))
		}
		next := len(history) + 1

		start := time.Now()
		decision, err := cfg.Planner.Next(tracing.WithStepNumber(ctx, next), snap.Query, history)
		observability.RecordPlannerDecision(cfg.Planner.Name(), time.Since(start), err == nil)
		if err != nil {
			if ctx.Err() != nil {
				return l.interrupted(ctx)
			}
			l.logger.Error().Int("step_number", next).Err(err).Msg("Planner failed")
			return l.fail(session.Failure{
				Kind:    session.KindPlanner,
				Message: fmt.Errorf("%w: %v", ErrPlanner, err).Error(),
				Step:    next,
			})
		}
		// The planner may ignore ctx; a decision that arrives after cancel or
		// the deadline is discarded.
		if ctx.Err() != nil {
			return l.interrupted(ctx)
		}

		number, err := l.w.AppendStep(decision.Thought, decision.Action)
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to append step")
			return l.fail(session.Failure{Kind: session.KindFatal, Message: err.Error(), Step: next})
		}
		l.current = number
		action := decision.Action
		l.publish(eventhub.Event{
			Type:       eventhub.EventStepUpdate,
			StepNumber: number,
			Thought:    decision.Thought,
			Action:     &action,
			Status:     string(session.StepInProgress),
		})

		if decision.Final() {
			return l.finalize(number, decision.Action.Arguments)
		}

		if state, done := l.act(ctx, number, decision.Action); done {
			return state
		}
	}
}

// act resolves and dispatches one action. done reports whether the session
// reached a terminal state.
func (l *loop) act(ctx context.Context, number int, action session.Action) (session.State, bool) {
	cfg := l.engine.cfg
	stepCtx := tracing.WithStepNumber(ctx, number)
	logger := l.logger.With().Int("step_number", number).Str("tool", action.Tool).Logger()

	contract, err := cfg.Registry.Resolve(action.Tool)
	if err != nil {
		logger.Warn().Err(err).Msg("Planner requested unknown tool")
		return l.stepFailed(number, failureFrom(err), nil), true
	}

	payload, attempts, terr := l.dispatch(stepCtx, number, contract, action.Arguments)
	if terr == nil {
		obs := &session.Observation{Payload: payload}
		if err := l.w.CompleteStep(number, obs); err != nil {
			logger.Error().Err(err).Msg("Failed to complete step")
			return l.fail(session.Failure{Kind: session.KindFatal, Message: err.Error(), Step: number}), true
		}
		l.current = 0
		observability.RecordStep(string(session.StepCompleted))
		observability.RecordToolAudit(stepCtx, l.w.ID(), number, contract.Name, "completed", map[string]interface{}{"attempts": attempts})
		l.publish(eventhub.Event{
			Type:        eventhub.EventStepUpdate,
			StepNumber:  number,
			Observation: obs,
			Status:      string(session.StepCompleted),
		})
		logger.Debug().Int("attempts", attempts).Msg("Step completed")
		return "", false
	}

	if ctx.Err() != nil {
		return l.interrupted(ctx), true
	}

	failure := failureFrom(terr)
	if terr.Kind == toolexecutor.KindRetryable {
		failure.Kind = session.KindFatal
		failure.Message = fmt.Sprintf("retry budget exhausted after %d attempts: %s", attempts, terr.Message)
	}

	var obs *session.Observation
	if terr.Kind != toolexecutor.KindValidation {
		f := failure
		f.Step = number
		obs = &session.Observation{Failure: &f}
	}
	logger.Warn().
		Str("error_kind", failure.Kind).
		Int("attempts", attempts).
		Err(terr).
		Msg("Step failed")
	observability.RecordToolAudit(stepCtx, l.w.ID(), number, contract.Name, failure.Kind, map[string]interface{}{"attempts": attempts})
	return l.stepFailed(number, failure, obs), true
}

// dispatch calls the tool, retrying retryable failures with exponential
// backoff until the retry budget (total attempts) is spent.
func (l *loop) dispatch(ctx context.Context, number int, c toolexecutor.Contract, args map[string]interface{}) (interface{}, int, *toolexecutor.ToolError) {
	cfg := l.engine.cfg

	var (
		payload  interface{}
		attempts int
		lastErr  *toolexecutor.ToolError
	)

	operation := func() error {
		attempts++
		if err := l.w.RecordAttempt(number); err != nil {
			return backoff.Permanent(err)
		}

		out, err := cfg.Dispatcher.Invoke(ctx, c, args, cfg.StepTimeout)
		if err == nil {
			payload = out
			lastErr = nil
			return nil
		}

		var terr *toolexecutor.ToolError
		if !errors.As(err, &terr) {
			terr = &toolexecutor.ToolError{Kind: toolexecutor.KindFatal, Tool: c.Name, Message: err.Error(), Err: err}
		}
		lastErr = terr
		if !terr.Retryable() || attempts >= cfg.RetryBudget {
			return backoff.Permanent(terr)
		}
		return terr
	}

	notify := func(err error, wait time.Duration) {
		observability.RecordToolRetry(c.Name, string(lastErr.Kind))
		l.logger.Info().
			Int("step_number", number).
			Str("tool", c.Name).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Err(err).
			Msg("Retrying step")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(l.policy(), ctx), notify)
	if err == nil {
		return payload, attempts, nil
	}
	if lastErr == nil {
		lastErr = &toolexecutor.ToolError{Kind: toolexecutor.KindFatal, Tool: c.Name, Message: err.Error(), Err: err}
	}
	return nil, attempts, lastErr
}

func (l *loop) policy() backoff.BackOff {
	cfg := l.engine.cfg.Backoff
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial
	b.MaxInterval = cfg.Max
	b.Multiplier = cfg.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// finalize completes the final_response step and the session. The result
// is the planner's final arguments, not recomputed here.
func (l *loop) finalize(number int, result map[string]interface{}) session.State {
	if err := l.w.CompleteStep(number, nil); err != nil {
		return l.fail(session.Failure{Kind: session.KindFatal, Message: err.Error(), Step: number})
	}
	l.current = 0
	observability.RecordStep(string(session.StepCompleted))
	l.publish(eventhub.Event{
		Type:       eventhub.EventStepUpdate,
		StepNumber: number,
		Status:     string(session.StepCompleted),
	})
	return l.complete(result)
}

// truncate ends a session that hit the step limit as a completed, truncated run.
func (l *loop) truncate(steps int) session.State {
	l.logger.Warn().Int("max_steps", l.engine.cfg.MaxSteps).Msg("Step limit reached")
	return l.complete(map[string]interface{}{
		"truncated":       true,
		"reason":          "step limit reached",
		"steps_completed": steps,
	})
}

func (l *loop) complete(result interface{}) session.State {
	if err := l.w.Complete(result); err != nil {
		l.logger.Error().Err(err).Msg("Failed to complete session")
		return l.fail(session.Failure{Kind: session.KindFatal, Message: err.Error()})
	}
	snap := l.w.Snapshot()
	l.publish(eventhub.Event{
		Type:       eventhub.EventExecutionComplete,
		StepNumber: len(snap.Steps),
		Status:     string(session.StateCompleted),
		Result:     snap.Result,
	})
	l.record(snap)
	return session.StateCompleted
}

// stepFailed marks the current step as error and fails the session with
// the same failure.
func (l *loop) stepFailed(number int, failure session.Failure, obs *session.Observation) session.State {
	failure.Step = number
	if err := l.w.FailStep(number, failure, obs); err != nil {
		l.logger.Error().Err(err).Msg("Failed to record step error")
	}
	l.current = 0
	observability.RecordStep(string(session.StepError))
	return l.fail(failure)
}

func (l *loop) fail(failure session.Failure) session.State {
	if l.current != 0 {
		// An open step always carries the failure that ended the session.
		step := l.current
		failure.Step = step
		if err := l.w.FailStep(step, failure, nil); err != nil {
			l.logger.Error().Err(err).Msg("Failed to record step error")
		}
		l.current = 0
		observability.RecordStep(string(session.StepError))
	}

	if err := l.w.Fail(failure); err != nil {
		l.logger.Error().Err(err).Msg("Failed to fail session")
	}
	snap := l.w.Snapshot()

	ev := eventhub.Event{
		Type:       eventhub.EventError,
		StepNumber: failure.Step,
		Status:     string(session.StateFailed),
		ErrorKind:  failure.Kind,
		Error:      failure.Message,
	}
	if failure.Step > 0 && failure.Step <= len(snap.Steps) {
		ev.Observation = snap.Steps[failure.Step-1].Observation
	}
	l.publish(ev)
	l.record(snap)
	return session.StateFailed
}

// interrupted ends the session after its context ended: the session
// deadline fails it with timeout_error, anything else cancels it.
func (l *loop) interrupted(ctx context.Context) session.State {
	cause := context.Cause(ctx)
	if errors.Is(cause, errSessionDeadline) {
		l.logger.Warn().Int("step_number", l.current).Msg("Session deadline exceeded")
		failure := session.Failure{Kind: session.KindTimeout, Message: cause.Error()}
		if l.current == 0 {
			failure.Step = len(l.w.Snapshot().Steps) + 1
		}
		return l.fail(failure)
	}

	reason := "cancelled"
	if cause != nil {
		reason = cause.Error()
	}
	step := l.current
	if err := l.w.Cancel(reason); err != nil {
		l.logger.Error().Err(err).Msg("Failed to cancel session")
	}
	if step != 0 {
		observability.RecordStep(string(session.StepError))
	}
	l.current = 0

	snap := l.w.Snapshot()
	l.publish(eventhub.Event{
		Type:       eventhub.EventCancelled,
		StepNumber: step,
		Status:     string(session.StateCancelled),
		ErrorKind:  session.KindCancelled,
		Error:      reason,
	})
	l.logger.Info().Str("reason", reason).Msg("Session cancelled")
	l.record(snap)
	return session.StateCancelled
}

func (l *loop) record(snap session.Session) {
	kind := ""
	if snap.Error != nil {
		kind = snap.Error.Kind
	}
	observability.RecordSessionOutcome(string(snap.State), kind, snap.Elapsed(time.Now()))
	observability.RecordSessionAudit(context.Background(), snap.ID, "finish", string(snap.State), map[string]interface{}{
		"steps":      len(snap.Steps),
		"error_kind": kind,
	})
	l.logger.Info().
		Str("state", string(snap.State)).
		Int("steps", len(snap.Steps)).
		Str("error_kind", kind).
		Msg("Session finished")
}

func (l *loop) publish(ev eventhub.Event) {
	if _, err := l.engine.cfg.Hub.Publish(l.w.ID(), ev); err != nil {
		l.logger.Warn().Str("event_type", string(ev.Type)).Err(err).Msg("Failed to publish event")
	}
}

func failureFrom(err error) session.Failure {
	var terr *toolexecutor.ToolError
	if errors.As(err, &terr) {
		return session.Failure{Kind: string(terr.Kind), Message: terr.Error()}
	}
	return session.Failure{Kind: session.KindFatal, Message: err.Error()}
}
