package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/nexus/internal/observability"
	"github.com/harun/nexus/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// errStepDeadline is the cause attached to the per-call deadline so it can be
// told apart from a deadline inherited from the caller.
var errStepDeadline = errors.New("step deadline exceeded")

// Dispatcher performs single-shot tool calls. It validates arguments,
// enforces the deadline and classifies failures; it never retries and never
// touches session state.
type Dispatcher struct {
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger ...zerolog.Logger) *Dispatcher {
	observability.EnsureRegistered()

	l := log.Logger
	if len(logger) > 0 {
		l = logger[0]
	}
	return &Dispatcher{logger: l}
}

type callResult struct {
	value interface{}
	err   error
}

// Invoke validates args against c and calls its handler under a deadline of
// c.EffectiveTimeout(timeout). The returned error is always a *ToolError.
func (d *Dispatcher) Invoke(ctx context.Context, c Contract, args map[string]interface{}, timeout time.Duration) (interface{}, error) {
	ctx, span := tracing.StartSpan(ctx, "nexus.toolexecutor", "toolexecutor.invoke",
		attribute.String("tool.name", c.Name),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("tool", c.Name).Logger()
	start := time.Now()

	value, terr := d.invoke(ctx, c, args, timeout)

	duration := time.Since(start)
	if terr != nil {
		tracing.FailSpan(span, terr)
		observability.RecordToolExecution(c.Name, duration, string(terr.Kind))
		logger.Warn().
			Str("error_kind", string(terr.Kind)).
			Dur("duration", duration).
			Err(terr).
			Msg("Tool execution failed")
		return nil, terr
	}

	observability.RecordToolExecution(c.Name, duration, "")
	logger.Debug().Dur("duration", duration).Msg("Tool execution completed")
	return value, nil
}

func (d *Dispatcher) invoke(ctx context.Context, c Contract, args map[string]interface{}, timeout time.Duration) (interface{}, *ToolError) {
	if c.Handler == nil {
		return nil, &ToolError{Kind: KindFatal, Tool: c.Name, Message: "tool has no handler"}
	}

	params := applyDefaults(c.Parameters, args)
	if terr := validateArguments(c, params); terr != nil {
		return nil, terr
	}

	if err := ctx.Err(); err != nil {
		return nil, d.contextFailure(ctx, c)
	}

	deadline := c.EffectiveTimeout(timeout)
	callCtx, cancel := context.WithTimeoutCause(ctx, deadline, errStepDeadline)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("%w: handler panic: %v", ErrFatal, r)}
			}
		}()
		v, err := c.Handler(callCtx, params)
		done <- callResult{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.value, nil
		}
		if callCtx.Err() != nil {
			return nil, d.deadlineFailure(ctx, callCtx, c, deadline)
		}
		return nil, classify(c, res.err)
	case <-callCtx.Done():
		// The handler goroutine sees callCtx cancelled and is abandoned.
		return nil, d.deadlineFailure(ctx, callCtx, c, deadline)
	}
}

// deadlineFailure decides whether callCtx ended because of the per-call
// deadline, the caller's deadline or the caller's cancellation.
func (d *Dispatcher) deadlineFailure(parent, callCtx context.Context, c Contract, deadline time.Duration) *ToolError {
	if parent.Err() != nil {
		return d.contextFailure(parent, c)
	}
	if errors.Is(context.Cause(callCtx), errStepDeadline) {
		return &ToolError{
			Kind:             KindTimeout,
			Tool:             c.Name,
			Message:          fmt.Sprintf("no result after %v", deadline),
			Err:              context.DeadlineExceeded,
			retryableTimeout: c.Retryable,
		}
	}
	return d.contextFailure(callCtx, c)
}

func (d *Dispatcher) contextFailure(ctx context.Context, c Contract) *ToolError {
	cause := context.Cause(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ToolError{Kind: KindTimeout, Tool: c.Name, Message: "caller deadline exceeded", Err: cause}
	}
	return &ToolError{Kind: KindCancelled, Tool: c.Name, Message: "call cancelled", Err: cause}
}

// classify maps a handler error onto the retryable/fatal split.
func classify(c Contract, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		out := *te
		if out.Tool == "" {
			out.Tool = c.Name
		}
		return &out
	}

	kind := KindFatal
	if c.Retryable && !errors.Is(err, ErrFatal) {
		kind = KindRetryable
	}
	return &ToolError{Kind: kind, Tool: c.Name, Message: err.Error(), Err: err}
}

func validateArguments(c Contract, params map[string]interface{}) *ToolError {
	schema := c.schema
	if schema == nil {
		compiled, err := compileSchema(c.Parameters)
		if err != nil {
			return &ToolError{Kind: KindFatal, Tool: c.Name, Message: "invalid input schema", Err: err}
		}
		schema = compiled
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &ToolError{Kind: KindValidation, Tool: c.Name, Message: err.Error(), Err: err}
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.String())
	}
	return &ToolError{
		Kind:    KindValidation,
		Tool:    c.Name,
		Field:   offendingField(errs[0]),
		Message: strings.Join(messages, "; "),
	}
}

// offendingField names the argument a schema error is about. Root-level
// errors (missing required, unexpected property) carry it in Details.
func offendingField(e gojsonschema.ResultError) string {
	if field := e.Field(); field != "" && field != "(root)" {
		return field
	}
	details := e.Details()
	if p, ok := details["property"].(string); ok && p != "" {
		return p
	}
	return "(root)"
}
