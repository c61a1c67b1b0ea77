package gateway

import (
	"time"

	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
)

// RunRequest is the body of POST /api/agent/run.
type RunRequest struct {
	Query       string                 `json:"query"`
	UserID      string                 `json:"user_id,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	// Streaming defaults to true when omitted.
	Streaming      *bool  `json:"streaming,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (r RunRequest) streaming() bool {
	return r.Streaming == nil || *r.Streaming
}

func (r RunRequest) metadata() map[string]interface{} {
	meta := make(map[string]interface{})
	if r.UserID != "" {
		meta["user_id"] = r.UserID
	}
	if len(r.Preferences) > 0 {
		meta["preferences"] = r.Preferences
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// RunResponse is the blocking result of a run, also served by the status route.
type RunResponse struct {
	SessionID            string                 `json:"session_id"`
	Query                string                 `json:"query"`
	Status               session.State          `json:"status"`
	Steps                []session.Step         `json:"steps"`
	FinalResult          interface{}            `json:"final_result,omitempty"`
	Error                *session.Failure       `json:"error,omitempty"`
	ExecutionTimeSeconds float64                `json:"execution_time_seconds"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

func newRunResponse(s session.Session, now time.Time) RunResponse {
	steps := s.Steps
	if steps == nil {
		steps = []session.Step{}
	}
	return RunResponse{
		SessionID:            s.ID,
		Query:                s.Query,
		Status:               s.State,
		Steps:                steps,
		FinalResult:          s.Result,
		Error:                s.Error,
		ExecutionTimeSeconds: s.Elapsed(now).Seconds(),
		Metadata:             s.Metadata,
	}
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	InputSchema    map[string]interface{} `json:"input_schema"`
	OutputSchema   map[string]interface{} `json:"output_schema,omitempty"`
	TimeoutSeconds float64                `json:"timeout_seconds"`
	Retryable      bool                   `json:"retryable"`
}

func newToolInfo(c toolexecutor.Contract) ToolInfo {
	return ToolInfo{
		Name:           c.Name,
		Description:    c.Description,
		InputSchema:    c.InputSchema(),
		OutputSchema:   c.OutputSchema,
		TimeoutSeconds: c.EffectiveTimeout(0).Seconds(),
		Retryable:      c.Retryable,
	}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}
