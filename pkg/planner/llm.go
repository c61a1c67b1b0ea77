package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSystemPrompt instructs the model to answer with one JSON decision.
const DefaultSystemPrompt = `You are Nexus, a financial research agent that works in Thought/Action/Observation steps.
At every turn reply with exactly one JSON object and nothing else:
{"thought": "<your reasoning>", "action": {"tool": "<tool name>", "arguments": {...}}}
Use only the tools listed by the user. When the task is done use the tool "final_response"
and put the complete answer for the user in its arguments.`

// Message is one chat turn sent to a Completer.
type Message struct {
	Role    string // user or assistant
	Content string
}

// CompletionRequest is a provider-neutral chat request.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
}

// Completer is an LLM chat endpoint returning plain text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Provider() string
}

// LLMOptions configures an LLM planner.
type LLMOptions struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Logger       *zerolog.Logger
}

// LLM asks a chat model for the next decision.
type LLM struct {
	completer Completer
	tools     []toolexecutor.Contract
	opts      LLMOptions
	logger    zerolog.Logger
}

// NewLLM creates a planner that offers tools to the model behind c.
func NewLLM(c Completer, tools []toolexecutor.Contract, opts LLMOptions) *LLM {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	l := log.Logger
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &LLM{
		completer: c,
		tools:     tools,
		opts:      opts,
		logger:    l.With().Str("planner", c.Provider()).Logger(),
	}
}

// Name returns the provider name.
func (p *LLM) Name() string {
	return p.completer.Provider()
}

// Next sends the query, the tool catalog and the history to the model and
// parses its reply.
func (p *LLM) Next(ctx context.Context, query string, history []session.Step) (Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "nexus.planner", "planner.next",
		attribute.String("planner.provider", p.completer.Provider()),
		attribute.Int("planner.history", len(history)),
	)
	defer span.End()

	start := time.Now()
	req := CompletionRequest{
		Model:        p.opts.Model,
		SystemPrompt: p.opts.SystemPrompt,
		Messages:     buildMessages(query, p.tools, history),
		Temperature:  p.opts.Temperature,
		MaxTokens:    p.opts.MaxTokens,
	}

	text, err := p.completer.Complete(ctx, req)
	if err == nil {
		var d Decision
		d, err = ParseDecision(text)
		if err == nil {
			logger := tracing.LoggerFromContext(ctx, p.logger)
			logger.Debug().
				Str("tool", d.Action.Tool).
				Dur("duration", time.Since(start)).
				Msg("Planner decided")
			return d, nil
		}
	}

	tracing.FailSpan(span, err)
	return Decision{}, fmt.Errorf("%s planner: %w", p.completer.Provider(), err)
}

func buildMessages(query string, tools []toolexecutor.Contract, history []session.Step) []Message {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(query)
	b.WriteString("\n\nAvailable tools:\n")
	for _, c := range tools {
		schema, _ := json.Marshal(c.InputSchema())
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", c.Name, c.Description, schema)
	}
	fmt.Fprintf(&b, "- %s: finish the task; arguments hold the final answer\n", toolexecutor.FinalResponse)

	messages := []Message{{Role: "user", Content: b.String()}}
	for _, st := range history {
		decision, _ := json.Marshal(Decision{Thought: st.Thought, Action: st.Action})
		messages = append(messages,
			Message{Role: "assistant", Content: string(decision)},
			Message{Role: "user", Content: "Observation: " + observationText(st)},
		)
	}
	return messages
}

func observationText(st session.Step) string {
	switch {
	case st.Observation != nil && st.Observation.Failure != nil:
		return "error " + st.Observation.Failure.Error()
	case st.Observation != nil:
		data, err := json.Marshal(st.Observation.Payload)
		if err != nil {
			return fmt.Sprintf("%v", st.Observation.Payload)
		}
		return string(data)
	case st.Error != nil:
		return "error " + st.Error.Error()
	default:
		return "none"
	}
}

type rawDecision struct {
	Thought string `json:"thought"`
	Action  struct {
		Tool       string                 `json:"tool"`
		Arguments  map[string]interface{} `json:"arguments"`
		Parameters map[string]interface{} `json:"parameters"`
	} `json:"action"`
}

// ParseDecision extracts a Decision from model output. Code fences and
// surrounding prose are ignored; invalid JSON is repaired once.
func ParseDecision(text string) (Decision, error) {
	body := extractObject(text)
	if body == "" {
		return Decision{}, ErrEmptyResponse
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(body)
		if repairErr != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
		}
	}

	if raw.Action.Tool == "" {
		return Decision{}, fmt.Errorf("%w: action.tool is empty", ErrInvalidDecision)
	}
	args := raw.Action.Arguments
	if args == nil {
		args = raw.Action.Parameters
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	return Decision{
		Thought: raw.Thought,
		Action:  session.Action{Tool: raw.Action.Tool, Arguments: args},
	}, nil
}

func extractObject(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return text
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}
