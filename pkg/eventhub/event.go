package eventhub

import (
	"time"

	"github.com/harun/nexus/pkg/session"
)

// EventType names an event on a session stream.
type EventType string

const (
	EventSessionStart      EventType = "session_start"
	EventStepUpdate        EventType = "step_update"
	EventExecutionComplete EventType = "execution_complete"
	EventError             EventType = "error"
	EventCancelled         EventType = "cancelled"
)

// Terminal reports whether the event ends its stream.
func (t EventType) Terminal() bool {
	return t == EventExecutionComplete || t == EventError || t == EventCancelled
}

// Event is the wire shape streamed to subscribers.
type Event struct {
	Type        EventType            `json:"type"`
	SessionID   string               `json:"session_id"`
	Seq         int64                `json:"seq"`
	StepNumber  int                  `json:"step_number,omitempty"`
	Thought     string               `json:"thought,omitempty"`
	Action      *session.Action      `json:"action,omitempty"`
	Observation *session.Observation `json:"observation,omitempty"`
	Status      string               `json:"status,omitempty"`
	Query       string               `json:"query,omitempty"`
	Result      interface{}          `json:"result,omitempty"`
	ErrorKind   string               `json:"error_kind,omitempty"`
	Error       string               `json:"error,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}
