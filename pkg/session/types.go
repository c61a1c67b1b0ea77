package session

import "time"

// State is the lifecycle state of a session.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// StepStatus is the status of a single step.
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// Failure kinds recorded on steps and sessions.
const (
	KindValidation  = "validation_error"
	KindUnknownTool = "unknown_tool_error"
	KindRetryable   = "retryable_error"
	KindFatal       = "fatal_error"
	KindTimeout     = "timeout_error"
	KindPlanner     = "planner_error"
	KindCancelled   = "cancelled"
)

// Action is the tool invocation a planner asked for.
type Action struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Failure describes why a step or a session did not succeed.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Step is the step the failure belongs to. For planner failures it is the
	// step being planned, which was never appended.
	Step int `json:"step,omitempty"`
}

func (f *Failure) Error() string {
	return f.Kind + ": " + f.Message
}

// Observation is what a dispatched tool call produced: a payload on success,
// a failure descriptor otherwise.
type Observation struct {
	Payload interface{} `json:"payload,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}

// Step is one thought/action/observation iteration.
type Step struct {
	Number      int          `json:"step_number"`
	Thought     string       `json:"thought"`
	Action      Action       `json:"action"`
	Observation *Observation `json:"observation,omitempty"`
	Status      StepStatus   `json:"status"`
	Attempts    int          `json:"attempts"`
	Error       *Failure     `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at,omitempty"`
}

// Session is one end-to-end execution for a single query.
type Session struct {
	ID          string                 `json:"session_id"`
	Query       string                 `json:"query"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	State       State                  `json:"state"`
	Steps       []Step                 `json:"steps"`
	Result      interface{}            `json:"result,omitempty"`
	Error       *Failure               `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
}

// Elapsed returns the execution time so far, or the total once terminal.
func (s Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.CompletedAt.IsZero() {
		return s.CompletedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

func (s Session) clone() Session {
	out := s
	out.Metadata = copyMap(s.Metadata)
	out.Result = copyValue(s.Result)
	out.Error = copyFailure(s.Error)
	if s.Steps != nil {
		out.Steps = make([]Step, len(s.Steps))
		for i, st := range s.Steps {
			out.Steps[i] = st.clone()
		}
	}
	return out
}

func (st Step) clone() Step {
	out := st
	out.Action.Arguments = copyMap(st.Action.Arguments)
	out.Error = copyFailure(st.Error)
	if st.Observation != nil {
		obs := Observation{
			Payload: copyValue(st.Observation.Payload),
			Failure: copyFailure(st.Observation.Failure),
		}
		out.Observation = &obs
	}
	return out
}

func copyFailure(f *Failure) *Failure {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue deep-copies the JSON-shaped values tools and planners produce.
// Other types are returned as-is and must be treated as immutable.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, e := range t {
			out[i] = copyMap(e)
		}
		return out
	default:
		return v
	}
}
