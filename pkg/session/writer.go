package session

import "fmt"

// Writer is the single mutation handle for one session. It is held by the
// loop task that owns the session; methods are still locked so status
// readers never observe a half-applied transition.
type Writer struct {
	store *Store
	rec   *record
}

// ID returns the session id.
func (w *Writer) ID() string {
	return w.rec.s.ID
}

// Snapshot returns a deep copy of the current session.
func (w *Writer) Snapshot() Session {
	w.rec.mu.Lock()
	defer w.rec.mu.Unlock()
	return w.rec.s.clone()
}

// Start moves the session from pending to running.
func (w *Writer) Start() error {
	w.rec.mu.Lock()
	defer w.rec.mu.Unlock()

	if w.rec.s.State != StatePending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, w.rec.s.State)
	}
	w.rec.s.State = StateRunning
	w.rec.s.StartedAt = w.store.now()
	return nil
}

// AppendStep appends an in_progress step and returns its number.
func (w *Writer) AppendStep(thought string, action Action) (int, error) {
	w.rec.mu.Lock()
	defer w.rec.mu.Unlock()

	s := &w.rec.s
	if s.State != StateRunning {
		return 0, ErrNotRunning
	}
	if n := len(s.Steps); n > 0 && s.Steps[n-1].Status == StepInProgress {
		return 0, ErrStepInProgress
	}

	step := Step{
		Number:    len(s.Steps) + 1,
		Thought:   thought,
		Action:    Action{Tool: action.Tool, Arguments: copyMap(action.Arguments)},
		Status:    StepInProgress,
		StartedAt: w.store.now(),
	}
	s.Steps = append(s.Steps, step)
	return step.Number, nil
}

// RecordAttempt counts one dispatch of the in-progress step.
func (w *Writer) RecordAttempt(number int) error {
	w.rec.mu.Lock()
	defer w.rec.mu.Unlock()

	step, err := w.inProgress(number)
	if err != nil {
		return err
	}
	step.Attempts++
	return nil
}

// CompleteStep marks the in-progress step completed. obs may be nil for the
// final_response step, which dispatches nothing.
func (w *Writer) CompleteStep(number int, obs *Observation) error {
	w.rec.mu.Lock()
	defer w.rec.mu.Unlock()

	step, err := w.inProgress(number)
	if err != nil {
		return err
	}
	if obs != nil {
		c := Observation{Payload: copyValue(obs.Payload), Failure: copyFailure(obs.Failure)}
		step.Observation = &c
	}
	step.Status = StepCompleted
	step.FinishedAt = w.store.now()
	return nil
}

// FailStep marks the in-progress step as error. obs is attached only when the
// tool was actually dispatched.
func (w *Writer) FailStep(number int, failure Failure, obs *Observation) error {
	w.rec.mu.Lock()
	defer w.rec.mu.Unlock()

	step, err := w.inProgress(number)
	if err != nil {
		return err
	}
	failure.Step = number
	step.Error = &failure
	if obs != nil {
		c := Observation{Payload: copyValue(obs.Payload), Failure: copyFailure(obs.Failure)}
		step.Observation = &c
	}
	step.Status = StepError
	step.FinishedAt = w.store.now()
	return nil
}

// Complete ends the session successfully with result.
func (w *Writer) Complete(result interface{}) error {
	return w.finish(StateCompleted, func(s *Session) { s.Result = copyValue(result) })
}

// Fail ends the session with failure.
func (w *Writer) Fail(failure Failure) error {
	return w.finish(StateFailed, func(s *Session) {
		f := failure
		s.Error = &f
	})
}

// Cancel ends the session as cancelled. An in-progress step is marked error
// with a cancelled failure; no steps are appended afterwards.
func (w *Writer) Cancel(reason string) error {
	w.rec.mu.Lock()
	s := &w.rec.s
	if s.State.Terminal() {
		w.rec.mu.Unlock()
		return ErrTerminal
	}
	failure := Failure{Kind: KindCancelled, Message: reason}
	if n := len(s.Steps); n > 0 && s.Steps[n-1].Status == StepInProgress {
		step := &s.Steps[n-1]
		f := failure
		f.Step = step.Number
		step.Error = &f
		step.Status = StepError
		step.FinishedAt = w.store.now()
		failure.Step = step.Number
	}
	s.Error = &failure
	s.State = StateCancelled
	s.CompletedAt = w.store.now()
	w.rec.mu.Unlock()

	w.store.updateActiveMetric()
	return nil
}

func (w *Writer) finish(state State, apply func(*Session)) error {
	w.rec.mu.Lock()
	s := &w.rec.s
	if s.State.Terminal() {
		w.rec.mu.Unlock()
		return ErrTerminal
	}
	if state == StateCompleted && s.State != StateRunning {
		w.rec.mu.Unlock()
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, s.State)
	}
	if n := len(s.Steps); n > 0 && s.Steps[n-1].Status == StepInProgress {
		w.rec.mu.Unlock()
		return ErrStepInProgress
	}
	apply(s)
	s.State = state
	s.CompletedAt = w.store.now()
	w.rec.mu.Unlock()

	w.store.updateActiveMetric()
	return nil
}

func (w *Writer) inProgress(number int) (*Step, error) {
	s := &w.rec.s
	if s.State.Terminal() {
		return nil, ErrTerminal
	}
	n := len(s.Steps)
	if n == 0 || s.Steps[n-1].Status != StepInProgress {
		return nil, ErrNoStepInProgress
	}
	if s.Steps[n-1].Number != number {
		return nil, fmt.Errorf("%w: got %d, in progress %d", ErrStepMismatch, number, s.Steps[n-1].Number)
	}
	return &s.Steps[n-1], nil
}
