package api

import (
	"slices"
	"time"
)

type (
	// ExecutionStatus represents the current state of an execution. The
	// state machine is pending -> running -> {completed | failed}; a
	// terminal status is never regressed
	ExecutionStatus string

	// ExecutionMode distinguishes flow runs from orchestration runs
	ExecutionMode string

	// Execution is one tracked run of a flow or orchestration against a
	// specific input. Executions are immutable snapshots: the definition
	// is copied in at submit time and later definition mutations never
	// change a recorded run
	Execution struct {
		ID           ExecutionID              `json:"id"`
		DefinitionID string                   `json:"definition_id"`
		Mode         ExecutionMode            `json:"mode"`
		Status       ExecutionStatus          `json:"status"`
		Input        Args                     `json:"input,omitempty"`
		Output       any                      `json:"output,omitempty"`
		Steps        []*StepResult            `json:"steps,omitempty"`
		Note         string                   `json:"note,omitempty"`
		Error        *ExecError               `json:"error,omitempty"`
		Tokens       int64                    `json:"tokens,omitempty"`
		Duration     int64                    `json:"duration,omitempty"`
		Flow         *FlowDefinition          `json:"flow,omitempty"`
		Orch         *OrchestrationDefinition `json:"orchestration,omitempty"`
		StartedAt    time.Time                `json:"started_at"`
		CompletedAt  *time.Time               `json:"completed_at,omitempty"`
	}

	// StepResult records the outcome of a single node or agent within an
	// execution, in the order the steps completed
	StepResult struct {
		ID       string     `json:"id"`
		Name     string     `json:"name,omitempty"`
		Output   any        `json:"output,omitempty"`
		Tokens   int64      `json:"tokens,omitempty"`
		Duration int64      `json:"duration,omitempty"`
		Error    *ExecError `json:"error,omitempty"`
	}
)

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

const (
	ModeFlow          ExecutionMode = "flow"
	ModeOrchestration ExecutionMode = "orchestration"
)

// Terminal reports whether the status is completed or failed
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// CanTransitionTo reports whether a status transition is legal. Statuses
// are monotonic: a terminal execution never changes again
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionFailed
	case ExecutionRunning:
		return next.Terminal()
	default:
		return false
	}
}

// SetStatus returns a new Execution with the updated status
func (x *Execution) SetStatus(s ExecutionStatus) *Execution {
	res := *x
	res.Status = s
	return &res
}

// SetOutput returns a new Execution with the output payload set
func (x *Execution) SetOutput(out any) *Execution {
	res := *x
	res.Output = out
	return &res
}

// AddStep returns a new Execution with the step result appended and the
// aggregate token and duration counters updated
func (x *Execution) AddStep(step *StepResult) *Execution {
	res := *x
	res.Steps = append(slices.Clone(x.Steps), step)
	res.Tokens += step.Tokens
	return &res
}

// SetNote returns a new Execution with the partial-failure note set
func (x *Execution) SetNote(note string) *Execution {
	res := *x
	res.Note = note
	return &res
}

// SetError returns a new Execution with the error set
func (x *Execution) SetError(err *ExecError) *Execution {
	res := *x
	res.Error = err
	return &res
}

// SetCompletedAt returns a new Execution with the completion timestamp
// and aggregate duration set
func (x *Execution) SetCompletedAt(t time.Time) *Execution {
	res := *x
	res.CompletedAt = &t
	res.Duration = t.Sub(x.StartedAt).Milliseconds()
	return &res
}

// Succeeded returns the subset of step results without errors
func (x *Execution) Succeeded() []*StepResult {
	var res []*StepResult
	for _, s := range x.Steps {
		if s.Error == nil {
			res = append(res, s)
		}
	}
	return res
}

// Failed returns the subset of step results carrying errors
func (x *Execution) Failed() []*StepResult {
	var res []*StepResult
	for _, s := range x.Steps {
		if s.Error != nil {
			res = append(res, s)
		}
	}
	return res
}
