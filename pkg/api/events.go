package api

import "time"

type (
	// EventType identifies a lifecycle event raised by the engine
	EventType string

	// Event is a lifecycle notification published on the event hub.
	// Events are a best-effort side channel; delivery failures never
	// affect an execution's status
	Event struct {
		Type        EventType       `json:"type"`
		ExecutionID ExecutionID     `json:"execution_id"`
		Mode        ExecutionMode   `json:"mode,omitempty"`
		Status      ExecutionStatus `json:"status,omitempty"`
		Step        string          `json:"step,omitempty"`
		Error       *ExecError      `json:"error,omitempty"`
		Timestamp   time.Time       `json:"timestamp"`
	}
)

const (
	EventExecutionSubmitted EventType = "execution.submitted"
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionStep      EventType = "execution.step"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
)
