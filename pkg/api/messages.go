package api

import "time"

type (
	// SubmitRequest contains parameters for submitting a new execution
	SubmitRequest struct {
		DefinitionID string        `json:"definition_id"`
		Mode         ExecutionMode `json:"mode"`
		Input        Args          `json:"input,omitempty"`
	}

	// SubmitResponse is returned when a submit succeeds. The execution is
	// dispatched asynchronously; callers observe progress by polling
	SubmitResponse struct {
		ExecutionID ExecutionID     `json:"execution_id"`
		Status      ExecutionStatus `json:"status"`
	}

	// ExecutionDigest provides summary information about an execution
	ExecutionDigest struct {
		ID           ExecutionID     `json:"id"`
		DefinitionID string          `json:"definition_id"`
		Mode         ExecutionMode   `json:"mode"`
		Status       ExecutionStatus `json:"status"`
		Error        *ExecError      `json:"error,omitempty"`
		StartedAt    time.Time       `json:"started_at"`
		CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	}

	// ExecutionsListResponse contains a list of execution summaries,
	// ordered most-recent-first. Consumers deduplicate by the stable ID
	ExecutionsListResponse struct {
		Executions []*ExecutionDigest `json:"executions"`
		Count      int                `json:"count"`
	}

	// FlowRegisteredResponse is returned when a flow definition is stored
	FlowRegisteredResponse struct {
		Flow    *FlowDefinition `json:"flow"`
		Message string          `json:"message"`
	}

	// OrchestrationRegisteredResponse is returned when an orchestration
	// definition is stored
	OrchestrationRegisteredResponse struct {
		Orchestration *OrchestrationDefinition `json:"orchestration"`
		Message       string                   `json:"message"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Status  string `json:"status"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)

// Digest projects an execution into its polling summary
func (x *Execution) Digest() *ExecutionDigest {
	return &ExecutionDigest{
		ID:           x.ID,
		DefinitionID: x.DefinitionID,
		Mode:         x.Mode,
		Status:       x.Status,
		Error:        x.Error,
		StartedAt:    x.StartedAt,
		CompletedAt:  x.CompletedAt,
	}
}
