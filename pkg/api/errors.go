package api

import "fmt"

type (
	// ErrorKind classifies a failure recorded against a step or an
	// execution
	ErrorKind string

	// ExecError is the user-visible form of a step or execution failure.
	// It always carries the failing step's identity and the error kind
	ExecError struct {
		Kind    ErrorKind `json:"kind"`
		Step    string    `json:"step,omitempty"`
		Message string    `json:"message,omitempty"`
	}
)

const (
	// ErrorValidation indicates a bad definition or input; never retried
	ErrorValidation ErrorKind = "ValidationError"

	// ErrorRateLimited indicates the reasoning provider rejected the call
	// due to rate limiting; retried per policy
	ErrorRateLimited ErrorKind = "RateLimited"

	// ErrorTimeout indicates a provider or adapter call exceeded its hard
	// timeout; retried per policy
	ErrorTimeout ErrorKind = "Timeout"

	// ErrorInvalidRequest indicates the provider rejected the request as
	// malformed
	ErrorInvalidRequest ErrorKind = "InvalidRequest"

	// ErrorAdapter indicates an integration adapter call failed;
	// non-fatal unless the node is marked critical
	ErrorAdapter ErrorKind = "AdapterError"

	// ErrorCancelled indicates the execution was cancelled by request
	ErrorCancelled ErrorKind = "Cancelled"

	// ErrorInternalFault indicates an engine-side fault; always terminal
	ErrorInternalFault ErrorKind = "InternalFault"
)

func (e *ExecError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Step, e.Message)
}

// Retryable reports whether a failure of this kind may be retried by a
// step-local retry policy
func (e *ExecError) Retryable() bool {
	switch e.Kind {
	case ErrorRateLimited, ErrorTimeout, ErrorAdapter:
		return true
	default:
		return false
	}
}

// WithStep returns a copy of the error attributed to the given step
func (e *ExecError) WithStep(step string) *ExecError {
	res := *e
	res.Step = step
	return &res
}

// NewExecError creates an ExecError of the given kind
func NewExecError(kind ErrorKind, msg string) *ExecError {
	return &ExecError{Kind: kind, Message: msg}
}
