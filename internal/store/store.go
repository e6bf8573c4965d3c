// Package store persists definitions and execution records. Executions
// are created once, mutated only through atomic read-modify-write
// updates, and never deleted by the engine
package store

import (
	"context"
	"errors"
	"time"

	"github.com/loomworks/loom/pkg/api"
)

type (
	// Store is the persistence boundary for definitions and executions
	Store interface {
		CreateExecution(context.Context, *api.Execution) error
		GetExecution(
			context.Context, api.ExecutionID,
		) (*api.Execution, error)

		// UpdateExecution applies the mutator to the current record as a
		// single atomic read-modify-write. A nil result from the mutator
		// leaves the record untouched
		UpdateExecution(
			context.Context, api.ExecutionID, Mutator,
		) (*api.Execution, error)

		ListExecutions(context.Context, Filter) ([]*api.Execution, error)

		// ListRunningBefore returns the IDs of executions still marked
		// running that started before the cutoff; used by the stale sweep
		ListRunningBefore(
			context.Context, time.Time,
		) ([]api.ExecutionID, error)

		PutFlow(context.Context, *api.FlowDefinition) error
		GetFlow(context.Context, api.FlowID) (*api.FlowDefinition, error)
		ListFlows(context.Context) ([]*api.FlowDefinition, error)

		PutOrchestration(
			context.Context, *api.OrchestrationDefinition,
		) error
		GetOrchestration(
			context.Context, api.OrchestrationID,
		) (*api.OrchestrationDefinition, error)
		ListOrchestrations(
			context.Context,
		) ([]*api.OrchestrationDefinition, error)

		Close() error
	}

	// Mutator transforms an execution record inside an atomic update
	Mutator func(*api.Execution) (*api.Execution, error)

	// Filter narrows and bounds an execution listing. Results are always
	// ordered most-recent-first by start time
	Filter struct {
		DefinitionID string
		Status       api.ExecutionStatus
		TerminalOnly bool
		Limit        int
	}
)

var (
	ErrExecutionNotFound     = errors.New("execution not found")
	ErrExecutionExists       = errors.New("execution exists")
	ErrFlowNotFound          = errors.New("flow not found")
	ErrOrchestrationNotFound = errors.New("orchestration not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
)

// Matches reports whether an execution satisfies the filter
func (f Filter) Matches(x *api.Execution) bool {
	if f.DefinitionID != "" && x.DefinitionID != f.DefinitionID {
		return false
	}
	if f.Status != "" && x.Status != f.Status {
		return false
	}
	if f.TerminalOnly && !x.Status.Terminal() {
		return false
	}
	return true
}

// checkTransition enforces monotonic status writes: once a record is
// terminal its status never changes again
func checkTransition(prev, next api.ExecutionStatus) error {
	if prev == next {
		return nil
	}
	if !prev.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	return nil
}
