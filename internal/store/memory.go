package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/api"
)

// Memory is an in-process Store used by tests and store-free deployments
type Memory struct {
	mu    sync.RWMutex
	execs map[api.ExecutionID]*api.Execution
	flows map[api.FlowID]*api.FlowDefinition
	orchs map[api.OrchestrationID]*api.OrchestrationDefinition
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		execs: map[api.ExecutionID]*api.Execution{},
		flows: map[api.FlowID]*api.FlowDefinition{},
		orchs: map[api.OrchestrationID]*api.OrchestrationDefinition{},
	}
}

func (m *Memory) CreateExecution(_ context.Context, x *api.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.execs[x.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExecutionExists, x.ID)
	}
	m.execs[x.ID] = x
	return nil
}

func (m *Memory) GetExecution(
	_ context.Context, id api.ExecutionID,
) (*api.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	x, ok := m.execs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return x, nil
}

func (m *Memory) UpdateExecution(
	_ context.Context, id api.ExecutionID, mutate Mutator,
) (*api.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	x, ok := m.execs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}

	next, err := mutate(x)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return x, nil
	}
	if err := checkTransition(x.Status, next.Status); err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, x.Status, next.Status)
	}

	m.execs[id] = next
	return next, nil
}

func (m *Memory) ListExecutions(
	_ context.Context, f Filter,
) ([]*api.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []*api.Execution
	for _, x := range m.execs {
		if f.Matches(x) {
			res = append(res, x)
		}
	}

	slices.SortFunc(res, func(a, b *api.Execution) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *Memory) ListRunningBefore(
	_ context.Context, cutoff time.Time,
) ([]api.ExecutionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []api.ExecutionID
	for id, x := range m.execs {
		if x.Status == api.ExecutionRunning && x.StartedAt.Before(cutoff) {
			res = append(res, id)
		}
	}
	return res, nil
}

func (m *Memory) PutFlow(_ context.Context, d *api.FlowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[d.ID] = d
	return nil
}

func (m *Memory) GetFlow(
	_ context.Context, id api.FlowID,
) (*api.FlowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return d, nil
}

func (m *Memory) ListFlows(
	_ context.Context,
) ([]*api.FlowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]*api.FlowDefinition, 0, len(m.flows))
	for _, d := range m.flows {
		res = append(res, d)
	}
	slices.SortFunc(res, func(a, b *api.FlowDefinition) int {
		return cmpString(a.ID, b.ID)
	})
	return res, nil
}

func (m *Memory) PutOrchestration(
	_ context.Context, d *api.OrchestrationDefinition,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orchs[d.ID] = d
	return nil
}

func (m *Memory) GetOrchestration(
	_ context.Context, id api.OrchestrationID,
) (*api.OrchestrationDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.orchs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrchestrationNotFound, id)
	}
	return d, nil
}

func (m *Memory) ListOrchestrations(
	_ context.Context,
) ([]*api.OrchestrationDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]*api.OrchestrationDefinition, 0, len(m.orchs))
	for _, d := range m.orchs {
		res = append(res, d)
	}
	slices.SortFunc(res, func(a, b *api.OrchestrationDefinition) int {
		return cmpString(a.ID, b.ID)
	})
	return res, nil
}

func (m *Memory) Close() error {
	return nil
}

func cmpString[T ~string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
