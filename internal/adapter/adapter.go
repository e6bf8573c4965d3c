// Package adapter routes flow action nodes to integration adapters.
// Adapter failures are recorded against the node and only abort the run
// when the node is marked critical
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loomworks/loom/pkg/api"
)

type (
	// Invoker dispatches a named integration action with resolved
	// parameters
	Invoker interface {
		Invoke(context.Context, string, api.Args) (any, error)
	}

	// Func is a single integration action
	Func func(context.Context, api.Args) (any, error)

	// Registry maps action names to in-process adapter functions, with an
	// optional fallback invoker for actions it does not know
	Registry struct {
		mu       sync.RWMutex
		actions  map[string]Func
		fallback Invoker
	}
)

var (
	ErrUnknownAction = errors.New("unknown action")
)

var _ Invoker = (*Registry)(nil)

// NewRegistry creates an empty adapter registry. When fallback is
// non-nil, unknown actions are delegated to it
func NewRegistry(fallback Invoker) *Registry {
	return &Registry{
		actions:  map[string]Func{},
		fallback: fallback,
	}
}

// Register adds or replaces an action handler
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// Invoke runs the named action. Failures are returned as AdapterError so
// the interpreter can record them per-node
func (r *Registry) Invoke(
	ctx context.Context, name string, params api.Args,
) (any, error) {
	r.mu.RLock()
	fn, ok := r.actions[name]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		if fallback != nil {
			return fallback.Invoke(ctx, name, params)
		}
		return nil, api.NewExecError(api.ErrorAdapter,
			fmt.Sprintf("%s: %s", ErrUnknownAction, name))
	}

	res, err := fn(ctx, params)
	if err != nil {
		var ee *api.ExecError
		if errors.As(err, &ee) {
			return nil, ee
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, api.NewExecError(api.ErrorTimeout, err.Error())
		}
		return nil, api.NewExecError(api.ErrorAdapter, err.Error())
	}
	return res, nil
}
