// Package engine owns the run lifecycle for flow and orchestration
// executions: it creates the record, dispatches work asynchronously,
// applies retry and timeout policy, and is the only component that
// mutates an execution's status
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomworks/loom/internal/adapter"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

type (
	// Engine is the execution supervisor for flows and orchestrations
	Engine struct {
		store    store.Store
		provider provider.Provider
		adapters adapter.Invoker
		hub      events.Hub
		notifier *Notifier
		scripts  *ScriptRegistry
		config   *config.Config
		ctx      context.Context
		cancel   context.CancelFunc
		wg       sync.WaitGroup
		active   sync.Map // map[api.ExecutionID]*runState
	}

	// runState tracks a single execution's in-process dispatch guard and
	// cooperative cancellation flag
	runState struct {
		dispatched atomic.Bool
		cancelled  atomic.Bool
	}
)

var (
	ErrShutdownTimeout    = errors.New("shutdown timeout exceeded")
	ErrUnknownMode        = errors.New("unknown execution mode")
	ErrDefinitionArchived = errors.New("definition is archived")
)

// New creates an engine with the given store, provider, adapter invoker,
// event hub, and configuration
func New(
	st store.Store, p provider.Provider, adapters adapter.Invoker,
	hub events.Hub, cfg *config.Config,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    st,
		provider: p,
		adapters: adapters,
		hub:      hub,
		notifier: NewNotifier(cfg.NotifyURL),
		scripts:  NewScriptRegistry(),
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the background stale-execution sweep
func (e *Engine) Start() {
	slog.Info("Engine starting")

	e.wg.Add(1)
	go e.sweepLoop()
}

// Stop gracefully shuts down the engine, waiting for in-flight
// executions to finalize up to the shutdown timeout
func (e *Engine) Stop() error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// GetExecution reads an execution record
func (e *Engine) GetExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.Execution, error) {
	return e.store.GetExecution(ctx, id)
}

// ListExecutions reads execution records per the filter, ordered
// most-recent-first
func (e *Engine) ListExecutions(
	ctx context.Context, f store.Filter,
) ([]*api.Execution, error) {
	return e.store.ListExecutions(ctx, f)
}

// Cancel requests cooperative cancellation of a pending or running
// execution. In-flight provider calls are not forcibly aborted; their
// results are discarded once the flag is observed
func (e *Engine) Cancel(ctx context.Context, id api.ExecutionID) error {
	x, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if x.Status.Terminal() {
		return nil
	}

	rs := e.runStateFor(id)
	rs.cancelled.Store(true)

	slog.Info("Cancellation requested",
		log.ExecutionID(id),
		log.Status(x.Status))
	return nil
}

func (e *Engine) runStateFor(id api.ExecutionID) *runState {
	rs, _ := e.active.LoadOrStore(id, &runState{})
	return rs.(*runState)
}

func (e *Engine) publish(ev *api.Event) {
	if e.hub == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.hub.Publish(e.ctx, ev)
}
