package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

// Submit creates an execution in pending state and returns it
// immediately; the actual work is dispatched on an independent
// goroutine. Callers observe progress by polling
func (e *Engine) Submit(
	ctx context.Context, req *api.SubmitRequest,
) (*api.Execution, error) {
	x := &api.Execution{
		ID:           api.ExecutionID(uuid.NewString()),
		DefinitionID: req.DefinitionID,
		Mode:         req.Mode,
		Status:       api.ExecutionPending,
		Input:        req.Input,
		StartedAt:    time.Now(),
	}

	switch req.Mode {
	case api.ModeFlow:
		def, err := e.store.GetFlow(ctx, api.FlowID(req.DefinitionID))
		if err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, api.NewExecError(api.ErrorValidation, err.Error())
		}
		x.Flow = def.Clone()

	case api.ModeOrchestration:
		def, err := e.store.GetOrchestration(
			ctx, api.OrchestrationID(req.DefinitionID),
		)
		if err != nil {
			return nil, err
		}
		if def.Status == api.DefinitionArchived {
			return nil, api.NewExecError(api.ErrorValidation,
				fmt.Sprintf("%s: %s", ErrDefinitionArchived, def.ID))
		}
		if err := def.Validate(); err != nil {
			return nil, api.NewExecError(api.ErrorValidation, err.Error())
		}
		x.Orch = def.Clone()

	default:
		return nil, api.NewExecError(api.ErrorValidation,
			fmt.Sprintf("%s: %s", ErrUnknownMode, req.Mode))
	}

	if err := e.store.CreateExecution(ctx, x); err != nil {
		return nil, err
	}

	e.publish(&api.Event{
		Type:        api.EventExecutionSubmitted,
		ExecutionID: x.ID,
		Mode:        x.Mode,
		Status:      x.Status,
	})

	slog.Info("Execution submitted",
		log.ExecutionID(x.ID),
		log.DefinitionID(x.DefinitionID),
		slog.String("mode", string(x.Mode)))

	e.wg.Add(1)
	go e.dispatch(x.ID)

	return x, nil
}

// Dispatch transitions an execution to running, runs the interpreter or
// coordinator, and writes the terminal state. Re-dispatching an already
// running or terminal execution is a no-op
func (e *Engine) Dispatch(id api.ExecutionID) {
	e.wg.Add(1)
	go e.dispatch(id)
}

func (e *Engine) dispatch(id api.ExecutionID) {
	defer e.wg.Done()

	rs := e.runStateFor(id)
	if !rs.dispatched.CompareAndSwap(false, true) {
		return
	}
	defer e.active.Delete(id)

	x, ok := e.startRun(id, rs)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatch panic",
				log.ExecutionID(id),
				slog.Any("panic", r))
			e.finalize(id, nil, "", api.NewExecError(
				api.ErrorInternalFault, "internal fault",
			))
		}
	}()

	var (
		output any
		note   string
		runErr *api.ExecError
	)
	switch x.Mode {
	case api.ModeFlow:
		output, note, runErr = e.runFlow(e.ctx, rs, x)
	case api.ModeOrchestration:
		output, note, runErr = e.runOrchestration(e.ctx, rs, x)
	default:
		runErr = api.NewExecError(api.ErrorInternalFault,
			fmt.Sprintf("%s: %s", ErrUnknownMode, x.Mode))
	}

	e.finalize(id, output, note, runErr)
}

// startRun transitions pending -> running, honoring a cancellation that
// arrived before any step was dispatched. Returns false when the
// execution is not in a dispatchable state
func (e *Engine) startRun(
	id api.ExecutionID, rs *runState,
) (*api.Execution, bool) {
	var started, cancelled *api.Execution
	_, err := e.store.UpdateExecution(e.ctx, id,
		func(x *api.Execution) (*api.Execution, error) {
			started, cancelled = nil, nil
			if x.Status != api.ExecutionPending {
				return nil, nil
			}
			if rs.cancelled.Load() {
				cancelled = x.
					SetStatus(api.ExecutionFailed).
					SetError(api.NewExecError(
						api.ErrorCancelled, "cancelled before dispatch",
					)).
					SetCompletedAt(time.Now())
				return cancelled, nil
			}
			started = x.SetStatus(api.ExecutionRunning)
			return started, nil
		},
	)
	if err != nil {
		slog.Error("Failed to start execution",
			log.ExecutionID(id),
			log.Error(err))
		return nil, false
	}
	if cancelled != nil {
		e.publish(&api.Event{
			Type:        api.EventExecutionFailed,
			ExecutionID: id,
			Mode:        cancelled.Mode,
			Status:      cancelled.Status,
			Error:       cancelled.Error,
		})
		e.notifier.Notify(cancelled)
		return nil, false
	}
	if started == nil {
		return nil, false
	}

	e.publish(&api.Event{
		Type:        api.EventExecutionStarted,
		ExecutionID: id,
		Mode:        started.Mode,
		Status:      api.ExecutionRunning,
	})
	return started, true
}

// finalize writes the terminal state and fires the best-effort side
// channel. Status and result list are written as a single atomic update
func (e *Engine) finalize(
	id api.ExecutionID, output any, note string, runErr *api.ExecError,
) {
	now := time.Now()

	var final *api.Execution
	_, err := e.store.UpdateExecution(e.ctx, id,
		func(x *api.Execution) (*api.Execution, error) {
			if x.Status.Terminal() {
				return nil, nil
			}
			res := x
			if runErr != nil {
				res = res.
					SetStatus(api.ExecutionFailed).
					SetError(runErr)
			} else {
				res = res.
					SetStatus(api.ExecutionCompleted).
					SetOutput(output)
			}
			if note != "" {
				res = res.SetNote(note)
			}
			final = res.SetCompletedAt(now)
			return final, nil
		},
	)
	if err != nil {
		slog.Error("Failed to finalize execution",
			log.ExecutionID(id),
			log.Error(err))
		return
	}
	if final == nil {
		return
	}

	eventType := api.EventExecutionCompleted
	if final.Status == api.ExecutionFailed {
		eventType = api.EventExecutionFailed
	}
	e.publish(&api.Event{
		Type:        eventType,
		ExecutionID: id,
		Mode:        final.Mode,
		Status:      final.Status,
		Error:       final.Error,
	})

	e.notifier.Notify(final)

	slog.Info("Execution finalized",
		log.ExecutionID(id),
		log.Status(final.Status),
		slog.Int64("duration_ms", final.Duration),
		slog.Int64("tokens", final.Tokens))
}

// recordStep appends a step result to the execution and publishes a step
// event. Appends are atomic with respect to the sweep
func (e *Engine) recordStep(id api.ExecutionID, step *api.StepResult) {
	_, err := e.store.UpdateExecution(e.ctx, id,
		func(x *api.Execution) (*api.Execution, error) {
			if x.Status.Terminal() {
				return nil, nil
			}
			return x.AddStep(step), nil
		},
	)
	if err != nil {
		slog.Error("Failed to record step result",
			log.ExecutionID(id),
			slog.String("step", step.ID),
			log.Error(err))
		return
	}

	e.publish(&api.Event{
		Type:        api.EventExecutionStep,
		ExecutionID: id,
		Step:        step.ID,
		Error:       step.Error,
	})
}
