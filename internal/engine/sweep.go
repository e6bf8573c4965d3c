package engine

import (
	"log/slog"
	"time"

	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

// sweepLoop periodically fails executions that have been running longer
// than the configured maximum age. It catches work orphaned by a crashed
// or partitioned engine so records cannot stay running forever
func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	cutoff := time.Now().Add(-e.config.SweepMaxAge)
	stale, err := e.store.ListRunningBefore(e.ctx, cutoff)
	if err != nil {
		slog.Error("Stale sweep failed", log.Error(err))
		return
	}

	for _, id := range stale {
		e.failStale(id, cutoff)
	}
}

func (e *Engine) failStale(id api.ExecutionID, cutoff time.Time) {
	var final *api.Execution
	_, err := e.store.UpdateExecution(e.ctx, id,
		func(x *api.Execution) (*api.Execution, error) {
			final = nil
			if x.Status != api.ExecutionRunning {
				return nil, nil
			}
			if x.StartedAt.After(cutoff) {
				return nil, nil
			}
			final = x.
				SetStatus(api.ExecutionFailed).
				SetError(api.NewExecError(
					api.ErrorInternalFault, "execution exceeded maximum age",
				)).
				SetCompletedAt(time.Now())
			return final, nil
		},
	)
	if err != nil {
		slog.Error("Failed to sweep stale execution",
			log.ExecutionID(id),
			log.Error(err))
		return
	}
	if final == nil {
		return
	}

	e.publish(&api.Event{
		Type:        api.EventExecutionFailed,
		ExecutionID: id,
		Mode:        final.Mode,
		Status:      final.Status,
		Error:       final.Error,
	})
	e.notifier.Notify(final)

	slog.Warn("Swept stale execution",
		log.ExecutionID(id),
		log.Status(final.Status))
}
