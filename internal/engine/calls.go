package engine

import (
	"context"

	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/pkg/api"
)

// invokeAgent calls the reasoning provider with the step's hard timeout
// and retry policy. Retries are local to the step and invisible to the
// execution's status; a result arriving after cancellation is discarded
func (e *Engine) invokeAgent(
	ctx context.Context, rs *runState, req *provider.Request,
	policy api.RetryPolicy,
) (*provider.Completion, *api.ExecError) {
	var lastErr *api.ExecError

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if rs.cancelled.Load() {
			return nil, api.NewExecError(api.ErrorCancelled, "cancelled")
		}
		if attempt > 0 {
			if !sleepBackoff(ctx, backoffDelay(policy, attempt)) {
				return nil, api.NewExecError(
					api.ErrorCancelled, ctx.Err().Error(),
				)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.config.AgentTimeout)
		res, err := e.provider.Invoke(callCtx, req)
		cancel()

		if rs.cancelled.Load() {
			return nil, api.NewExecError(api.ErrorCancelled, "cancelled")
		}
		if err == nil {
			return res, nil
		}

		lastErr = provider.Classify(err)
		if !lastErr.Retryable() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// invokeAction calls an integration adapter with the adapter timeout,
// honoring the node's retry policy when one is set
func (e *Engine) invokeAction(
	ctx context.Context, rs *runState, name string, params api.Args,
	policy *api.RetryPolicy,
) (any, *api.ExecError) {
	retries := 0
	var p api.RetryPolicy
	if policy != nil {
		p = *policy
		retries = p.MaxRetries
	}

	var lastErr *api.ExecError
	for attempt := 0; attempt <= retries; attempt++ {
		if rs.cancelled.Load() {
			return nil, api.NewExecError(api.ErrorCancelled, "cancelled")
		}
		if attempt > 0 {
			if !sleepBackoff(ctx, backoffDelay(p, attempt)) {
				return nil, api.NewExecError(
					api.ErrorCancelled, ctx.Err().Error(),
				)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.config.AdapterTimeout)
		res, err := e.adapters.Invoke(callCtx, name, params)
		cancel()

		if rs.cancelled.Load() {
			return nil, api.NewExecError(api.ErrorCancelled, "cancelled")
		}
		if err == nil {
			return res, nil
		}

		lastErr = provider.Classify(err)
		if !lastErr.Retryable() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// agentPolicy returns the retry policy for an agent call node, falling
// back to the engine default
func (e *Engine) agentPolicy(override *api.RetryPolicy) api.RetryPolicy {
	if override != nil {
		return *override
	}
	return e.config.Retry
}
