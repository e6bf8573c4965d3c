package engine

import (
	"context"
	"time"

	"github.com/loomworks/loom/pkg/api"
)

// backoffDelay computes the delay before the given retry attempt
// (1-based), capped at the policy's maximum backoff
func backoffDelay(p api.RetryPolicy, attempt int) time.Duration {
	init := p.InitBackoff
	if init <= 0 {
		return 0
	}

	var ms int64
	switch p.BackoffType {
	case api.BackoffTypeFixed:
		ms = init
	case api.BackoffTypeLinear:
		ms = init * int64(attempt)
	default: // exponential
		ms = init << (attempt - 1)
		if ms < init { // overflow
			ms = p.MaxBackoff
		}
	}

	if p.MaxBackoff > 0 && ms > p.MaxBackoff {
		ms = p.MaxBackoff
	}
	return time.Duration(ms) * time.Millisecond
}

// sleepBackoff waits for the delay, aborting early if the context ends
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
