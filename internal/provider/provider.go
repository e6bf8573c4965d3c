// Package provider wraps calls to an external reasoning provider. A
// provider invocation either yields text plus a token count or a typed
// failure the engine can classify for retry
package provider

import (
	"context"
	"errors"

	"github.com/loomworks/loom/pkg/api"
)

type (
	// Provider is the single capability the engine needs from a
	// reasoning backend
	Provider interface {
		Invoke(context.Context, *Request) (*Completion, error)
	}

	// Request describes one agent invocation
	Request struct {
		Model        string    `json:"model,omitempty"`
		Instructions string    `json:"instructions,omitempty"`
		Prompt       string    `json:"prompt"`
		Context      []Message `json:"context,omitempty"`
	}

	// Message is a prior exchange passed as context to an invocation
	Message struct {
		Role string `json:"role"`
		Text string `json:"text"`
	}

	// Completion is the successful result of an invocation
	Completion struct {
		Text       string `json:"text"`
		TokensUsed int64  `json:"tokens_used"`
	}

	// Func adapts a function to the Provider interface; used by tests
	Func func(context.Context, *Request) (*Completion, error)
)

func (f Func) Invoke(
	ctx context.Context, req *Request,
) (*Completion, error) {
	return f(ctx, req)
}

// Classify maps an invocation error to its taxonomy kind. Context
// deadline errors become Timeout; anything already typed passes through
func Classify(err error) *api.ExecError {
	if err == nil {
		return nil
	}
	var ee *api.ExecError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewExecError(api.ErrorTimeout, err.Error())
	}
	return api.NewExecError(api.ErrorInvalidRequest, err.Error())
}
