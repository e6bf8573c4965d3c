package api_test

import (
	"testing"
	"time"

	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/pkg/api"
)

func TestStatusTransitions(t *testing.T) {
	as := assert.New(t)

	tests := []struct {
		from    api.ExecutionStatus
		to      api.ExecutionStatus
		allowed bool
	}{
		{api.ExecutionPending, api.ExecutionRunning, true},
		{api.ExecutionPending, api.ExecutionFailed, true},
		{api.ExecutionPending, api.ExecutionCompleted, false},
		{api.ExecutionRunning, api.ExecutionCompleted, true},
		{api.ExecutionRunning, api.ExecutionFailed, true},
		{api.ExecutionRunning, api.ExecutionPending, false},
		{api.ExecutionCompleted, api.ExecutionRunning, false},
		{api.ExecutionCompleted, api.ExecutionFailed, false},
		{api.ExecutionFailed, api.ExecutionRunning, false},
		{api.ExecutionFailed, api.ExecutionCompleted, false},
	}

	for _, tt := range tests {
		as.Equal(tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}

	as.False(api.ExecutionPending.Terminal())
	as.False(api.ExecutionRunning.Terminal())
	as.True(api.ExecutionCompleted.Terminal())
	as.True(api.ExecutionFailed.Terminal())
}

func TestExecutionSetters(t *testing.T) {
	as := assert.New(t)

	started := time.Now().Add(-time.Second)
	x := &api.Execution{
		ID:        "x-1",
		Status:    api.ExecutionPending,
		StartedAt: started,
	}

	running := x.SetStatus(api.ExecutionRunning)
	as.Equal(api.ExecutionPending, x.Status, "setters must not mutate")
	as.Equal(api.ExecutionRunning, running.Status)

	stepped := running.
		AddStep(&api.StepResult{ID: "a", Tokens: 10}).
		AddStep(&api.StepResult{ID: "b", Tokens: 5})
	as.Len(stepped.Steps, 2)
	as.Equal(int64(15), stepped.Tokens)
	as.Empty(running.Steps)

	done := stepped.
		SetStatus(api.ExecutionCompleted).
		SetOutput("result").
		SetCompletedAt(time.Now())
	as.NotNil(done.CompletedAt)
	as.GreaterOrEqual(done.Duration, int64(1000))
	as.Nil(stepped.CompletedAt)
}

func TestExecutionStepPartitions(t *testing.T) {
	as := assert.New(t)

	x := (&api.Execution{Status: api.ExecutionRunning}).
		AddStep(&api.StepResult{ID: "ok"}).
		AddStep(&api.StepResult{
			ID:    "bad",
			Error: api.NewExecError(api.ErrorAdapter, "boom"),
		})

	as.Len(x.Succeeded(), 1)
	as.Equal("ok", x.Succeeded()[0].ID)
	as.Len(x.Failed(), 1)
	as.Equal("bad", x.Failed()[0].ID)
}

func TestExecErrors(t *testing.T) {
	as := assert.New(t)

	err := api.NewExecError(api.ErrorTimeout, "took too long")
	as.Equal("Timeout: took too long", err.Error())
	as.True(err.Retryable())

	attributed := err.WithStep("fetch")
	as.Equal("Timeout at fetch: took too long", attributed.Error())
	as.Empty(err.Step, "WithStep must not mutate")

	as.True(api.NewExecError(api.ErrorRateLimited, "").Retryable())
	as.True(api.NewExecError(api.ErrorAdapter, "").Retryable())
	as.False(api.NewExecError(api.ErrorValidation, "").Retryable())
	as.False(api.NewExecError(api.ErrorCancelled, "").Retryable())
	as.False(api.NewExecError(api.ErrorInternalFault, "").Retryable())
	as.False(api.NewExecError(api.ErrorInvalidRequest, "").Retryable())
}
