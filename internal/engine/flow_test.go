package engine_test

import (
	"context"
	"testing"

	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/internal/assert/helpers"
	"github.com/loomworks/loom/pkg/api"
)

func TestLinearFlowCompletes(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	env.Provider.Reply("first-model", "first result")
	env.Provider.Reply("second-model", "final result")
	env.PutFlow(t, helpers.NewLinearFlow("linear"))

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "linear",
		Mode:         api.ModeFlow,
		Input:        api.Args{"topic": "storage"},
	})
	as.Equal(api.ExecutionPending, x.Status)

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionCompleted)
	as.ExecutionConsistent(final)
	as.Equal("final result", final.Output)
	as.Len(final.Steps, 2)
	as.StepSucceeded(final, "first")
	as.StepSucceeded(final, "second")
	as.Equal(int64(20), final.Tokens)

	// Prompt templates resolve against the submitted input
	reqs := env.Provider.Invocations()
	as.Equal("step one: storage", reqs[0].Prompt)
}

func TestDiamondExecutesJoinOnce(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	env.PutFlow(t, helpers.NewDiamondFlow("diamond"))

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "diamond",
		Mode:         api.ModeFlow,
	})

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionCompleted)
	as.Len(final.Steps, 3)
	as.Equal(1, env.Provider.InvocationCount("join-model"))
}

func TestBranchGatesEdges(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	def := &api.FlowDefinition{
		ID: "branchy",
		Nodes: []*api.Node{
			{ID: "start", Kind: api.NodeTrigger},
			{ID: "gate", Kind: api.NodeBranch, Condition: &api.Condition{
				Lang: api.ConditionLua,
				Expr: "vars.proceed == true",
			}},
			{ID: "work", Kind: api.NodeAgentCall, Model: "work-model",
				Prompt: "go"},
		},
		Edges: []*api.Edge{
			{From: "start", To: "gate"},
			{From: "gate", To: "work"},
		},
	}
	env.PutFlow(t, def)

	t.Run("condition_false_follows_nothing", func(t *testing.T) {
		x := env.Submit(t, &api.SubmitRequest{
			DefinitionID: "branchy",
			Mode:         api.ModeFlow,
			Input:        api.Args{"proceed": false},
		})

		final := env.WaitTerminal(t, x.ID)
		as.ExecutionStatus(final, api.ExecutionCompleted)
		as.StepAbsent(final, "work")
		as.Equal(0, env.Provider.InvocationCount("work-model"))
	})

	t.Run("condition_true_follows_edges", func(t *testing.T) {
		x := env.Submit(t, &api.SubmitRequest{
			DefinitionID: "branchy",
			Mode:         api.ModeFlow,
			Input:        api.Args{"proceed": true},
		})

		final := env.WaitTerminal(t, x.ID)
		as.ExecutionStatus(final, api.ExecutionCompleted)
		as.StepSucceeded(final, "work")
	})
}

func TestTransformAndOutputVar(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	def := &api.FlowDefinition{
		ID:        "shaping",
		OutputVar: "shaped",
		Variables: api.Args{"factor": 2},
		Nodes: []*api.Node{
			{ID: "start", Kind: api.NodeTrigger},
			{ID: "shape", Kind: api.NodeTransform, OutputVar: "shaped",
				Script: "return vars.amount * vars.factor"},
		},
		Edges: []*api.Edge{
			{From: "start", To: "shape"},
		},
	}
	env.PutFlow(t, def)

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "shaping",
		Mode:         api.ModeFlow,
		Input:        api.Args{"amount": 21},
	})

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionCompleted)
	as.Equal(42, final.Output)
}

func TestActionFailurePropagation(t *testing.T) {
	as := assert.New(t)

	newDef := func(id api.FlowID, critical bool) *api.FlowDefinition {
		return &api.FlowDefinition{
			ID: id,
			Nodes: []*api.Node{
				{ID: "start", Kind: api.NodeTrigger},
				{ID: "notify", Kind: api.NodeAction, Action: "notify",
					Critical: critical},
				{ID: "after", Kind: api.NodeAgentCall, Model: "after-model",
					Prompt: "continue"},
			},
			Edges: []*api.Edge{
				{From: "start", To: "notify"},
				{From: "notify", To: "after"},
			},
		}
	}

	t.Run("non_critical_failure_continues", func(t *testing.T) {
		env := helpers.NewTestEngineEnv(t)
		defer env.Cleanup()
		env.PutFlow(t, newDef("tolerant", false))

		x := env.Submit(t, &api.SubmitRequest{
			DefinitionID: "tolerant",
			Mode:         api.ModeFlow,
		})

		final := env.WaitTerminal(t, x.ID)
		as.ExecutionStatus(final, api.ExecutionCompleted)
		as.StepFailed(final, "notify", api.ErrorAdapter)
		as.StepSucceeded(final, "after")
		as.Contains(final.Note, "notify")
	})

	t.Run("critical_failure_aborts", func(t *testing.T) {
		env := helpers.NewTestEngineEnv(t)
		defer env.Cleanup()
		env.PutFlow(t, newDef("strict", true))

		x := env.Submit(t, &api.SubmitRequest{
			DefinitionID: "strict",
			Mode:         api.ModeFlow,
		})

		final := env.WaitTerminal(t, x.ID)
		as.ExecutionStatus(final, api.ExecutionFailed)
		as.ExecutionConsistent(final)
		as.Equal("notify", final.Error.Step)
		as.StepAbsent(final, "after")
	})
}

func TestRegisteredActionRuns(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	env.Adapters.Register("lookup",
		func(_ context.Context, params api.Args) (any, error) {
			return "value for " + params.GetString("key", ""), nil
		},
	)

	def := &api.FlowDefinition{
		ID: "lookup-flow",
		Nodes: []*api.Node{
			{ID: "start", Kind: api.NodeTrigger},
			{ID: "fetch", Kind: api.NodeAction, Action: "lookup",
				Params: api.Args{"key": "$input.key"}},
		},
		Edges: []*api.Edge{
			{From: "start", To: "fetch"},
		},
	}
	env.PutFlow(t, def)

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "lookup-flow",
		Mode:         api.ModeFlow,
		Input:        api.Args{"key": "abc"},
	})

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionCompleted)
	as.Equal("value for abc", final.Output)
}
