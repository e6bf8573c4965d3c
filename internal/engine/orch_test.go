package engine_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/internal/assert/helpers"
	"github.com/loomworks/loom/pkg/api"
)

func TestSequentialStrategy(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	env.Provider.Reply("alpha-model", "alpha says")
	env.Provider.Reply("beta-model", "beta says")
	env.Provider.Reply("gamma-model", "gamma says")
	env.PutOrchestration(t,
		helpers.NewOrchestration("seq", api.StrategySequential))

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "seq",
		Mode:         api.ModeOrchestration,
		Input:        api.Args{"prompt": "solve it"},
	})

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionCompleted)
	as.ExecutionConsistent(final)
	as.Equal("gamma says", final.Output)

	require.Len(t, final.Steps, 3)
	as.Equal("alpha", final.Steps[0].ID)
	as.Equal("beta", final.Steps[1].ID)
	as.Equal("gamma", final.Steps[2].ID)

	// Later agents see the transcript of their predecessors
	reqs := env.Provider.Invocations()
	require.Len(t, reqs, 3)
	as.Empty(reqs[0].Context)
	require.Len(t, reqs[2].Context, 2)
	as.Equal("alpha", reqs[2].Context[0].Role)
	as.Equal("alpha says", reqs[2].Context[0].Text)
}

func TestSequentialFailureStopsChain(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	env.Provider.Reply("alpha-model", "alpha says")
	env.Provider.FailTimes("beta-model", api.ErrorInvalidRequest, -1)
	env.PutOrchestration(t,
		helpers.NewOrchestration("seq-fail", api.StrategySequential))

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "seq-fail",
		Mode:         api.ModeOrchestration,
		Input:        api.Args{"prompt": "solve it"},
	})

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionFailed)
	as.ExecutionConsistent(final)

	// The completed predecessor keeps its result; the failed agent is
	// named by the execution error, not recorded as a step
	require.Len(t, final.Steps, 1)
	as.Equal("alpha", final.Steps[0].ID)
	as.Equal("beta", final.Error.Step)
	as.Equal(0, env.Provider.InvocationCount("gamma-model"))
}

func TestParallelStrategy(t *testing.T) {
	as := assert.New(t)

	t.Run("partial_failure_still_completes", func(t *testing.T) {
		env := helpers.NewTestEngineEnv(t)
		defer env.Cleanup()

		env.Provider.Reply("alpha-model", "alpha out")
		env.Provider.FailTimes("beta-model", api.ErrorInvalidRequest, -1)
		env.Provider.Reply("gamma-model", "gamma out")
		env.PutOrchestration(t,
			helpers.NewOrchestration("par", api.StrategyParallel))

		x := env.Submit(t, &api.SubmitRequest{
			DefinitionID: "par",
			Mode:         api.ModeOrchestration,
			Input:        api.Args{"prompt": "fan out"},
		})

		final := env.WaitTerminal(t, x.ID)
		as.ExecutionStatus(final, api.ExecutionCompleted)
		as.ExecutionConsistent(final)

		// Every agent is accounted for, including the failure
		as.Len(final.Steps, 3)
		as.StepSucceeded(final, "alpha")
		as.StepFailed(final, "beta", api.ErrorInvalidRequest)
		as.StepSucceeded(final, "gamma")
		as.Contains(final.Note, "beta")

		// Successful outputs aggregate role-labeled in declaration order
		output, ok := final.Output.(string)
		require.True(t, ok)
		as.Contains(output, "[alpha]\nalpha out")
		as.Contains(output, "[gamma]\ngamma out")
		as.NotContains(output, "[beta]")
		as.Less(strings.Index(output, "[alpha]"), strings.Index(output, "[gamma]"))
	})

	t.Run("all_failures_fail_the_run", func(t *testing.T) {
		env := helpers.NewTestEngineEnv(t)
		defer env.Cleanup()

		for _, model := range []string{
			"alpha-model", "beta-model", "gamma-model",
		} {
			env.Provider.FailTimes(model, api.ErrorInvalidRequest, -1)
		}
		env.PutOrchestration(t,
			helpers.NewOrchestration("par-doom", api.StrategyParallel))

		x := env.Submit(t, &api.SubmitRequest{
			DefinitionID: "par-doom",
			Mode:         api.ModeOrchestration,
			Input:        api.Args{"prompt": "fan out"},
		})

		final := env.WaitTerminal(t, x.ID)
		as.ExecutionStatus(final, api.ExecutionFailed)
		as.Equal(api.ErrorInternalFault, final.Error.Kind)
	})
}

func TestManagerWorkerStrategy(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	env.Provider.Reply("alpha-model", "- research\n- draft")
	env.Provider.Reply("beta-model", "research done")
	env.Provider.Reply("gamma-model", "draft done")
	env.PutOrchestration(t,
		helpers.NewOrchestration("mw", api.StrategyManagerWorker))

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "mw",
		Mode:         api.ModeOrchestration,
		Input:        api.Args{"task": "write a report"},
	})

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionCompleted)
	as.ExecutionConsistent(final)

	require.Len(t, final.Steps, 4)
	as.Equal("alpha/plan", final.Steps[0].ID)

	// Synthesis runs strictly after every worker has finished
	as.Equal("alpha/synthesis", final.Steps[3].ID)
	as.StepSucceeded(final, "beta")
	as.StepSucceeded(final, "gamma")

	// Workers received the manager's sub-tasks, not the original prompt
	reqs := env.Provider.Invocations()
	workerPrompts := map[string]string{}
	for _, req := range reqs[1:3] {
		workerPrompts[req.Model] = req.Prompt
	}
	as.Equal("research", workerPrompts["beta-model"])
	as.Equal("draft", workerPrompts["gamma-model"])
}

func TestDebateStrategy(t *testing.T) {
	as := assert.New(t)
	env := helpers.NewTestEngineEnv(t)
	defer env.Cleanup()

	env.Provider.Reply("alpha-model", "position a")
	env.Provider.Reply("beta-model", "position b")
	env.Provider.Reply("gamma-model", "the verdict")
	def := helpers.NewOrchestration("debate", api.StrategyDebate)
	def.Agents = def.Agents[:2]
	def.Agents = append(def.Agents, &api.AgentSpec{
		Role: "gamma", Model: "gamma-model", Position: 3, Synthesizer: true,
	})
	def.Rounds = 2
	env.PutOrchestration(t, def)

	x := env.Submit(t, &api.SubmitRequest{
		DefinitionID: "debate",
		Mode:         api.ModeOrchestration,
		Input:        api.Args{"prompt": "argue"},
	})

	final := env.WaitTerminal(t, x.ID)
	as.ExecutionStatus(final, api.ExecutionCompleted)
	as.Equal("the verdict", final.Output)

	// Two rounds of three voices plus one synthesis step
	require.Len(t, final.Steps, 7)
	as.Equal("alpha/round-1", final.Steps[0].ID)
	as.Equal("gamma/round-2", final.Steps[5].ID)
	as.Equal("gamma/synthesis", final.Steps[6].ID)

	// Round two sees the other agents' round-one statements
	reqs := env.Provider.Invocations()
	require.Len(t, reqs, 7)
	roundTwoAlpha := reqs[3]
	as.Equal("alpha-model", roundTwoAlpha.Model)
	require.Len(t, roundTwoAlpha.Context, 2)
	as.Equal("beta", roundTwoAlpha.Context[0].Role)
}
