package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/pkg/api"
)

// orchRun holds the state of a single orchestration execution: the
// snapshot definition, the task prompt derived from the submitted input,
// and the accumulated conversational context
type orchRun struct {
	engine *Engine
	rs     *runState
	x      *api.Execution
	def    *api.OrchestrationDefinition
	prompt string
}

func (e *Engine) runOrchestration(
	ctx context.Context, rs *runState, x *api.Execution,
) (any, string, *api.ExecError) {
	def := x.Orch
	if def == nil {
		return nil, "", api.NewExecError(
			api.ErrorInternalFault, "execution has no orchestration snapshot",
		)
	}

	run := &orchRun{
		engine: e,
		rs:     rs,
		x:      x,
		def:    def,
		prompt: taskPrompt(x.Input),
	}

	switch def.Strategy {
	case api.StrategySequential:
		return run.sequential(ctx)
	case api.StrategyParallel:
		return run.parallel(ctx)
	case api.StrategyManagerWorker:
		return run.managerWorker(ctx)
	case api.StrategyDebate:
		return run.debate(ctx)
	default:
		return nil, "", api.NewExecError(api.ErrorValidation,
			fmt.Sprintf("%s: %s", api.ErrOrchInvalidStrategy, def.Strategy))
	}
}

// taskPrompt extracts the task text from the submitted input, preferring
// an explicit prompt or task field and falling back to the whole payload
func taskPrompt(input api.Args) string {
	if s := input.GetString("prompt", ""); s != "" {
		return s
	}
	if s := input.GetString("task", ""); s != "" {
		return s
	}
	doc, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(doc)
}

// callAgent invokes one agent and records its step result. A failed call
// returns the error without recording a step; the caller decides whether
// the run survives
func (run *orchRun) callAgent(
	ctx context.Context, stepID string, spec *api.AgentSpec,
	prompt string, msgs []provider.Message,
) (*provider.Completion, *api.ExecError) {
	start := time.Now()
	res, stepErr := run.engine.invokeAgent(ctx, run.rs,
		&provider.Request{
			Model:        spec.Model,
			Instructions: spec.Instructions,
			Prompt:       prompt,
			Context:      msgs,
		},
		run.engine.config.Retry,
	)
	if stepErr != nil {
		return nil, stepErr.WithStep(stepID)
	}

	run.engine.recordStep(run.x.ID, &api.StepResult{
		ID:       stepID,
		Name:     spec.Role,
		Output:   res.Text,
		Tokens:   res.TokensUsed,
		Duration: time.Since(start).Milliseconds(),
	})
	return res, nil
}

// sequential runs the agents one after another, each receiving the full
// transcript of its predecessors. A failure stops the chain; completed
// predecessors keep their recorded results
func (run *orchRun) sequential(
	ctx context.Context,
) (any, string, *api.ExecError) {
	var msgs []provider.Message
	var last string

	for _, spec := range run.def.OrderedAgents() {
		if run.rs.cancelled.Load() {
			return nil, "", api.NewExecError(
				api.ErrorCancelled, "cancelled",
			).WithStep(spec.Role)
		}

		res, stepErr := run.callAgent(ctx, spec.Role, spec, run.prompt, msgs)
		if stepErr != nil {
			return nil, "", stepErr
		}

		msgs = append(msgs, provider.Message{
			Role: spec.Role,
			Text: res.Text,
		})
		last = res.Text
	}
	return last, "", nil
}

// debate runs the agents through a fixed number of rounds. Each agent
// sees the most recent statement of every participant, then a designated
// synthesizer produces the final position from the last round
func (run *orchRun) debate(
	ctx context.Context,
) (any, string, *api.ExecError) {
	agents := run.def.OrderedAgents()
	latest := map[string]string{}

	for round := 1; round <= run.def.DebateRounds(); round++ {
		for _, spec := range agents {
			if run.rs.cancelled.Load() {
				return nil, "", api.NewExecError(
					api.ErrorCancelled, "cancelled",
				).WithStep(debateStepID(spec.Role, round))
			}

			res, stepErr := run.callAgent(
				ctx, debateStepID(spec.Role, round), spec,
				run.prompt, run.transcript(agents, spec, latest),
			)
			if stepErr != nil {
				return nil, "", stepErr
			}
			latest[spec.Role] = res.Text
		}
	}

	synth := run.def.SynthesizerAgent()
	res, stepErr := run.callAgent(
		ctx, synth.Role+"/synthesis", synth,
		run.prompt, run.transcript(agents, nil, latest),
	)
	if stepErr != nil {
		return nil, "", stepErr
	}
	return res.Text, "", nil
}

// transcript builds the context messages for a debate turn: the latest
// statement of every agent except the speaker, in declaration order
func (run *orchRun) transcript(
	agents []*api.AgentSpec, speaker *api.AgentSpec, latest map[string]string,
) []provider.Message {
	var msgs []provider.Message
	for _, a := range agents {
		if speaker != nil && a.Role == speaker.Role {
			continue
		}
		text, ok := latest[a.Role]
		if !ok {
			continue
		}
		msgs = append(msgs, provider.Message{Role: a.Role, Text: text})
	}
	return msgs
}

func debateStepID(role string, round int) string {
	return fmt.Sprintf("%s/round-%d", role, round)
}
