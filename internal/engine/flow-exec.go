package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

// flowRun holds the state of a single flow interpretation: the variable
// bindings, the visited-node set, and the last produced output. The
// graph is walked breadth-first from the trigger node; a node reached by
// multiple paths (diamond) executes exactly once
type flowRun struct {
	engine  *Engine
	rs      *runState
	x       *api.Execution
	def     *api.FlowDefinition
	vars    api.Args
	visited map[api.NodeID]bool
	last    any
	notes   []string
}

func (e *Engine) runFlow(
	ctx context.Context, rs *runState, x *api.Execution,
) (any, string, *api.ExecError) {
	def := x.Flow
	if def == nil {
		return nil, "", api.NewExecError(
			api.ErrorInternalFault, "execution has no flow snapshot",
		)
	}

	run := &flowRun{
		engine:  e,
		rs:      rs,
		x:       x,
		def:     def,
		vars:    initialBindings(def, x.Input),
		visited: map[api.NodeID]bool{},
	}
	return run.run(ctx)
}

// initialBindings seeds the variable map with the definition's declared
// defaults, overlaid with the trigger payload. The whole payload is also
// bound under "input" for path references
func initialBindings(def *api.FlowDefinition, input api.Args) api.Args {
	vars := api.Args{}
	for name, value := range def.Variables {
		vars[name] = value
	}
	for name, value := range input {
		vars[name] = value
	}
	vars["input"] = input
	return vars
}

func (run *flowRun) run(ctx context.Context) (any, string, *api.ExecError) {
	trigger := run.def.TriggerNode()
	queue := []api.NodeID{trigger.ID}
	run.visited[trigger.ID] = true

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if run.rs.cancelled.Load() {
			return nil, "", api.NewExecError(
				api.ErrorCancelled, "cancelled",
			).WithStep(string(id))
		}

		node := run.def.NodeByID(id)
		out, stepErr := run.execNode(ctx, node)

		if stepErr != nil {
			if abortKind(stepErr.Kind) || node.Critical {
				return nil, "", stepErr.WithStep(string(node.ID))
			}
			run.notes = append(run.notes, stepErr.WithStep(
				string(node.ID),
			).Error())
		} else if node.Kind != api.NodeTrigger {
			run.bind(node, out)
		}

		next, err := run.eligibleEdges(node, out, stepErr)
		if err != nil {
			return nil, "", err.WithStep(string(node.ID))
		}
		for _, to := range next {
			if run.visited[to] {
				continue
			}
			run.visited[to] = true
			queue = append(queue, to)
		}
	}

	return run.output(), strings.Join(run.notes, "; "), nil
}

func (run *flowRun) execNode(
	ctx context.Context, node *api.Node,
) (any, *api.ExecError) {
	if node.Kind == api.NodeTrigger {
		return nil, nil
	}

	start := time.Now()
	out, tokens, stepErr := run.execKind(ctx, node)

	step := &api.StepResult{
		ID:       string(node.ID),
		Name:     node.Name,
		Tokens:   tokens,
		Duration: time.Since(start).Milliseconds(),
	}
	if stepErr != nil {
		step.Error = stepErr.WithStep(string(node.ID))
	} else {
		step.Output = out
	}
	run.engine.recordStep(run.x.ID, step)

	if stepErr != nil {
		slog.Warn("Flow node failed",
			log.ExecutionID(run.x.ID),
			log.NodeID(node.ID),
			log.Error(stepErr))
	}
	return out, stepErr
}

func (run *flowRun) execKind(
	ctx context.Context, node *api.Node,
) (any, int64, *api.ExecError) {
	switch node.Kind {
	case api.NodeAction:
		params, err := resolveArgs(node.Params, run.vars)
		if err != nil {
			return nil, 0, api.NewExecError(
				api.ErrorValidation, err.Error(),
			)
		}
		out, stepErr := run.engine.invokeAction(
			ctx, run.rs, node.Action, params, node.Retry,
		)
		return out, 0, stepErr

	case api.NodeBranch:
		ok, err := run.engine.scripts.EvalCondition(node.Condition, run.vars)
		if err != nil {
			return nil, 0, api.NewExecError(
				api.ErrorValidation, err.Error(),
			)
		}
		return ok, 0, nil

	case api.NodeTransform:
		out, err := run.engine.scripts.EvalTransform(node.Script, run.vars)
		if err != nil {
			return nil, 0, api.NewExecError(
				api.ErrorValidation, err.Error(),
			)
		}
		return out, 0, nil

	case api.NodeAgentCall:
		prompt, err := resolveTemplate(node.Prompt, run.vars)
		if err != nil {
			return nil, 0, api.NewExecError(
				api.ErrorValidation, err.Error(),
			)
		}
		res, stepErr := run.engine.invokeAgent(ctx, run.rs,
			&provider.Request{
				Model:  node.Model,
				Prompt: prompt,
			},
			run.engine.agentPolicy(node.Retry),
		)
		if stepErr != nil {
			return nil, 0, stepErr
		}
		return res.Text, res.TokensUsed, nil

	default:
		return nil, 0, api.NewExecError(api.ErrorValidation,
			fmt.Sprintf("%s: %s", api.ErrFlowInvalidKind, node.Kind))
	}
}

// bind stores a node's output under its declared output variable, or the
// node's own ID when none is declared
func (run *flowRun) bind(node *api.Node, out any) {
	name := node.OutputVar
	if name == "" {
		name = api.Name(node.ID)
	}
	run.vars = run.vars.Set(name, out)
	run.last = out
}

// eligibleEdges selects the outgoing edges to follow. Every edge whose
// condition holds is followed (fan-out). A branch node whose own
// condition was false gates its unconditioned edges shut
func (run *flowRun) eligibleEdges(
	node *api.Node, out any, stepErr *api.ExecError,
) ([]api.NodeID, *api.ExecError) {
	branchClosed := node.Kind == api.NodeBranch &&
		node.Condition != nil && stepErr == nil && out == false

	var res []api.NodeID
	for _, edge := range run.def.EdgesFrom(node.ID) {
		if edge.Condition == nil {
			if branchClosed {
				continue
			}
			res = append(res, edge.To)
			continue
		}

		ok, err := run.engine.scripts.EvalCondition(
			edge.Condition, run.vars,
		)
		if err != nil {
			return nil, api.NewExecError(api.ErrorValidation, err.Error())
		}
		if ok {
			res = append(res, edge.To)
		}
	}
	return res, nil
}

// output returns the value bound to the designated output variable, or
// the last executed node's result when none is designated
func (run *flowRun) output() any {
	if run.def.OutputVar != "" {
		return run.vars[run.def.OutputVar]
	}
	return run.last
}

// abortKind reports whether a step error of this kind always fails the
// whole execution regardless of the node's critical flag
func abortKind(kind api.ErrorKind) bool {
	return kind == api.ErrorCancelled || kind == api.ErrorInternalFault
}
