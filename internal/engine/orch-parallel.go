package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/pkg/api"
)

// agentOutcome is one agent's contribution to a fan-out strategy,
// indexed so aggregation can restore declaration order
type agentOutcome struct {
	spec *api.AgentSpec
	text string
	err  *api.ExecError
}

// parallel runs every agent concurrently against the same task, bounded
// by the configured concurrency limit. One failure does not stop the
// others; successful outputs are aggregated in declaration order and
// partial failure is noted on the record
func (run *orchRun) parallel(
	ctx context.Context,
) (any, string, *api.ExecError) {
	agents := run.def.OrderedAgents()
	outcomes, err := run.fanOut(ctx, agents, run.prompt, nil)
	if err != nil {
		return nil, "", err
	}

	output, failed := aggregate(outcomes)
	if len(failed) == len(agents) {
		return nil, "", api.NewExecError(api.ErrorInternalFault,
			"all agents failed").WithStep(failed[0])
	}

	var note string
	if len(failed) > 0 {
		note = fmt.Sprintf(
			"partial result: %s failed", strings.Join(failed, ", "),
		)
	}
	return output, note, nil
}

// managerWorker runs the manager first to decompose the task, fans the
// sub-tasks out to the workers, and then asks the manager to synthesize.
// Synthesis starts only after every worker has finished
func (run *orchRun) managerWorker(
	ctx context.Context,
) (any, string, *api.ExecError) {
	manager := run.def.ManagerAgent()
	plan, stepErr := run.callAgent(
		ctx, manager.Role+"/plan", manager, run.prompt, nil,
	)
	if stepErr != nil {
		return nil, "", stepErr
	}

	workers := run.workers(manager)
	tasks := parseTaskList(plan.Text)

	outcomes, err := run.fanOutTasks(ctx, workers, tasks)
	if err != nil {
		return nil, "", err
	}

	results, failed := aggregate(outcomes)
	if len(failed) == len(workers) {
		return nil, "", api.NewExecError(api.ErrorInternalFault,
			"all workers failed").WithStep(failed[0])
	}

	synthesis, stepErr := run.callAgent(
		ctx, manager.Role+"/synthesis", manager, run.prompt,
		[]provider.Message{{Role: "results", Text: results}},
	)
	if stepErr != nil {
		return nil, "", stepErr
	}

	var note string
	if len(failed) > 0 {
		note = fmt.Sprintf(
			"partial result: %s failed", strings.Join(failed, ", "),
		)
	}
	return synthesis.Text, note, nil
}

// workers returns the ordered agents minus the manager
func (run *orchRun) workers(manager *api.AgentSpec) []*api.AgentSpec {
	var res []*api.AgentSpec
	for _, a := range run.def.OrderedAgents() {
		if a.Role == manager.Role {
			continue
		}
		res = append(res, a)
	}
	return res
}

// fanOut invokes each agent with the same prompt, at most the configured
// number in flight at once. The returned slice is positional; the only
// error paths are cancellation while acquiring a slot
func (run *orchRun) fanOut(
	ctx context.Context, agents []*api.AgentSpec, prompt string,
	msgs []provider.Message,
) ([]agentOutcome, *api.ExecError) {
	prompts := make([]string, len(agents))
	for i := range agents {
		prompts[i] = prompt
	}
	return run.fanOutWith(ctx, agents, prompts, msgs)
}

// fanOutTasks assigns sub-tasks to workers positionally, reusing the
// last task when the manager produced fewer tasks than workers and
// joining the surplus onto the last worker when it produced more
func (run *orchRun) fanOutTasks(
	ctx context.Context, workers []*api.AgentSpec, tasks []string,
) ([]agentOutcome, *api.ExecError) {
	prompts := make([]string, len(workers))
	for i := range workers {
		switch {
		case len(tasks) == 0:
			prompts[i] = run.prompt
		case i < len(tasks):
			prompts[i] = tasks[i]
		default:
			prompts[i] = tasks[len(tasks)-1]
		}
	}
	if len(tasks) > len(workers) && len(workers) > 0 {
		rest := tasks[len(workers)-1:]
		prompts[len(workers)-1] = strings.Join(rest, "\n")
	}
	return run.fanOutWith(ctx, workers, prompts, nil)
}

func (run *orchRun) fanOutWith(
	ctx context.Context, agents []*api.AgentSpec, prompts []string,
	msgs []provider.Message,
) ([]agentOutcome, *api.ExecError) {
	sem := semaphore.NewWeighted(int64(run.engine.config.ParallelLimit))
	outcomes := make([]agentOutcome, len(agents))

	var wg sync.WaitGroup
	for i, spec := range agents {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, api.NewExecError(
				api.ErrorCancelled, err.Error(),
			).WithStep(spec.Role)
		}

		wg.Add(1)
		go func(i int, spec *api.AgentSpec, prompt string) {
			defer wg.Done()
			defer sem.Release(1)

			res, stepErr := run.callAgent(ctx, spec.Role, spec, prompt, msgs)
			if stepErr != nil {
				run.recordFailure(spec, stepErr)
				outcomes[i] = agentOutcome{spec: spec, err: stepErr}
				return
			}
			outcomes[i] = agentOutcome{spec: spec, text: res.Text}
		}(i, spec, prompts[i])
	}
	wg.Wait()
	return outcomes, nil
}

// recordFailure appends a failed agent's step result so fan-out runs keep
// a complete per-agent account
func (run *orchRun) recordFailure(spec *api.AgentSpec, stepErr *api.ExecError) {
	run.engine.recordStep(run.x.ID, &api.StepResult{
		ID:    spec.Role,
		Name:  spec.Role,
		Error: stepErr,
	})
}

// aggregate joins the successful outputs role-labeled in declaration
// order and returns the roles that failed
func aggregate(outcomes []agentOutcome) (string, []string) {
	var parts []string
	var failed []string
	for _, o := range outcomes {
		if o.err != nil {
			failed = append(failed, o.spec.Role)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s", o.spec.Role, o.text))
	}
	return strings.Join(parts, "\n\n"), failed
}

// parseTaskList extracts sub-tasks from a manager's plan, one per
// non-empty line, stripping common list markers
func parseTaskList(plan string) []string {
	var res []string
	for _, line := range strings.Split(plan, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res = append(res, line)
	}
	return res
}
