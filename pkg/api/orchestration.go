package api

import (
	"errors"
	"fmt"
	"slices"
)

type (
	// Strategy names the algorithm governing how an orchestration's
	// agents are invoked and combined
	Strategy string

	// DefinitionStatus is the publication state of an orchestration
	// definition
	DefinitionStatus string

	// OrchestrationDefinition is a declarative set of cooperating agents
	// plus a coordination strategy
	OrchestrationDefinition struct {
		ID       OrchestrationID  `json:"id"`
		Name     string           `json:"name,omitempty"`
		Agents   []*AgentSpec     `json:"agents"`
		Strategy Strategy         `json:"strategy"`
		Rounds   int              `json:"rounds,omitempty"`
		Status   DefinitionStatus `json:"status,omitempty"`
	}

	// AgentSpec describes a single reasoning-provider role participating
	// in an orchestration
	AgentSpec struct {
		Role         string `json:"role"`
		Model        string `json:"model,omitempty"`
		Instructions string `json:"instructions,omitempty"`
		Position     int    `json:"position"`
		Manager      bool   `json:"manager,omitempty"`
		Synthesizer  bool   `json:"synthesizer,omitempty"`
	}
)

const (
	StrategySequential    Strategy = "sequential"
	StrategyParallel      Strategy = "parallel"
	StrategyManagerWorker Strategy = "manager-worker"
	StrategyDebate        Strategy = "debate"
)

const (
	DefinitionDraft    DefinitionStatus = "draft"
	DefinitionActive   DefinitionStatus = "active"
	DefinitionArchived DefinitionStatus = "archived"
)

// DefaultDebateRounds is the number of debate rounds when a definition
// does not specify one
const DefaultDebateRounds = 2

var (
	ErrOrchNoAgents        = errors.New("orchestration has no agents")
	ErrOrchInvalidStrategy = errors.New("invalid strategy")
	ErrOrchDuplicateRole   = errors.New("duplicate agent role")
	ErrOrchNeedsWorkers    = errors.New(
		"manager-worker requires at least two agents",
	)
)

// Validate checks the structural integrity of an orchestration definition
func (d *OrchestrationDefinition) Validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("%w: %s", ErrOrchNoAgents, d.ID)
	}

	switch d.Strategy {
	case StrategySequential, StrategyParallel, StrategyDebate:
	case StrategyManagerWorker:
		if len(d.Agents) < 2 {
			return fmt.Errorf("%w: %s", ErrOrchNeedsWorkers, d.ID)
		}
	default:
		return fmt.Errorf("%w: %s", ErrOrchInvalidStrategy, d.Strategy)
	}

	seen := map[string]bool{}
	for _, a := range d.Agents {
		if seen[a.Role] {
			return fmt.Errorf("%w: %s", ErrOrchDuplicateRole, a.Role)
		}
		seen[a.Role] = true
	}
	return nil
}

// OrderedAgents returns the agents sorted by declared position. Ties keep
// declaration order; the earlier agent wins aggregation ties downstream
func (d *OrchestrationDefinition) OrderedAgents() []*AgentSpec {
	res := slices.Clone(d.Agents)
	slices.SortStableFunc(res, func(a, b *AgentSpec) int {
		return a.Position - b.Position
	})
	return res
}

// ManagerAgent returns the designated manager agent, defaulting to the
// first declared agent when none is flagged
func (d *OrchestrationDefinition) ManagerAgent() *AgentSpec {
	agents := d.OrderedAgents()
	for _, a := range agents {
		if a.Manager {
			return a
		}
	}
	return agents[0]
}

// SynthesizerAgent returns the agent that produces the final synthesis in
// a debate, defaulting to the last declared agent when none is flagged
func (d *OrchestrationDefinition) SynthesizerAgent() *AgentSpec {
	agents := d.OrderedAgents()
	for _, a := range agents {
		if a.Synthesizer {
			return a
		}
	}
	return agents[len(agents)-1]
}

// DebateRounds returns the configured debate round count or the default
func (d *OrchestrationDefinition) DebateRounds() int {
	if d.Rounds > 0 {
		return d.Rounds
	}
	return DefaultDebateRounds
}

// Clone returns a copy of the definition for snapshotting into an
// execution
func (d *OrchestrationDefinition) Clone() *OrchestrationDefinition {
	res := *d
	res.Agents = make([]*AgentSpec, len(d.Agents))
	for i, a := range d.Agents {
		ac := *a
		res.Agents[i] = &ac
	}
	return &res
}
