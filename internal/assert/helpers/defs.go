package helpers

import "github.com/loomworks/loom/pkg/api"

// NewLinearFlow creates a trigger -> agent -> agent flow whose output is
// the last node's completion
func NewLinearFlow(id api.FlowID) *api.FlowDefinition {
	return &api.FlowDefinition{
		ID: id,
		Nodes: []*api.Node{
			{ID: "start", Kind: api.NodeTrigger},
			{ID: "first", Kind: api.NodeAgentCall, Model: "first-model",
				Prompt: "step one: ${input.topic}"},
			{ID: "second", Kind: api.NodeAgentCall, Model: "second-model",
				Prompt: "step two"},
		},
		Edges: []*api.Edge{
			{From: "start", To: "first"},
			{From: "first", To: "second"},
		},
	}
}

// NewDiamondFlow creates a flow that fans out from the trigger into two
// branches that rejoin at a single node
func NewDiamondFlow(id api.FlowID) *api.FlowDefinition {
	return &api.FlowDefinition{
		ID: id,
		Nodes: []*api.Node{
			{ID: "start", Kind: api.NodeTrigger},
			{ID: "left", Kind: api.NodeAgentCall, Model: "left-model",
				Prompt: "left"},
			{ID: "right", Kind: api.NodeAgentCall, Model: "right-model",
				Prompt: "right"},
			{ID: "join", Kind: api.NodeAgentCall, Model: "join-model",
				Prompt: "join"},
		},
		Edges: []*api.Edge{
			{From: "start", To: "left"},
			{From: "start", To: "right"},
			{From: "left", To: "join"},
			{From: "right", To: "join"},
		},
	}
}

// NewOrchestration creates a three-agent orchestration with the given
// strategy. Roles are alpha, beta, and gamma in declaration order
func NewOrchestration(
	id api.OrchestrationID, strategy api.Strategy,
) *api.OrchestrationDefinition {
	return &api.OrchestrationDefinition{
		ID:       id,
		Strategy: strategy,
		Status:   api.DefinitionActive,
		Agents: []*api.AgentSpec{
			{Role: "alpha", Model: "alpha-model", Position: 1},
			{Role: "beta", Model: "beta-model", Position: 2},
			{Role: "gamma", Model: "gamma-model", Position: 3},
		},
	}
}
