package api_test

import (
	"testing"

	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/pkg/api"
)

func validFlow() *api.FlowDefinition {
	return &api.FlowDefinition{
		ID: "test-flow",
		Nodes: []*api.Node{
			{ID: "start", Kind: api.NodeTrigger},
			{ID: "work", Kind: api.NodeAgentCall, Model: "m", Prompt: "p"},
		},
		Edges: []*api.Edge{
			{From: "start", To: "work"},
		},
	}
}

func TestFlowValidation(t *testing.T) {
	as := assert.New(t)

	t.Run("valid_flow", func(t *testing.T) {
		as.NoError(validFlow().Validate())
	})

	tests := []struct {
		name          string
		flowMod       func(*api.FlowDefinition)
		errorContains string
	}{
		{
			name: "no_nodes",
			flowMod: func(d *api.FlowDefinition) {
				d.Nodes = nil
			},
			errorContains: "flow has no nodes",
		},
		{
			name: "no_trigger",
			flowMod: func(d *api.FlowDefinition) {
				d.Nodes[0].Kind = api.NodeAction
			},
			errorContains: "flow has no trigger node",
		},
		{
			name: "multiple_triggers",
			flowMod: func(d *api.FlowDefinition) {
				d.Nodes = append(d.Nodes, &api.Node{
					ID: "extra", Kind: api.NodeTrigger,
				})
			},
			errorContains: "flow has multiple trigger nodes",
		},
		{
			name: "duplicate_node_id",
			flowMod: func(d *api.FlowDefinition) {
				d.Nodes = append(d.Nodes, &api.Node{
					ID: "work", Kind: api.NodeAction,
				})
			},
			errorContains: "duplicate node id",
		},
		{
			name: "unknown_node_kind",
			flowMod: func(d *api.FlowDefinition) {
				d.Nodes[1].Kind = "teleport"
			},
			errorContains: "invalid node kind",
		},
		{
			name: "edge_to_unknown_node",
			flowMod: func(d *api.FlowDefinition) {
				d.Edges = append(d.Edges, &api.Edge{
					From: "work", To: "missing",
				})
			},
			errorContains: "edge references unknown node",
		},
		{
			name: "invalid_trigger_kind",
			flowMod: func(d *api.FlowDefinition) {
				d.Trigger = "telepathy"
			},
			errorContains: "invalid trigger kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validFlow()
			tt.flowMod(def)
			err := def.Validate()
			as.Error(err)
			as.Contains(err.Error(), tt.errorContains)
		})
	}
}

func TestFlowAccessors(t *testing.T) {
	as := assert.New(t)
	def := validFlow()

	as.Equal(api.NodeID("start"), def.TriggerNode().ID)
	as.Equal(api.NodeID("work"), def.NodeByID("work").ID)
	as.Nil(def.NodeByID("missing"))

	edges := def.EdgesFrom("start")
	as.Len(edges, 1)
	as.Equal(api.NodeID("work"), edges[0].To)
	as.Empty(def.EdgesFrom("work"))

	as.Equal(1, def.StepCount())
}

func TestFlowClone(t *testing.T) {
	as := assert.New(t)

	def := validFlow()
	def.Variables = api.Args{"limit": 3}
	def.Nodes[1].Params = api.Args{"key": "value"}

	snap := def.Clone()

	def.Nodes[1].Prompt = "mutated"
	def.Nodes[1].Params["key"] = "mutated"
	def.Variables["limit"] = 99
	def.Edges[0].To = "elsewhere"

	as.Equal("p", snap.Nodes[1].Prompt)
	as.Equal("value", snap.Nodes[1].Params["key"])
	as.Equal(3, snap.Variables["limit"])
	as.Equal(api.NodeID("work"), snap.Edges[0].To)
}
