package api

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

type (
	// NodeKind identifies the behavior of a flow node
	NodeKind string

	// TriggerKind identifies how a flow execution is initiated
	TriggerKind string

	// ConditionLang identifies the language of a condition expression
	ConditionLang string

	// BackoffType determines how retry delays grow between attempts
	BackoffType string

	// FlowDefinition is a declarative automation graph: a set of nodes
	// connected by edges, started from a unique trigger node. Definitions
	// are immutable once an execution starts; the engine copies them into
	// the execution at submit time
	FlowDefinition struct {
		ID        FlowID      `json:"id"`
		Name      string      `json:"name,omitempty"`
		Nodes     []*Node     `json:"nodes"`
		Edges     []*Edge     `json:"edges"`
		Variables Args        `json:"variables,omitempty"`
		Trigger   TriggerKind `json:"trigger"`
		OutputVar Name        `json:"output_var,omitempty"`
	}

	// Node is a single step in a flow graph
	Node struct {
		ID        NodeID       `json:"id"`
		Kind      NodeKind     `json:"kind"`
		Name      string       `json:"name,omitempty"`
		Action    string       `json:"action,omitempty"`
		Params    Args         `json:"params,omitempty"`
		Prompt    string       `json:"prompt,omitempty"`
		Model     string       `json:"model,omitempty"`
		Script    string       `json:"script,omitempty"`
		Condition *Condition   `json:"condition,omitempty"`
		OutputVar Name         `json:"output_var,omitempty"`
		Critical  bool         `json:"critical,omitempty"`
		Retry     *RetryPolicy `json:"retry,omitempty"`
	}

	// Edge connects two nodes, optionally guarded by a condition over the
	// current variable bindings
	Edge struct {
		From      NodeID     `json:"from"`
		To        NodeID     `json:"to"`
		Condition *Condition `json:"condition,omitempty"`
	}

	// Condition is an expression evaluated against variable bindings
	Condition struct {
		Lang ConditionLang `json:"lang,omitempty"`
		Expr string        `json:"expr"`
	}

	// RetryPolicy controls step-local retries. Retries are invisible to
	// the execution's status
	RetryPolicy struct {
		MaxRetries  int         `json:"max_retries"`
		InitBackoff int64       `json:"init_backoff,omitempty"`
		MaxBackoff  int64       `json:"max_backoff,omitempty"`
		BackoffType BackoffType `json:"backoff_type,omitempty"`
	}
)

const (
	NodeTrigger   NodeKind = "trigger"
	NodeAction    NodeKind = "action"
	NodeBranch    NodeKind = "branch"
	NodeTransform NodeKind = "transform"
	NodeAgentCall NodeKind = "agentCall"
)

const (
	TriggerManual   TriggerKind = "manual"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerSchedule TriggerKind = "schedule"
)

const (
	// ConditionLua evaluates the expression as a sandboxed Lua chunk whose
	// result is truthy or falsy
	ConditionLua ConditionLang = "lua"

	// ConditionPath treats the expression as a JSON path over the variable
	// bindings; any match satisfies the condition
	ConditionPath ConditionLang = "path"
)

const (
	BackoffTypeFixed       BackoffType = "fixed"
	BackoffTypeLinear      BackoffType = "linear"
	BackoffTypeExponential BackoffType = "exponential"
)

var (
	ErrFlowNoNodes        = errors.New("flow has no nodes")
	ErrFlowNoTrigger      = errors.New("flow has no trigger node")
	ErrFlowManyTriggers   = errors.New("flow has multiple trigger nodes")
	ErrFlowDuplicateNode  = errors.New("duplicate node id")
	ErrFlowUnknownNode    = errors.New("edge references unknown node")
	ErrFlowInvalidKind    = errors.New("invalid node kind")
	ErrFlowInvalidTrigger = errors.New("invalid trigger kind")
)

// Validate checks the structural integrity of a flow definition: exactly
// one trigger node, unique node IDs, known node kinds, and edges that
// reference declared nodes
func (d *FlowDefinition) Validate() error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("%w: %s", ErrFlowNoNodes, d.ID)
	}

	switch d.Trigger {
	case TriggerManual, TriggerWebhook, TriggerSchedule, "":
	default:
		return fmt.Errorf("%w: %s", ErrFlowInvalidTrigger, d.Trigger)
	}

	seen := map[NodeID]bool{}
	triggers := 0
	for _, n := range d.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("%w: %s", ErrFlowDuplicateNode, n.ID)
		}
		seen[n.ID] = true

		switch n.Kind {
		case NodeTrigger:
			triggers++
		case NodeAction, NodeBranch, NodeTransform, NodeAgentCall:
		default:
			return fmt.Errorf("%w: %s", ErrFlowInvalidKind, n.Kind)
		}
	}

	if triggers == 0 {
		return fmt.Errorf("%w: %s", ErrFlowNoTrigger, d.ID)
	}
	if triggers > 1 {
		return fmt.Errorf("%w: %s", ErrFlowManyTriggers, d.ID)
	}

	for _, e := range d.Edges {
		if !seen[e.From] {
			return fmt.Errorf("%w: %s", ErrFlowUnknownNode, e.From)
		}
		if !seen[e.To] {
			return fmt.Errorf("%w: %s", ErrFlowUnknownNode, e.To)
		}
	}
	return nil
}

// TriggerNode returns the unique trigger node of the flow
func (d *FlowDefinition) TriggerNode() *Node {
	for _, n := range d.Nodes {
		if n.Kind == NodeTrigger {
			return n
		}
	}
	return nil
}

// NodeByID returns the node with the given ID, or nil
func (d *FlowDefinition) NodeByID(id NodeID) *Node {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// EdgesFrom returns all edges originating at the given node, in
// declaration order
func (d *FlowDefinition) EdgesFrom(id NodeID) []*Edge {
	var res []*Edge
	for _, e := range d.Edges {
		if e.From == id {
			res = append(res, e)
		}
	}
	return res
}

// Clone returns a deep enough copy of the definition for snapshotting
// into an execution. Node and edge structs are copied so later definition
// mutations never affect a running or recorded execution
func (d *FlowDefinition) Clone() *FlowDefinition {
	res := *d
	res.Nodes = make([]*Node, len(d.Nodes))
	for i, n := range d.Nodes {
		nc := *n
		nc.Params = maps.Clone(n.Params)
		res.Nodes[i] = &nc
	}
	res.Edges = make([]*Edge, len(d.Edges))
	for i, e := range d.Edges {
		ec := *e
		res.Edges[i] = &ec
	}
	res.Variables = maps.Clone(d.Variables)
	return &res
}

// StepCount returns the number of executable nodes in the flow
func (d *FlowDefinition) StepCount() int {
	return len(slices.DeleteFunc(slices.Clone(d.Nodes), func(n *Node) bool {
		return n.Kind == NodeTrigger
	}))
}
