package orchestrator

import (
	"fmt"
	"slices"
)

// Node is a state of the planning graph.
type Node int

const (
	// NodeStart opens a turn and decides between planning from scratch and
	// refining a finished thread.
	NodeStart Node = iota
	// NodeRefinement updates the prior constraints from the new utterance.
	NodeRefinement
	// NodeConstraintExtraction builds the constraint set of a first turn.
	NodeConstraintExtraction
	// NodePlan asks the planner for a new plan.
	NodePlan
	// NodeRouter picks the runnable steps or decides what comes next when
	// none are left.
	NodeRouter
	// NodeToolExecution runs the runnable steps concurrently.
	NodeToolExecution
	// NodeVerify checks the accumulated results against the constraints.
	NodeVerify
	// NodeRepair asks the planner to replace a plan with violations.
	NodeRepair
	// NodeSynthesize produces the itinerary and the narrative answer.
	NodeSynthesize
	// NodeRespond finalizes the turn and marks the thread done.
	NodeRespond
	// NodeEnd is terminal. It has no handler.
	NodeEnd
)

var nodeNames = [...]string{
	NodeStart:                "start",
	NodeRefinement:           "refinement",
	NodeConstraintExtraction: "constraint_extraction",
	NodePlan:                 "plan",
	NodeRouter:               "router",
	NodeToolExecution:        "tool_execution",
	NodeVerify:               "verify",
	NodeRepair:               "repair",
	NodeSynthesize:           "synthesize",
	NodeRespond:              "respond",
	NodeEnd:                  "end",
}

// transitions lists the successors allowed for every node. Any other edge is
// a programming error.
var transitions = map[Node][]Node{
	NodeStart:                {NodeRefinement, NodeConstraintExtraction},
	NodeRefinement:           {NodePlan},
	NodeConstraintExtraction: {NodePlan},
	NodePlan:                 {NodeRouter, NodeRepair, NodeSynthesize},
	NodeRouter:               {NodeToolExecution, NodeVerify, NodeRepair, NodeSynthesize},
	NodeToolExecution:        {NodeVerify},
	NodeVerify:               {NodeRepair, NodeRouter, NodeSynthesize},
	NodeRepair:               {NodeRouter, NodeRepair, NodeSynthesize},
	NodeSynthesize:           {NodeRespond},
	NodeRespond:              {NodeEnd},
}

// String returns the wire name of n.
func (n Node) String() string {
	if n < 0 || int(n) >= len(nodeNames) {
		return fmt.Sprintf("node(%d)", int(n))
	}
	return nodeNames[n]
}

// CanTransition reports whether the graph has an edge from n to next.
func (n Node) CanTransition(next Node) bool {
	return slices.Contains(transitions[n], next)
}

// ParseNode returns the node named s.
func ParseNode(s string) (Node, error) {
	for i, name := range nodeNames {
		if name == s {
			return Node(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node %q", s)
}
