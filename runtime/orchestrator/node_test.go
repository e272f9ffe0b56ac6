package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeNamesRoundTrip(t *testing.T) {
	t.Parallel()

	for n := NodeStart; n <= NodeEnd; n++ {
		parsed, err := ParseNode(n.String())
		require.NoError(t, err)
		require.Equal(t, n, parsed)
	}
	_, err := ParseNode("nope")
	require.Error(t, err)
	require.Equal(t, "node(42)", Node(42).String())
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	require.True(t, NodeStart.CanTransition(NodeRefinement))
	require.True(t, NodeRouter.CanTransition(NodeRepair))
	require.True(t, NodeRepair.CanTransition(NodeRepair))
	require.True(t, NodeVerify.CanTransition(NodeSynthesize))

	require.False(t, NodeToolExecution.CanTransition(NodeSynthesize))
	require.False(t, NodeStart.CanTransition(NodePlan))
	require.False(t, NodeSynthesize.CanTransition(NodeEnd))
	require.False(t, NodeEnd.CanTransition(NodeStart))

	// Every node but End has a handler-reachable successor and every
	// successor is a known node.
	for from, tos := range transitions {
		require.NotEqual(t, NodeEnd, from)
		for _, to := range tos {
			require.NotEqual(t, NodeStart, to)
			require.Less(t, int(to), len(nodeNames))
		}
	}
}
