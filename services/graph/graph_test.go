package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph(t *testing.T) *Graph {
	t.Helper()
	g := New("tenant-1", "linear")
	require.NoError(t, g.AddNode(&Node{ID: "start", Type: NodeTrigger, Name: "Start", Enabled: true}))
	require.NoError(t, g.AddNode(&Node{ID: "end", Type: NodeEnd, Name: "End", Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e1", Source: "start", Target: "end", Kind: EdgeDirect, Enabled: true}))
	return g
}

func TestAddEdge_UnknownNodes(t *testing.T) {
	g := New("tenant-1", "g")
	require.NoError(t, g.AddNode(&Node{ID: "a", Type: NodeTrigger, Enabled: true}))

	err := g.AddEdge(&Edge{ID: "e1", Source: "a", Target: "ghost", Enabled: true})
	require.Error(t, err)
	assert.IsType(t, &ReferenceError{}, err)

	err = g.AddEdge(&Edge{ID: "e2", Source: "ghost", Target: "a", Enabled: true})
	assert.IsType(t, &ReferenceError{}, err)
}

func TestAddNode_ImplicitStart(t *testing.T) {
	g := New("tenant-1", "g")

	// First node becomes start even when it is not a trigger.
	require.NoError(t, g.AddNode(&Node{ID: "a", Type: NodeTool, Enabled: true, Config: map[string]any{"tool": "x"}}))
	assert.Equal(t, "a", g.StartNodeID)

	// The first trigger node takes over.
	require.NoError(t, g.AddNode(&Node{ID: "t", Type: NodeTrigger, Enabled: true}))
	assert.Equal(t, "t", g.StartNodeID)

	// An explicit override wins.
	require.NoError(t, g.SetStartNode("a"))
	assert.Equal(t, "a", g.StartNodeID)
}

func TestAddNode_TriggerDoesNotDisplaceExplicitStart(t *testing.T) {
	g := New("tenant-1", "g")
	require.NoError(t, g.AddNode(&Node{ID: "a", Type: NodeTool, Enabled: true, Config: map[string]any{"tool": "x"}}))
	require.NoError(t, g.SetStartNode("a"))

	require.NoError(t, g.AddNode(&Node{ID: "t", Type: NodeTrigger, Enabled: true}))
	assert.Equal(t, "a", g.StartNodeID)
}

func TestNextNodes(t *testing.T) {
	g := New("tenant-1", "g")
	require.NoError(t, g.AddNode(&Node{ID: "cond", Type: NodeCondition, Enabled: true, Config: map[string]any{"expression": "true"}}))
	require.NoError(t, g.AddNode(&Node{ID: "yes", Type: NodeEnd, Enabled: true}))
	require.NoError(t, g.AddNode(&Node{ID: "no", Type: NodeEnd, Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e1", Source: "cond", Target: "yes", Kind: EdgeConditional, Condition: "{{age}} >= 18", Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e2", Source: "cond", Target: "no", Kind: EdgeConditional, Condition: "{{age}} < 18", Enabled: true}))

	assert.Equal(t, []string{"yes"}, g.NextNodes("cond", map[string]any{"age": 30}))
	assert.Equal(t, []string{"no"}, g.NextNodes("cond", map[string]any{"age": 10}))
}

func TestNextNodes_FanOutAndSilentEnd(t *testing.T) {
	g := New("tenant-1", "g")
	require.NoError(t, g.AddNode(&Node{ID: "p", Type: NodeParallel, Enabled: true}))
	require.NoError(t, g.AddNode(&Node{ID: "b1", Type: NodeEnd, Enabled: true}))
	require.NoError(t, g.AddNode(&Node{ID: "b2", Type: NodeEnd, Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e1", Source: "p", Target: "b1", Kind: EdgeDirect, Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e2", Source: "p", Target: "b2", Kind: EdgeDirect, Enabled: true}))

	assert.Equal(t, []string{"b1", "b2"}, g.NextNodes("p", nil))

	// Zero outgoing edges ends the branch silently.
	assert.Empty(t, g.NextNodes("b1", nil))
}

func TestNextNodes_SkipsDisabledAndErrorEdges(t *testing.T) {
	g := New("tenant-1", "g")
	require.NoError(t, g.AddNode(&Node{ID: "a", Type: NodeTool, Enabled: true, Config: map[string]any{"tool": "x"}}))
	require.NoError(t, g.AddNode(&Node{ID: "b", Type: NodeEnd, Enabled: true}))
	require.NoError(t, g.AddNode(&Node{ID: "c", Type: NodeEnd, Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e1", Source: "a", Target: "b", Kind: EdgeDirect, Enabled: false}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e2", Source: "a", Target: "c", Kind: EdgeOnError, Enabled: true}))

	assert.Empty(t, g.NextNodes("a", nil))
	require.NotNil(t, g.ErrorEdge("a"))
	assert.Equal(t, "c", g.ErrorEdge("a").Target)
}

func TestValidate_EmptyGraph(t *testing.T) {
	rep := New("tenant-1", "empty").Validate()
	assert.False(t, rep.Valid)
	assert.Contains(t, rep.Errors[0], "no nodes")
}

func TestValidate_MissingStartNode(t *testing.T) {
	g := New("tenant-1", "g")
	require.NoError(t, g.AddNode(&Node{ID: "a", Type: NodeEnd, Enabled: true}))
	g.StartNodeID = "ghost"

	rep := g.Validate()
	assert.False(t, rep.Valid)
}

func TestValidate_DanglingEdge(t *testing.T) {
	g := linearGraph(t)
	// Bypass AddEdge to simulate a corrupted document.
	g.Edges["bad"] = &Edge{ID: "bad", Source: "start", Target: "ghost", Kind: EdgeDirect, Enabled: true}

	rep := g.Validate()
	assert.False(t, rep.Valid)
}

func TestValidate_LinearGraphPasses(t *testing.T) {
	rep := linearGraph(t).Validate()
	assert.True(t, rep.Valid)
	assert.Empty(t, rep.Errors)
}

func TestValidate_RequiredConfig(t *testing.T) {
	tests := []struct {
		name string
		node *Node
	}{
		{"agent without ref", &Node{ID: "n", Type: NodeAgent, Enabled: true}},
		{"agent outside allow-list", &Node{ID: "n", Type: NodeAgent, Enabled: true, Config: map[string]any{"agent": "rogue"}}},
		{"tool without ref", &Node{ID: "n", Type: NodeTool, Enabled: true}},
		{"condition without expression", &Node{ID: "n", Type: NodeCondition, Enabled: true}},
		{"condition with bad expression", &Node{ID: "n", Type: NodeCondition, Enabled: true, Config: map[string]any{"expression": "({{a}} == 1"}}},
		{"variable without name", &Node{ID: "n", Type: NodeVariable, Enabled: true}},
		{"wait without delay", &Node{ID: "n", Type: NodeWait, Enabled: true}},
		{"webhook without url", &Node{ID: "n", Type: NodeWebhook, Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New("tenant-1", "g")
			require.NoError(t, g.AddNode(tt.node))
			rep := g.Validate()
			assert.False(t, rep.Valid)
		})
	}
}

func TestValidate_WarningsDoNotBlock(t *testing.T) {
	g := linearGraph(t)
	require.NoError(t, g.AddNode(&Node{ID: "orphan", Type: NodeMerge, Enabled: true}))

	rep := g.Validate()
	assert.True(t, rep.Valid)

	var sawOrphan, sawDeadEnd bool
	for _, w := range rep.Warnings {
		if w == `node "orphan" is unreachable (no incoming edges)` {
			sawOrphan = true
		}
		if w == `node "orphan" is a dead end (no outgoing edges)` {
			sawDeadEnd = true
		}
	}
	assert.True(t, sawOrphan)
	assert.True(t, sawDeadEnd)
}

func TestValidate_CycleReportedAsPath(t *testing.T) {
	g := New("tenant-1", "g")
	require.NoError(t, g.AddNode(&Node{ID: "a", Type: NodeTrigger, Enabled: true}))
	require.NoError(t, g.AddNode(&Node{ID: "b", Type: NodeMerge, Enabled: true}))
	require.NoError(t, g.AddNode(&Node{ID: "c", Type: NodeMerge, Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e1", Source: "a", Target: "b", Kind: EdgeDirect, Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e2", Source: "b", Target: "c", Kind: EdgeDirect, Enabled: true}))
	require.NoError(t, g.AddEdge(&Edge{ID: "e3", Source: "c", Target: "b", Kind: EdgeDirect, Enabled: true}))

	rep := g.Validate()
	assert.True(t, rep.Valid, "cycles warn, they do not block")

	var cycleWarning string
	for _, w := range rep.Warnings {
		if len(w) > 6 && w[:6] == "cycle " {
			cycleWarning = w
		}
	}
	assert.Equal(t, "cycle detected: b -> c -> b", cycleWarning)
}

func TestSampleBookingGraph_Validates(t *testing.T) {
	rep := SampleBookingGraph().Validate()
	assert.True(t, rep.Valid)
	assert.Empty(t, rep.Errors)
}
