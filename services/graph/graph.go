package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"flowcore/services/condition"
)

// New creates an empty graph for the given tenant.
func New(tenantID, name string) *Graph {
	now := time.Now().UTC()
	return &Graph{
		ID:        uuid.New().String(),
		Name:      name,
		TenantID:  tenantID,
		Nodes:     map[string]*Node{},
		Edges:     map[string]*Edge{},
		Variables: map[string]any{},
		Version:   1,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddNode inserts a node. The first inserted node, or the first
// trigger-typed node, becomes the implicit start unless SetStartNode has
// been called.
func (g *Graph) AddNode(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if _, exists := g.Nodes[n.ID]; exists {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	if !nodeTypes[n.Type] {
		return fmt.Errorf("unknown node type %q", n.Type)
	}
	g.Nodes[n.ID] = n
	if !g.explicitStart {
		if g.StartNodeID == "" || (n.Type == NodeTrigger && g.Nodes[g.StartNodeID] != nil && g.Nodes[g.StartNodeID].Type != NodeTrigger) {
			g.StartNodeID = n.ID
		}
	}
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// AddEdge inserts an edge after checking both endpoints exist.
func (g *Graph) AddEdge(e *Edge) error {
	if e.ID == "" {
		return fmt.Errorf("edge id is required")
	}
	if _, exists := g.Edges[e.ID]; exists {
		return fmt.Errorf("duplicate edge id %q", e.ID)
	}
	if _, ok := g.Nodes[e.Source]; !ok {
		return &ReferenceError{Kind: "node", ID: e.Source}
	}
	if _, ok := g.Nodes[e.Target]; !ok {
		return &ReferenceError{Kind: "node", ID: e.Target}
	}
	if e.Kind == "" {
		e.Kind = EdgeDirect
	}
	g.Edges[e.ID] = e
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStartNode overrides the implicit start node. Once called, later
// trigger insertions no longer move the start.
func (g *Graph) SetStartNode(id string) error {
	if _, ok := g.Nodes[id]; !ok {
		return &ReferenceError{Kind: "node", ID: id}
	}
	g.StartNodeID = id
	g.explicitStart = true
	return nil
}

// OutgoingEdges returns the enabled edges leaving a node, ordered by edge
// id so traversal is deterministic across runs.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.Source == nodeID && e.Enabled {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextNodes returns the target ids of every enabled outgoing edge whose
// condition evaluates true against vars. Edges without a condition are
// unconditional. Multiple true edges fan out; zero true edges ends the
// branch. OnError edges are never followed on the success path.
func (g *Graph) NextNodes(nodeID string, vars map[string]any) []string {
	var targets []string
	for _, e := range g.OutgoingEdges(nodeID) {
		if e.Kind == EdgeOnError {
			continue
		}
		if e.Condition == "" {
			targets = append(targets, e.Target)
			continue
		}
		ok, err := condition.Evaluate(e.Condition, vars)
		if err != nil {
			slog.Warn("edge condition failed to evaluate, skipping edge",
				"edge", e.ID, "condition", e.Condition, "error", err)
			continue
		}
		if ok {
			targets = append(targets, e.Target)
		}
	}
	return targets
}

// ErrorEdge returns the first enabled OnError edge leaving a node, if any.
func (g *Graph) ErrorEdge(nodeID string) *Edge {
	for _, e := range g.OutgoingEdges(nodeID) {
		if e.Kind == EdgeOnError {
			return e
		}
	}
	return nil
}
