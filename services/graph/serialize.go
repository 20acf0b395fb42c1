package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Marshal serializes the graph to its versioned JSON document form.
func (g *Graph) Marshal() ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	return data, nil
}

// Unmarshal parses a graph document. Documents saved by older authoring
// tools may lack an id; one is generated deterministically from tenant id
// and creation time so repeated imports of the same document agree.
func Unmarshal(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	if g.Nodes == nil {
		g.Nodes = map[string]*Node{}
	}
	if g.Edges == nil {
		g.Edges = map[string]*Edge{}
	}
	if g.Variables == nil {
		g.Variables = map[string]any{}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.ID == "" {
		g.ID = DeterministicID(g.TenantID, g.CreatedAt)
	}
	if g.Version == 0 {
		g.Version = 1
	}
	// A stored document's start is authoritative.
	if g.StartNodeID != "" {
		g.explicitStart = true
	}

	for id, n := range g.Nodes {
		if n.ID == "" {
			n.ID = id
		}
		if !nodeTypes[n.Type] {
			return nil, fmt.Errorf("node %q has unknown type %q", id, n.Type)
		}
	}
	for id, e := range g.Edges {
		if e.ID == "" {
			e.ID = id
		}
		if e.Kind == "" {
			e.Kind = EdgeDirect
		}
	}
	return &g, nil
}

// DeterministicID derives a stable uuid from tenant id and creation time.
func DeterministicID(tenantID string, createdAt time.Time) string {
	seed := tenantID + "/" + createdAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
