package graph

import (
	"fmt"
	"sort"
	"strings"

	"flowcore/services/condition"
)

// ValidationReport separates execution-blocking errors from advisory
// warnings. A graph with warnings still runs; a graph with errors never
// does.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks the graph's structure and per-type node configuration.
// Errors: empty graph, missing or dangling start node, missing required
// config, edges referencing unknown nodes. Warnings: orphan nodes, dead
// ends, and cycles (reported as the node path; cycles are legal because
// loop nodes self-reference, but operators should see them).
func (g *Graph) Validate() ValidationReport {
	rep := ValidationReport{Errors: []string{}, Warnings: []string{}}

	if len(g.Nodes) == 0 {
		rep.Errors = append(rep.Errors, "graph has no nodes")
		return rep
	}

	if g.StartNodeID == "" {
		rep.Errors = append(rep.Errors, "graph has no start node")
	} else if _, ok := g.Nodes[g.StartNodeID]; !ok {
		rep.Errors = append(rep.Errors, fmt.Sprintf("start node %q does not exist", g.StartNodeID))
	}

	for _, id := range g.sortedNodeIDs() {
		n := g.Nodes[id]
		rep.Errors = append(rep.Errors, validateNodeConfig(n)...)
	}

	incoming := map[string]int{}
	outgoing := map[string]int{}
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			rep.Errors = append(rep.Errors, fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
			continue
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			rep.Errors = append(rep.Errors, fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
			continue
		}
		if !e.Enabled {
			continue
		}
		incoming[e.Target]++
		outgoing[e.Source]++
	}

	for _, id := range g.sortedNodeIDs() {
		n := g.Nodes[id]
		if id != g.StartNodeID && incoming[id] == 0 {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("node %q is unreachable (no incoming edges)", id))
		}
		if n.Type != NodeEnd && outgoing[id] == 0 {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("node %q is a dead end (no outgoing edges)", id))
		}
	}

	for _, cycle := range g.findCycles() {
		rep.Warnings = append(rep.Warnings, "cycle detected: "+strings.Join(cycle, " -> "))
	}

	rep.Valid = len(rep.Errors) == 0
	return rep
}

func validateNodeConfig(n *Node) []string {
	var errs []string
	cfg := n.Config

	str := func(key string) string {
		s, _ := cfg[key].(string)
		return s
	}

	switch n.Type {
	case NodeAgent:
		ref := str("agent")
		if ref == "" {
			errs = append(errs, fmt.Sprintf("agent node %q has no agent reference", n.ID))
		} else if !AgentRefs[ref] {
			errs = append(errs, fmt.Sprintf("agent node %q references unknown agent %q", n.ID, ref))
		}
	case NodeTool:
		if str("tool") == "" {
			errs = append(errs, fmt.Sprintf("tool node %q has no tool reference", n.ID))
		}
	case NodeCondition:
		expr := str("expression")
		if expr == "" {
			errs = append(errs, fmt.Sprintf("condition node %q has no expression", n.ID))
		} else if res := condition.ValidateSyntax(expr); !res.Valid {
			errs = append(errs, fmt.Sprintf("condition node %q: %s", n.ID, strings.Join(res.Errors, "; ")))
		}
	case NodeVariable:
		if str("name") == "" {
			errs = append(errs, fmt.Sprintf("variable node %q has no target name", n.ID))
		}
	case NodeWait:
		if _, ok := toSeconds(cfg["duration_seconds"]); !ok {
			errs = append(errs, fmt.Sprintf("wait node %q has no duration", n.ID))
		}
	case NodeWebhook:
		if str("url") == "" {
			errs = append(errs, fmt.Sprintf("webhook node %q has no url", n.ID))
		}
	}
	return errs
}

func toSeconds(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, n > 0
	case int:
		return float64(n), n > 0
	case int64:
		return float64(n), n > 0
	}
	return 0, false
}

// findCycles runs a depth-first search with an explicit recursion stack
// and reports each cycle as the concrete node path forming it.
func (g *Graph) findCycles() [][]string {
	var cycles [][]string
	visited := map[string]bool{}
	onStack := map[string]bool{}
	var path []string

	adj := map[string][]string{}
	for _, e := range g.Edges {
		if !e.Enabled {
			continue
		}
		if _, ok := g.Nodes[e.Source]; !ok {
			continue
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	for k := range adj {
		sort.Strings(adj[k])
	}

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range adj[id] {
			if onStack[next] {
				// Slice the path from the first occurrence of next to
				// report the concrete loop, closed back on itself.
				for i, p := range path {
					if p == next {
						cycle := append(append([]string{}, path[i:]...), next)
						cycles = append(cycles, cycle)
						break
					}
				}
				continue
			}
			if !visited[next] {
				dfs(next)
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
	}

	for _, id := range g.sortedNodeIDs() {
		if !visited[id] {
			dfs(id)
		}
	}
	return cycles
}

func (g *Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
