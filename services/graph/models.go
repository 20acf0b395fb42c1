// Package graph holds the workflow graph model: typed nodes, optionally
// conditional edges, structural validation and the versioned persistence
// of graph documents.
package graph

import (
	"fmt"
	"time"
)

// NodeType enumerates every supported workflow step kind. The set is
// closed: the executor dispatches on it exhaustively and validation
// rejects anything outside it.
type NodeType string

const (
	NodeTrigger   NodeType = "trigger"
	NodeAgent     NodeType = "agent"
	NodeTool      NodeType = "tool"
	NodeCondition NodeType = "condition"
	NodeSwitch    NodeType = "switch"
	NodeLoop      NodeType = "loop"
	NodeParallel  NodeType = "parallel"
	NodeMerge     NodeType = "merge"
	NodeWait      NodeType = "wait"
	NodeWebhook   NodeType = "webhook"
	NodeVariable  NodeType = "variable"
	NodeEnd       NodeType = "end"
)

var nodeTypes = map[NodeType]bool{
	NodeTrigger: true, NodeAgent: true, NodeTool: true, NodeCondition: true,
	NodeSwitch: true, NodeLoop: true, NodeParallel: true, NodeMerge: true,
	NodeWait: true, NodeWebhook: true, NodeVariable: true, NodeEnd: true,
}

// EdgeKind enumerates how an edge is followed during traversal.
type EdgeKind string

const (
	EdgeDirect      EdgeKind = "direct"
	EdgeConditional EdgeKind = "conditional"
	EdgeOnSuccess   EdgeKind = "on_success"
	EdgeOnError     EdgeKind = "on_error"
	EdgeFallback    EdgeKind = "fallback"
)

// AgentRefs is the allow-list of agent references a node may delegate to.
// These are the agent roles of the surrounding platform; anything else is
// a validation error so a typo never reaches the agent invoker.
var AgentRefs = map[string]bool{
	"router":       true,
	"conversation": true,
	"booking":      true,
	"support":      true,
	"emergency":    true,
	"availability": true,
}

// RetryPolicy is advisory retry configuration carried on a node. The
// traversal engine itself never retries; the policy is passed through to
// the invoker collaborators.
type RetryPolicy struct {
	MaxAttempts    int     `json:"max_attempts"`
	BackoffSeconds float64 `json:"backoff_seconds"`
}

// Node is a single step in a workflow graph. Config holds the
// type-specific settings; Validate checks that the required keys for the
// node's type are present before a graph is ever executed.
type Node struct {
	ID             string         `json:"id"`
	Type           NodeType       `json:"type"`
	Name           string         `json:"name"`
	Config         map[string]any `json:"config,omitempty"`
	Enabled        bool           `json:"enabled"`
	Retry          *RetryPolicy   `json:"retry,omitempty"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty"`
}

// Edge is a directed connection between two nodes. Conditional edges carry
// a boolean expression evaluated against the run's variables.
type Edge struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Kind      EdgeKind `json:"kind"`
	Condition string   `json:"condition,omitempty"`
	Enabled   bool     `json:"enabled"`
}

// Graph is an operator-defined workflow for one tenant.
type Graph struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	TenantID    string           `json:"tenant_id"`
	Nodes       map[string]*Node `json:"nodes"`
	Edges       map[string]*Edge `json:"edges"`
	StartNodeID string           `json:"start_node_id"`
	Variables   map[string]any   `json:"variables,omitempty"`
	Triggers    []string         `json:"triggers,omitempty"`
	Version     int              `json:"version"`
	Enabled     bool             `json:"enabled"`
	Tags        []string         `json:"tags,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CreatedBy   string           `json:"created_by,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// set by SetStartNode; pins the start against trigger promotion
	explicitStart bool
}

// ReferenceError reports an edge or operation naming a node that does not
// exist in the graph.
type ReferenceError struct {
	Kind string // "node" or "edge"
	ID   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.ID)
}
