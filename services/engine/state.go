// Package engine executes a validated workflow graph for one run: it
// walks the graph from the start node, dispatches each node to its typed
// handler, follows edges chosen by the graph model and produces a run
// report. All external effects go through the injected Agent/Tool/Webhook
// collaborators.
package engine

import (
	"sync"
	"time"
)

// RunStatus is the lifecycle state of one workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunTimedOut  RunStatus = "timed_out"
)

// NodeStatus is the per-visit state of a node execution.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeFailed  NodeStatus = "failed"
)

// HistoryEntry records one node visit in execution order.
type HistoryEntry struct {
	NodeID     string     `json:"node_id"`
	NodeName   string     `json:"node_name"`
	Status     NodeStatus `json:"status"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Report is the structured result of one run, returned to the caller and
// never persisted by the engine itself.
type Report struct {
	WorkflowID       string         `json:"workflow_id"`
	RunID            string         `json:"run_id"`
	Status           RunStatus      `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      time.Time      `json:"completed_at"`
	ExecutionHistory []HistoryEntry `json:"execution_history"`
	NodeOutputs      map[string]any `json:"node_outputs"`
	FinalOutput      map[string]any `json:"final_output"`
	Errors           []string       `json:"errors"`
}

// RunInput is the immutable context a run starts with.
type RunInput struct {
	Message        string         `json:"message"`
	ActorID        string         `json:"actor_id"`
	ConversationID string         `json:"conversation_id"`
	Context        map[string]any `json:"context,omitempty"`
}

// executionState is the owned, per-run mutable state threaded through the
// traversal. Parallel branches of the same run share it under the mutex;
// distinct runs never share anything.
type executionState struct {
	mu        sync.Mutex
	input     RunInput
	variables map[string]any
	outputs   map[string]any
	history   []HistoryEntry
	active    map[string]bool
	errors    []string
	failed    bool
}

func newExecutionState(input RunInput, globals map[string]any) *executionState {
	vars := map[string]any{}
	for k, v := range globals {
		vars[k] = v
	}
	for k, v := range input.Context {
		vars[k] = v
	}
	vars["message"] = input.Message
	vars["actor_id"] = input.ActorID
	vars["conversation_id"] = input.ConversationID

	return &executionState{
		input:     input,
		variables: vars,
		outputs:   map[string]any{},
		active:    map[string]bool{},
	}
}

func (s *executionState) setVar(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[name] = value
}

func (s *executionState) getVar(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[name]
	return v, ok
}

// varsSnapshot returns a shallow copy safe to hand to the condition
// evaluator and the interpolator while other branches keep writing.
func (s *executionState) varsSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[string]any, len(s.variables))
	for k, v := range s.variables {
		snap[k] = v
	}
	return snap
}

func (s *executionState) appendHistory(e HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
}

func (s *executionState) setOutput(nodeID string, out any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[nodeID] = out
}

func (s *executionState) setActive(nodeID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.active[nodeID] = true
	} else {
		delete(s.active, nodeID)
	}
}

func (s *executionState) recordFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
	s.errors = append(s.errors, msg)
}
