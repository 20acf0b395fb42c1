package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowcore/services/condition"
	"flowcore/services/graph"
)

const defaultLoopIterations = 10

// ExecutionError wraps a node handler failure. It may be recovered by an
// on_error edge; otherwise it fails the run.
type ExecutionError struct {
	NodeID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Executor walks a validated graph for one run. It holds no per-run
// state, so one Executor serves any number of concurrent runs.
type Executor struct {
	agents   AgentInvoker
	tools    ToolInvoker
	webhooks WebhookDoer
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given collaborators.
func NewExecutor(agents AgentInvoker, tools ToolInvoker, webhooks WebhookDoer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{agents: agents, tools: tools, webhooks: webhooks, logger: logger}
}

// Execute runs the graph to completion and returns the report. It never
// returns an error: validation failures, node failures and cancellation
// are all surfaced in the report so the caller can render partial
// progress and the exact failure point.
func (x *Executor) Execute(ctx context.Context, g *graph.Graph, input RunInput) *Report {
	rep := &Report{
		WorkflowID:  g.ID,
		RunID:       uuid.New().String(),
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
		NodeOutputs: map[string]any{},
		FinalOutput: map[string]any{},
		Errors:      []string{},
	}

	if v := g.Validate(); !v.Valid {
		rep.Status = RunFailed
		rep.Errors = v.Errors
		rep.CompletedAt = time.Now().UTC()
		return rep
	}

	st := newExecutionState(input, g.Variables)
	logger := x.logger.With("workflow", g.ID, "run", rep.RunID, "tenant", g.TenantID)
	logger.Info("run started", "start_node", g.StartNodeID)

	var wg sync.WaitGroup
	x.runBranch(ctx, g, st, logger, g.StartNodeID, map[string]int{}, &wg)
	wg.Wait()

	rep.CompletedAt = time.Now().UTC()
	rep.ExecutionHistory = st.history
	rep.NodeOutputs = st.outputs
	rep.FinalOutput = st.varsSnapshot()
	rep.Errors = append(rep.Errors, st.errors...)

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		rep.Status = RunTimedOut
	case ctx.Err() == context.Canceled:
		rep.Status = RunCancelled
	case st.failed:
		rep.Status = RunFailed
	default:
		rep.Status = RunSuccess
	}
	logger.Info("run finished", "status", rep.Status, "nodes", len(rep.ExecutionHistory))
	return rep
}

type frame struct {
	nodeID  string
	visited map[string]int
}

// runBranch drives one branch with an explicit work-list, so stack depth
// stays bounded and the cancellation check sits between steps. Parallel
// nodes spawn sibling branches as goroutines, each with its own copy of
// the visited-set.
func (x *Executor) runBranch(ctx context.Context, g *graph.Graph, st *executionState, logger *slog.Logger, startID string, visited map[string]int, wg *sync.WaitGroup) {
	stack := []frame{{nodeID: startID, visited: visited}}

	for len(stack) > 0 {
		// Once cancellation is raised, no new node executions start.
		if ctx.Err() != nil {
			return
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, ok := g.Nodes[f.nodeID]
		if !ok || !n.Enabled {
			continue
		}

		// Per-path revisit guard. Loop nodes may revisit themselves up
		// to their configured bound; everything else runs once per path.
		count := f.visited[n.ID]
		if count >= maxVisits(n) {
			continue
		}
		f.visited[n.ID] = count + 1

		st.setActive(n.ID, true)
		started := time.Now()
		out, err := x.executeNode(ctx, st, n)
		duration := time.Since(started)
		st.setActive(n.ID, false)

		entry := HistoryEntry{
			NodeID:     n.ID,
			NodeName:   n.Name,
			DurationMS: duration.Milliseconds(),
			Timestamp:  time.Now().UTC(),
		}

		if err != nil {
			entry.Status = NodeFailed
			entry.Error = err.Error()
			st.appendHistory(entry)

			if e := g.ErrorEdge(n.ID); e != nil {
				logger.Warn("node failed, following on_error edge",
					"node", n.ID, "target", e.Target, "error", err)
				stack = append(stack, frame{nodeID: e.Target, visited: f.visited})
				continue
			}
			logger.Error("node failed with no on_error edge", "node", n.ID, "error", err)
			st.recordFailure((&ExecutionError{NodeID: n.ID, Err: err}).Error())
			return
		}

		entry.Status = NodeSuccess
		entry.Output = out
		st.appendHistory(entry)
		st.setOutput(n.ID, out)

		if n.Type == graph.NodeEnd {
			continue
		}

		targets := x.nextTargets(g, st, n, f.visited[n.ID])
		if len(targets) == 0 {
			continue
		}

		if n.Type == graph.NodeParallel {
			// Fan out sibling branches concurrently. Failures are
			// collected per branch and never cancel siblings.
			for _, tgt := range targets {
				wg.Add(1)
				go func(target string, snapshot map[string]int) {
					defer wg.Done()
					x.runBranch(ctx, g, st, logger, target, snapshot, wg)
				}(tgt, copyVisited(f.visited))
			}
			continue
		}

		if len(targets) == 1 {
			stack = append(stack, frame{nodeID: targets[0], visited: f.visited})
			continue
		}
		// In-branch fan-out: each path gets its own visited-set copy so
		// one path's traversal never blocks another's.
		for i := len(targets) - 1; i >= 0; i-- {
			stack = append(stack, frame{nodeID: targets[i], visited: copyVisited(f.visited)})
		}
	}
}

// nextTargets applies the graph model's edge selection, plus the loop
// exit rule: once a loop's exit condition holds or its iteration bound is
// reached, self-edges are dropped so only the exit path remains.
func (x *Executor) nextTargets(g *graph.Graph, st *executionState, n *graph.Node, iterations int) []string {
	targets := g.NextNodes(n.ID, st.varsSnapshot())
	if n.Type != graph.NodeLoop {
		return targets
	}

	exiting := iterations >= maxVisits(n)
	if expr := cfgString(n, "exit_condition"); expr != "" && !exiting {
		done, err := condition.Evaluate(expr, st.varsSnapshot())
		if err != nil {
			x.logger.Warn("loop exit condition failed to evaluate", "node", n.ID, "error", err)
		}
		exiting = done
	}
	if !exiting {
		return targets
	}

	var out []string
	for _, t := range targets {
		if t != n.ID {
			out = append(out, t)
		}
	}
	return out
}

func maxVisits(n *graph.Node) int {
	if n.Type != graph.NodeLoop {
		return 1
	}
	if v, ok := n.Config["max_iterations"]; ok {
		switch i := v.(type) {
		case int:
			if i > 0 {
				return i
			}
		case float64:
			if i > 0 {
				return int(i)
			}
		}
	}
	return defaultLoopIterations
}

func copyVisited(visited map[string]int) map[string]int {
	out := make(map[string]int, len(visited))
	for k, v := range visited {
		out[k] = v
	}
	return out
}

// executeNode dispatches on the node type. The switch is exhaustive over
// the closed NodeType set; validation has already rejected unknown types.
func (x *Executor) executeNode(ctx context.Context, st *executionState, n *graph.Node) (any, error) {
	if n.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(n.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	switch n.Type {
	case graph.NodeTrigger:
		return map[string]any{"message": "workflow started"}, nil

	case graph.NodeAgent:
		return x.executeAgent(ctx, st, n)

	case graph.NodeTool:
		return x.executeTool(ctx, st, n)

	case graph.NodeCondition, graph.NodeSwitch:
		// Branching lives entirely in the outgoing edges.
		return map[string]any{"expression": cfgString(n, "expression")}, nil

	case graph.NodeVariable:
		return executeVariable(st, n)

	case graph.NodeWait:
		return executeWait(ctx, n)

	case graph.NodeWebhook:
		return x.executeWebhook(ctx, st, n)

	case graph.NodeLoop:
		counter := cfgString(n, "counter_variable")
		if counter == "" {
			counter = "loop_index"
		}
		i := 1
		if cur, ok := st.getVar(counter); ok {
			if prev, ok := toInt(cur); ok {
				i = prev + 1
			}
		}
		st.setVar(counter, i)
		return map[string]any{"iteration": i, "counter": counter}, nil

	case graph.NodeParallel:
		return map[string]any{"message": "parallel fan-out"}, nil

	case graph.NodeMerge:
		// Join marker only: branches are not barriered here, the
		// fan-out is deliberately best-effort.
		return map[string]any{"message": "merge"}, nil

	case graph.NodeEnd:
		return map[string]any{"message": "workflow completed"}, nil
	}

	return nil, fmt.Errorf("unhandled node type %q", n.Type)
}

func (x *Executor) executeAgent(ctx context.Context, st *executionState, n *graph.Node) (any, error) {
	ref := cfgString(n, "agent")
	msg := cfgString(n, "message")
	if msg == "" {
		msg = st.input.Message
	}
	msg = interpolateString(msg, st.varsSnapshot())

	text, err := x.agents.Invoke(ctx, ref, msg, st.input.ActorID, st.input.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", ref, err)
	}

	storeResult(st, n, text)
	return map[string]any{"agent": ref, "response": text}, nil
}

func (x *Executor) executeTool(ctx context.Context, st *executionState, n *graph.Node) (any, error) {
	ref := cfgString(n, "tool")
	params, _ := interpolate(n.Config["params"], st.varsSnapshot()).(map[string]any)

	res, err := x.tools.Invoke(ctx, ref, params)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", ref, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("tool %q failed: %s", ref, res.Error)
	}

	storeResult(st, n, res.Data)
	return map[string]any{"tool": ref, "data": res.Data}, nil
}

func (x *Executor) executeWebhook(ctx context.Context, st *executionState, n *graph.Node) (any, error) {
	vars := st.varsSnapshot()
	url := interpolateString(cfgString(n, "url"), vars)
	method := cfgString(n, "method")
	if method == "" {
		method = "GET"
	}

	headers := map[string]string{}
	if raw, ok := n.Config["headers"].(map[string]any); ok {
		for k, v := range raw {
			headers[k] = interpolateString(stringify(v), vars)
		}
	}
	body := interpolate(n.Config["body"], vars)

	resp, err := x.webhooks.Do(ctx, method, url, headers, body)
	if err != nil {
		return nil, fmt.Errorf("webhook %s %s: %w", method, url, err)
	}

	storeResult(st, n, resp)
	return resp, nil
}

func executeVariable(st *executionState, n *graph.Node) (any, error) {
	name := cfgString(n, "name")
	if raw, ok := n.Config["value"]; ok {
		v := interpolate(raw, st.varsSnapshot())
		st.setVar(name, v)
		return map[string]any{"name": name, "value": v, "action": "set"}, nil
	}
	v, _ := st.getVar(name)
	return map[string]any{"name": name, "value": v, "action": "read"}, nil
}

func executeWait(ctx context.Context, n *graph.Node) (any, error) {
	secs, _ := n.Config["duration_seconds"].(float64)
	if secs == 0 {
		if i, ok := n.Config["duration_seconds"].(int); ok {
			secs = float64(i)
		}
	}
	d := time.Duration(secs * float64(time.Second))

	// A true suspension point: the goroutine yields instead of spinning,
	// and cancellation interrupts the wait.
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"waited_seconds": secs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// storeResult stores an invocation result under the caller-named variable
// (config "output_variable") and always under the type-derived default.
func storeResult(st *executionState, n *graph.Node, v any) {
	st.setVar(string(n.Type)+"_result", v)
	if name := cfgString(n, "output_variable"); name != "" {
		st.setVar(name, v)
	}
}

func cfgString(n *graph.Node, key string) string {
	s, _ := n.Config[key].(string)
	return s
}

func toInt(v any) (int, bool) {
	switch i := v.(type) {
	case int:
		return i, true
	case int64:
		return int(i), true
	case float64:
		return int(i), true
	}
	return 0, false
}
