package workflow

import (
	"context"
	"fmt"

	"flowcore/services/engine"
	"flowcore/services/graph"
	"flowcore/services/saga"
)

// rollbackCompensables undoes the tool invocations of a failed run that
// declared a compensation tool, in reverse execution order. Tool nodes
// opt in via config:
//
//	"compensation": {"tool": "cancel_appointment", "params": {...}}
//
// The compensation tool receives the declared params merged over the
// node's recorded output, so identifiers produced by the original call
// (booking ids and the like) are available to the undo.
func (s *Service) rollbackCompensables(ctx context.Context, g *graph.Graph, actorID string, report *engine.Report) *saga.Outcome {
	type step struct {
		node   *graph.Node
		result map[string]any
	}
	var steps []step
	for _, h := range report.ExecutionHistory {
		if h.Status != engine.NodeSuccess {
			continue
		}
		n := g.Nodes[h.NodeID]
		if n == nil || n.Type != graph.NodeTool {
			continue
		}
		if _, ok := n.Config["compensation"].(map[string]any); !ok {
			continue
		}
		result, _ := h.Output.(map[string]any)
		steps = append(steps, step{node: n, result: result})
	}
	if len(steps) == 0 {
		return nil
	}

	sg := s.sagas.CreateSaga(g.TenantID, actorID, g.Name+" rollback")
	if err := s.sagas.Begin(sg.ID); err != nil {
		s.logger.Error("Failed to start rollback saga", "workflow", g.ID, "error", err)
		return nil
	}
	for _, st := range steps {
		name := st.node.Name
		if name == "" {
			name = st.node.ID
		}
		input, _ := st.node.Config["params"].(map[string]any)
		if err := s.sagas.RecordExecuted(ctx, sg.ID, "tool", name, input, st.result, s.compensator(st.node)); err != nil {
			s.logger.Error("Failed to record compensable action", "workflow", g.ID, "node", st.node.ID, "error", err)
		}
	}
	if err := s.sagas.Fail(sg.ID); err != nil {
		s.logger.Error("Failed to mark rollback saga failed", "workflow", g.ID, "error", err)
		return nil
	}

	out, err := s.sagas.CompensateSaga(ctx, sg.ID, "workflow run "+report.RunID+" failed")
	if err != nil {
		s.logger.Error("Rollback compensation failed", "workflow", g.ID, "error", err)
		return nil
	}
	return out
}

// compensator builds the undo closure for a tool node's compensation
// config. Returns nil when the config names no tool.
func (s *Service) compensator(n *graph.Node) saga.CompensatorFunc {
	spec, _ := n.Config["compensation"].(map[string]any)
	toolRef, _ := spec["tool"].(string)
	declared, _ := spec["params"].(map[string]any)
	if toolRef == "" || s.tools == nil {
		return nil
	}
	return func(ctx context.Context, result map[string]any) error {
		params := map[string]any{}
		for k, v := range result {
			params[k] = v
		}
		for k, v := range declared {
			params[k] = v
		}
		res, err := s.tools.Invoke(ctx, toolRef, params)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("compensation tool %q failed: %s", toolRef, res.Error)
		}
		return nil
	}
}
