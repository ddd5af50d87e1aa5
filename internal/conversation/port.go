package conversation

import (
	"context"

	"github.com/canvasflow/agentcore/internal/ports"
)

// Compile-time assertion that Agent satisfies the reverse-sync boundary.
var _ ports.ConversationAgentPort = (*Agent)(nil)

// ReceiveExecutionResult records a completed workflow's id, status and
// result into session context under "last_execution_result", replacing any
// earlier one, for the reasoning loop to pick up on its next turn. It does
// not touch the feedback inbox or publish anything, and it returns without
// waiting on reasoning.
func (a *Agent) ReceiveExecutionResult(ctx context.Context, payload ports.ExecutionResultPayload) error {
	a.sessionMu.Lock()
	a.sessionContext["last_execution_result"] = map[string]any{
		"workflow_id": payload.WorkflowID,
		"status":      payload.Status,
		"result":      payload.Result,
	}
	a.sessionMu.Unlock()
	return nil
}

// ReceiveNodeStatus records a single node's execution status into session
// context under its node id, so later reasoning (e.g. ReplanWorkflow) can
// inspect per-node history without a round trip to the workflow agent.
func (a *Agent) ReceiveNodeStatus(ctx context.Context, payload ports.NodeStatusPayload) error {
	a.sessionMu.Lock()
	statuses, _ := a.sessionContext["node_statuses"].(map[string]any)
	if statuses == nil {
		statuses = make(map[string]any)
	}
	statuses[payload.NodeID] = map[string]any{
		"node_type": payload.NodeType,
		"status":    payload.Status,
		"result":    payload.Result,
	}
	a.sessionContext["node_statuses"] = statuses
	a.sessionMu.Unlock()
	return nil
}

// ReplanWorkflow delegates to the injected LLMPort, handing it a
// deep-copied view of the current session context so the planner can't
// mutate state out from under a concurrent reasoning turn.
func (a *Agent) ReplanWorkflow(ctx context.Context, originalGoal, failedNodeID, failureReason string, executionContext map[string]any) (map[string]any, error) {
	a.sessionMu.Lock()
	snapshot := deepCopyContext(a.sessionContext)
	a.sessionMu.Unlock()

	merged := deepCopyContext(executionContext)
	if merged == nil {
		merged = make(map[string]any)
	}
	merged["session_context"] = snapshot

	return a.llm.ReplanWorkflow(ctx, originalGoal, failedNodeID, failureReason, merged)
}

// SetCanvasState writes the current canvas dict into session context under
// "canvas_state", per the canvas-sync write-back contract; it takes no
// lock ordering risk since it never touches stateLock or the bus.
func (a *Agent) SetCanvasState(canvas map[string]any) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	a.sessionContext["canvas_state"] = deepCopyContext(canvas)
}

// SessionContext returns a deep copy of the current session context, for
// query surfaces like the Coordinator's QueryContext façade.
func (a *Agent) SessionContext() map[string]any {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	return deepCopyContext(a.sessionContext)
}
