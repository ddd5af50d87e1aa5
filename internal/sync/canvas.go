package sync

import (
	"sync"

	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/ports"
	"go.uber.org/zap"
)

// CanvasState is the per-workflow node/edge map with a monotonic version,
// incremented on every structural mutation.
type CanvasState struct {
	WorkflowID string
	Nodes      map[string]map[string]any
	Edges      map[string]map[string]any
	Version    int64
}

func newCanvasState(workflowID string) *CanvasState {
	return &CanvasState{
		WorkflowID: workflowID,
		Nodes:      make(map[string]map[string]any),
		Edges:      make(map[string]map[string]any),
	}
}

// ApplyResult is the structured outcome of applying a CanvasChange —
// version conflicts are reported here, never raised as errors.
type ApplyResult struct {
	Success        bool
	Conflict       bool
	CurrentVersion int64
}

// CanvasSync subscribes to CanvasChange, applies each one against a
// per-workflow CanvasState with additive/non-additive version-conflict
// detection, and writes the canvas dict back to the registered
// Conversation agent's session context on every successful apply.
type CanvasSync struct {
	conversation ports.ConversationAgentPort
	logger       *zap.Logger

	mu     sync.Mutex
	states map[string]*CanvasState
}

// NewCanvasSync subscribes a CanvasSync on bus.
func NewCanvasSync(bus *events.Bus, conversation ports.ConversationAgentPort, logger *zap.Logger) *CanvasSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CanvasSync{
		conversation: conversation,
		logger:       logger,
		states:       make(map[string]*CanvasState),
	}
	events.Subscribe(bus, c.onCanvasChange)
	return c
}

func (c *CanvasSync) stateFor(workflowID string) *CanvasState {
	state, ok := c.states[workflowID]
	if !ok {
		state = newCanvasState(workflowID)
		c.states[workflowID] = state
	}
	return state
}

func isAdditive(t events.CanvasChangeType) bool {
	return t == events.ChangeNodeAdded || t == events.ChangeEdgeAdded
}

// Apply applies a single canvas change and returns the structured result.
// It is also what onCanvasChange calls for every published CanvasChange.
func (c *CanvasSync) Apply(change events.CanvasChange) ApplyResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.stateFor(change.WorkflowID)

	if !isAdditive(change.ChangeType) && change.Version < state.Version {
		canvasConflicts.WithLabelValues(change.WorkflowID).Inc()
		return ApplyResult{Success: false, Conflict: true, CurrentVersion: state.Version}
	}

	applyMutation(state, change)
	state.Version++
	canvasApplied.WithLabelValues(string(change.ChangeType)).Inc()

	if c.conversation != nil {
		c.conversation.SetCanvasState(toDict(state))
	}

	return ApplyResult{Success: true, CurrentVersion: state.Version}
}

func (c *CanvasSync) onCanvasChange(e events.CanvasChange) {
	c.Apply(e)
}

func applyMutation(state *CanvasState, change events.CanvasChange) {
	nodeID, _ := change.ChangeData["node_id"].(string)
	edgeID, _ := change.ChangeData["edge_id"].(string)

	switch change.ChangeType {
	case events.ChangeNodeAdded, events.ChangeNodeUpdated, events.ChangeNodeMoved:
		if nodeID != "" {
			state.Nodes[nodeID] = change.ChangeData
		}
	case events.ChangeNodeDeleted:
		if nodeID != "" {
			delete(state.Nodes, nodeID)
		}
	case events.ChangeEdgeAdded:
		if edgeID != "" {
			state.Edges[edgeID] = change.ChangeData
		}
	case events.ChangeEdgeDeleted:
		if edgeID != "" {
			delete(state.Edges, edgeID)
		}
	}
}

func toDict(state *CanvasState) map[string]any {
	return map[string]any{
		"workflow_id": state.WorkflowID,
		"nodes":       state.Nodes,
		"edges":       state.Edges,
		"version":     state.Version,
	}
}

// GetCanvasState returns a snapshot of the current canvas state for a
// workflow, or false if none has been observed yet.
func (c *CanvasSync) GetCanvasState(workflowID string) (CanvasState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[workflowID]
	if !ok {
		return CanvasState{}, false
	}
	return *state, true
}
