package sync

import (
	"context"

	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/ports"
	"go.uber.org/zap"
)

// ReverseSync subscribes to WorkflowExecutionCompleted and NodeExecutionEvent
// and drives them into the Conversation agent's receive_execution_result
// and receive_node_status ports.
type ReverseSync struct {
	conversation ports.ConversationAgentPort
	logger       *zap.Logger
}

// NewReverseSync subscribes a ReverseSync on bus. conversation may be nil,
// in which case events are observed but not delivered.
func NewReverseSync(bus *events.Bus, conversation ports.ConversationAgentPort, logger *zap.Logger) *ReverseSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ReverseSync{conversation: conversation, logger: logger}
	events.Subscribe(bus, r.onWorkflowExecutionCompleted)
	events.Subscribe(bus, r.onNodeExecutionEvent)
	return r
}

func (r *ReverseSync) onWorkflowExecutionCompleted(e events.WorkflowExecutionCompleted) {
	if r.conversation == nil {
		return
	}
	err := r.conversation.ReceiveExecutionResult(context.Background(), ports.ExecutionResultPayload{
		WorkflowID: e.WorkflowID,
		Status:     e.Status,
		Result:     e.Result,
	})
	if err != nil {
		r.logger.Sugar().Warnw("reverse sync failed to deliver execution result",
			"workflow_id", e.WorkflowID, "error", err)
	}
}

func (r *ReverseSync) onNodeExecutionEvent(e events.NodeExecutionEvent) {
	if r.conversation == nil {
		return
	}
	err := r.conversation.ReceiveNodeStatus(context.Background(), ports.NodeStatusPayload{
		NodeID:   e.NodeID,
		NodeType: e.NodeType,
		Status:   string(e.Status),
		Result:   e.Result,
	})
	if err != nil {
		r.logger.Sugar().Warnw("reverse sync failed to deliver node status",
			"workflow_id", e.WorkflowID, "node_id", e.NodeID, "error", err)
	}
}
