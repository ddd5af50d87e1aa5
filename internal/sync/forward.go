// Package sync implements the bidirectional wiring between the
// Conversation and Workflow sides: a forward channel that turns validated
// decisions into Workflow-agent calls, a reverse channel that turns
// execution results and node status back into Conversation-agent calls,
// and a canvas channel that applies GUI edits against a version-checked
// CanvasState.
package sync

import (
	"context"
	"sync"

	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/ports"
	"go.uber.org/zap"
)

// ForwardSync subscribes to DecisionValidated and forwards each one to the
// Workflow agent's HandleDecision, counting how many were forwarded.
type ForwardSync struct {
	workflow ports.WorkflowAgentPort
	logger   *zap.Logger

	mu        sync.Mutex
	forwarded int
}

// NewForwardSync subscribes a ForwardSync on bus. workflow may be nil, in
// which case forwarded decisions are counted but dropped (useful before
// the Workflow agent is wired up).
func NewForwardSync(bus *events.Bus, workflow ports.WorkflowAgentPort, logger *zap.Logger) *ForwardSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &ForwardSync{workflow: workflow, logger: logger}
	events.Subscribe(bus, f.onDecisionValidated)
	return f
}

func (f *ForwardSync) onDecisionValidated(e events.DecisionValidated) {
	f.mu.Lock()
	f.forwarded++
	f.mu.Unlock()

	if f.workflow == nil {
		return
	}

	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}

	if _, err := f.workflow.HandleDecision(context.Background(), e.DecisionType, payload); err != nil {
		f.logger.Sugar().Warnw("forward sync failed to hand off decision",
			"decision_type", e.DecisionType, "correlation_id", e.CorrelationID, "error", err)
	}
}

// DecisionsForwarded reports how many DecisionValidated events have been
// forwarded so far.
func (f *ForwardSync) DecisionsForwarded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forwarded
}
