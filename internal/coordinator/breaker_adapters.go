package coordinator

import (
	"context"

	"github.com/canvasflow/agentcore/internal/circuitbreaker"
	"github.com/canvasflow/agentcore/internal/ports"
	"go.uber.org/zap"
)

// BreakerWorkflowAgent wraps a ports.WorkflowAgentPort so every call is
// routed through a circuitbreaker.CircuitBreaker: a flapping workflow
// agent trips the breaker instead of letting the Failure Orchestrator burn
// through its retry budget against a collaborator that's already down.
type BreakerWorkflowAgent struct {
	inner   ports.WorkflowAgentPort
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerWorkflowAgent builds a BreakerWorkflowAgent. A nil logger
// defaults to a no-op logger inside the underlying breaker.
func NewBreakerWorkflowAgent(inner ports.WorkflowAgentPort, cfg circuitbreaker.Config, logger *zap.Logger) *BreakerWorkflowAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerWorkflowAgent{
		inner:   inner,
		breaker: circuitbreaker.NewCircuitBreaker("workflow_agent", cfg, logger),
	}
}

func (b *BreakerWorkflowAgent) HandleDecision(ctx context.Context, decisionType string, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	err := b.breaker.Execute(ctx, func() error {
		var innerErr error
		out, innerErr = b.inner.HandleDecision(ctx, decisionType, payload)
		return innerErr
	})
	return out, err
}

func (b *BreakerWorkflowAgent) ExecuteNodeWithResult(ctx context.Context, nodeID string) (ports.ExecutionResult, error) {
	var out ports.ExecutionResult
	err := b.breaker.Execute(ctx, func() error {
		var innerErr error
		out, innerErr = b.inner.ExecuteNodeWithResult(ctx, nodeID)
		return innerErr
	})
	return out, err
}

// State exposes the underlying breaker's state, for status surfaces.
func (b *BreakerWorkflowAgent) State() circuitbreaker.State { return b.breaker.State() }

// BreakerKnowledgeRetriever wraps a ports.KnowledgeRetrieverPort the same
// way, isolating the Knowledge Orchestrator's three query shapes from a
// degraded retriever.
type BreakerKnowledgeRetriever struct {
	inner   ports.KnowledgeRetrieverPort
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerKnowledgeRetriever builds a BreakerKnowledgeRetriever.
func NewBreakerKnowledgeRetriever(inner ports.KnowledgeRetrieverPort, cfg circuitbreaker.Config, logger *zap.Logger) *BreakerKnowledgeRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerKnowledgeRetriever{
		inner:   inner,
		breaker: circuitbreaker.NewCircuitBreaker("knowledge_retriever", cfg, logger),
	}
}

func (b *BreakerKnowledgeRetriever) RetrieveByQuery(ctx context.Context, query, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	var out []ports.KnowledgeResult
	err := b.breaker.Execute(ctx, func() error {
		var innerErr error
		out, innerErr = b.inner.RetrieveByQuery(ctx, query, workflowID, topK)
		return innerErr
	})
	return out, err
}

func (b *BreakerKnowledgeRetriever) RetrieveByError(ctx context.Context, errorType, errorMessage string, topK int) ([]ports.KnowledgeResult, error) {
	var out []ports.KnowledgeResult
	err := b.breaker.Execute(ctx, func() error {
		var innerErr error
		out, innerErr = b.inner.RetrieveByError(ctx, errorType, errorMessage, topK)
		return innerErr
	})
	return out, err
}

func (b *BreakerKnowledgeRetriever) RetrieveByGoal(ctx context.Context, goalText, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	var out []ports.KnowledgeResult
	err := b.breaker.Execute(ctx, func() error {
		var innerErr error
		out, innerErr = b.inner.RetrieveByGoal(ctx, goalText, workflowID, topK)
		return innerErr
	})
	return out, err
}

// State exposes the underlying breaker's state, for status surfaces.
func (b *BreakerKnowledgeRetriever) State() circuitbreaker.State { return b.breaker.State() }

var (
	_ ports.WorkflowAgentPort      = (*BreakerWorkflowAgent)(nil)
	_ ports.KnowledgeRetrieverPort = (*BreakerKnowledgeRetriever)(nil)
)
