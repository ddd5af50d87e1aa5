package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/canvasflow/agentcore/internal/circuitbreaker"
	"github.com/canvasflow/agentcore/internal/ports"
	"go.uber.org/zap/zaptest"
)

type stubWorkflowAgent struct {
	err error
}

func (s stubWorkflowAgent) HandleDecision(ctx context.Context, decisionType string, payload map[string]any) (map[string]any, error) {
	return nil, s.err
}

func (s stubWorkflowAgent) ExecuteNodeWithResult(ctx context.Context, nodeID string) (ports.ExecutionResult, error) {
	if s.err != nil {
		return ports.ExecutionResult{}, s.err
	}
	return ports.ExecutionResult{Success: true}, nil
}

func TestBreakerWorkflowAgentTripsOnRepeatedFailure(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.MaxRequests = 1

	agent := NewBreakerWorkflowAgent(stubWorkflowAgent{err: errors.New("down")}, cfg, logger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := agent.ExecuteNodeWithResult(ctx, "n1"); err == nil {
			t.Fatal("expected underlying error to propagate")
		}
	}
	if agent.State() != circuitbreaker.StateOpen {
		t.Fatalf("expected breaker to trip open, got %s", agent.State())
	}

	if _, err := agent.ExecuteNodeWithResult(ctx, "n1"); !errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		t.Fatalf("expected ErrCircuitBreakerOpen once tripped, got %v", err)
	}
}

type stubKnowledgeRetriever struct{}

func (stubKnowledgeRetriever) RetrieveByQuery(ctx context.Context, query, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	return []ports.KnowledgeResult{{SourceID: "doc1"}}, nil
}

func (stubKnowledgeRetriever) RetrieveByError(ctx context.Context, errorType, errorMessage string, topK int) ([]ports.KnowledgeResult, error) {
	return nil, nil
}

func (stubKnowledgeRetriever) RetrieveByGoal(ctx context.Context, goalText, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	return nil, nil
}

func TestBreakerKnowledgeRetrieverPassesThroughWhenClosed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := circuitbreaker.DefaultConfig()

	retriever := NewBreakerKnowledgeRetriever(stubKnowledgeRetriever{}, cfg, logger)
	results, err := retriever.RetrieveByQuery(context.Background(), "q", "w1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].SourceID != "doc1" {
		t.Fatalf("expected pass-through result, got %+v", results)
	}
	if retriever.State() != circuitbreaker.StateClosed {
		t.Fatalf("expected breaker to remain closed, got %s", retriever.State())
	}
}
