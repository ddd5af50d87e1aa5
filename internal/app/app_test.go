package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/canvasflow/agentcore/internal/circuitbreaker"
	"github.com/canvasflow/agentcore/internal/config"
	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/ports"
	"github.com/canvasflow/agentcore/internal/rules"
)

type stubWorkflowAgent struct {
	err error
}

func (s *stubWorkflowAgent) HandleDecision(ctx context.Context, decisionType string, payload map[string]any) (map[string]any, error) {
	return map[string]any{"ack": decisionType}, s.err
}

func (s *stubWorkflowAgent) ExecuteNodeWithResult(ctx context.Context, nodeID string) (ports.ExecutionResult, error) {
	if s.err != nil {
		return ports.ExecutionResult{}, s.err
	}
	return ports.ExecutionResult{Success: true}, nil
}

type stubKnowledgeRetriever struct{}

func (stubKnowledgeRetriever) RetrieveByQuery(ctx context.Context, query, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	return []ports.KnowledgeResult{{SourceID: "doc1", Title: "t", ContentPreview: "c"}}, nil
}

func (stubKnowledgeRetriever) RetrieveByError(ctx context.Context, errorType, errorMessage string, topK int) ([]ports.KnowledgeResult, error) {
	return []ports.KnowledgeResult{{SourceID: "doc-err"}}, nil
}

func (stubKnowledgeRetriever) RetrieveByGoal(ctx context.Context, goalText, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	return nil, nil
}

type stubToolRepo struct{ tools []ports.Tool }

func (s stubToolRepo) FindAll() ([]ports.Tool, error)            { return s.tools, nil }
func (s stubToolRepo) FindPublished() ([]ports.Tool, error)      { return s.tools, nil }
func (s stubToolRepo) FindByTags([]string) ([]ports.Tool, error) { return s.tools, nil }

// correlatedEnvelope returns a fresh test envelope carrying correlationID.
// CorrelationID is an Envelope field, so a DecisionMade literal sets it
// through its Envelope.
func correlatedEnvelope(correlationID string) events.Envelope {
	env := events.NewEnvelope("test")
	env.CorrelationID = correlationID
	return env
}

func TestNewWiresEndToEndDecisionFlow(t *testing.T) {
	workflow := &stubWorkflowAgent{}
	a := New(nil, "session-1", Ports{Workflow: workflow}, nil)

	a.Bus.Publish(events.DecisionMade{
		Envelope: correlatedEnvelope("c1"), DecisionID: "d1", DecisionType: "tool_call",
		Payload: map[string]any{"tool": "search"},
	})

	if got := a.Forward.DecisionsForwarded(); got != 1 {
		t.Fatalf("expected 1 decision forwarded, got %d", got)
	}
	stats := a.Statistics()
	if stats.PolicyChain.Total != 1 || stats.PolicyChain.Passed != 1 {
		t.Fatalf("expected policy chain to record one passed decision, got %+v", stats.PolicyChain)
	}
}

func TestNewValidatesSupervisedDecisionWithoutAWorkflowPort(t *testing.T) {
	a := New(nil, "session-1", Ports{}, nil)

	a.Bus.Publish(events.DecisionMade{
		Envelope: correlatedEnvelope("c1"), DecisionID: "d1", DecisionType: "tool_call",
		Payload: map[string]any{},
	})

	// The Coordinator and event bus are always wired by New, so the chain
	// never falls back to its fail-closed path here; an unconfigured
	// Workflow port only means ForwardSync has nothing to call once the
	// decision is validated.
	stats := a.Statistics()
	if stats.PolicyChain.Passed != 1 || stats.PolicyChain.Rejected != 0 {
		t.Fatalf("expected the decision to validate against the empty rule engine, got %+v", stats.PolicyChain)
	}
	if stats.DecisionsForwarded != 1 {
		t.Fatalf("expected ForwardSync to count the decision even with no Workflow port, got %d", stats.DecisionsForwarded)
	}
}

func TestCircuitBreakerTripsAfterRepeatedWorkflowFailures(t *testing.T) {
	cfg := config.Defaults()
	cfg.WorkflowAgentBreaker.FailureThreshold = 2
	cfg.WorkflowAgentBreaker.MaxRequests = 1

	workflow := &stubWorkflowAgent{err: errors.New("down")}
	a := New(&cfg, "session-1", Ports{Workflow: workflow}, nil)

	for _, id := range []string{"decision-1", "decision-2"} {
		a.Bus.Publish(events.DecisionMade{
			Envelope: correlatedEnvelope(id), DecisionID: id, DecisionType: "tool_call",
			Payload: map[string]any{},
		})
	}

	if got := a.Statistics().CircuitBreakers.WorkflowAgent; got != circuitbreaker.StateOpen {
		t.Fatalf("expected the workflow agent breaker to trip open, got %s", got)
	}
}

func TestKnowledgeAutoTriggerInjectsOnNodeFailure(t *testing.T) {
	a := New(nil, "session-1", Ports{KnowledgeRetriever: stubKnowledgeRetriever{}}, nil)

	a.Bus.Publish(events.WorkflowExecutionStarted{Envelope: events.NewEnvelope("test"), WorkflowID: "w1", NodeCount: 1})
	a.Bus.Publish(events.NodeExecutionEvent{
		Envelope: events.NewEnvelope("test"), WorkflowID: "w1", NodeID: "n1",
		Status: events.NodeFailed, Error: "boom",
	})

	ctx, ok := a.Coordinator.GetCompressedContext("w1")
	if !ok || len(ctx.KnowledgeReferences) == 0 {
		t.Fatalf("expected knowledge auto-trigger to merge references into the folded context, got %+v ok=%v", ctx, ok)
	}
}

func TestRegoSeededRuleRejectsDisallowedDecisionType(t *testing.T) {
	module := `
package agentcore.app_test

default allow = false

allow {
	input.type == "tool_call"
}
`
	rule, err := rules.RegoRule(context.Background(), "rego_allow", 1, module, "agentcore.app_test.allow")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	a := New(nil, "session-1", Ports{Rules: []rules.Rule{rule}}, nil)

	a.Bus.Publish(events.DecisionMade{
		Envelope: correlatedEnvelope("c1"), DecisionID: "d1", DecisionType: "file_operation",
		Payload: map[string]any{},
	})

	stats := a.Statistics()
	if stats.PolicyChain.Rejected != 1 {
		t.Fatalf("expected the rego rule to reject file_operation, got %+v", stats.PolicyChain)
	}
}

func TestConfigDirHotReloadsSupervisedTypesAndRetryPolicy(t *testing.T) {
	dir := t.TempDir()
	a := New(nil, "session-1", Ports{ConfigDir: dir}, nil)
	defer a.Close()

	publish := func(corrID string) {
		a.Bus.Publish(events.DecisionMade{
			Envelope: correlatedEnvelope(corrID), DecisionID: corrID, DecisionType: "custom_decision",
			Payload: map[string]any{},
		})
	}

	publish("before")
	if stats := a.Statistics(); stats.PolicyChain.Total != 0 {
		t.Fatalf("expected custom_decision unsupervised before reload, got %+v", stats.PolicyChain)
	}

	policyPath := filepath.Join(dir, "policy_chain.yaml")
	if err := os.WriteFile(policyPath, []byte("supervised_types:\n  - custom_decision\n"), 0o644); err != nil {
		t.Fatalf("write policy_chain.yaml: %v", err)
	}
	if err := a.configManager.ReloadConfig("policy_chain.yaml"); err != nil {
		t.Fatalf("reload policy_chain.yaml: %v", err)
	}

	// ConfigManager runs change handlers in their own goroutines, so keep
	// publishing until the reload lands; while custom_decision is still
	// unsupervised, a publish leaves the chain's counters untouched.
	deadline := time.Now().Add(2 * time.Second)
	for i := 0; a.Statistics().PolicyChain.Total == 0 && time.Now().Before(deadline); i++ {
		publish(fmt.Sprintf("after-%d", i))
		time.Sleep(5 * time.Millisecond)
	}
	if stats := a.Statistics(); stats.PolicyChain.Total != 1 || stats.PolicyChain.Passed != 1 {
		t.Fatalf("expected custom_decision supervised after hot-reload, got %+v", stats.PolicyChain)
	}

	failurePath := filepath.Join(dir, "failure_orchestrator.yaml")
	if err := os.WriteFile(failurePath, []byte("max_retries: 7\nfactor: 3.0\n"), 0o644); err != nil {
		t.Fatalf("write failure_orchestrator.yaml: %v", err)
	}
	if err := a.configManager.ReloadConfig("failure_orchestrator.yaml"); err != nil {
		t.Fatalf("reload failure_orchestrator.yaml: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for a.Failure.RetryPolicy().MaxRetries != 7 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := a.Failure.RetryPolicy(); got.MaxRetries != 7 || got.Factor != 3.0 {
		t.Fatalf("expected retry policy to hot-reload to max_retries=7 factor=3.0, got %+v", got)
	}
}

func TestQueryContextDelegatesToCoordinator(t *testing.T) {
	repo := stubToolRepo{tools: []ports.Tool{{ID: "t1", Name: "Retry Helper", Description: "retries nodes", Published: true}}}
	a := New(nil, "session-1", Ports{ToolRepository: repo}, nil)

	resp := a.QueryContext("retry", "")
	if len(resp.Tools) != 1 || resp.Tools[0].ID != "t1" {
		t.Fatalf("expected matching tool, got %+v", resp.Tools)
	}
}
