package failure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/ports"
)

type fakeState struct {
	mu            sync.Mutex
	executed      []string
	failed        map[string]struct{}
	skipped       map[string]struct{}
	outputs       map[string]any
}

func newFakeState() *fakeState {
	return &fakeState{failed: map[string]struct{}{}, skipped: map[string]struct{}{}, outputs: map[string]any{}}
}

func (f *fakeState) MarkExecuted(nodeID string, output map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, nodeID)
	if f.outputs == nil {
		f.outputs = map[string]any{}
	}
	f.outputs[nodeID] = output
}

func (f *fakeState) MarkFailed(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[nodeID] = struct{}{}
}

func (f *fakeState) MarkSkipped(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped[nodeID] = struct{}{}
}

func (f *fakeState) ClearFailed(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failed, nodeID)
}

func (f *fakeState) Snapshot() ExecutionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	failed := make([]string, 0, len(f.failed))
	for n := range f.failed {
		failed = append(failed, n)
	}
	return ExecutionSnapshot{ExecutedNodes: append([]string{}, f.executed...), NodeOutputs: f.outputs, FailedNodes: failed}
}

type scriptedAgent struct {
	mu      sync.Mutex
	results []ports.ExecutionResult
	calls   int
}

func (a *scriptedAgent) HandleDecision(context.Context, string, map[string]any) (map[string]any, error) {
	return nil, nil
}

func (a *scriptedAgent) ExecuteNodeWithResult(ctx context.Context, nodeID string) (ports.ExecutionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.calls
	a.calls++
	if idx >= len(a.results) {
		return ports.ExecutionResult{Success: false}, nil
	}
	return a.results[idx], nil
}

func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	agent := &scriptedAgent{}
	bus := events.New()
	o := New(agent, bus, withSleep(func(time.Duration) {}))

	result := o.HandleNodeFailure(context.Background(), "w", "n", ErrorValidationFailed, "bad input", newFakeState())

	if result.Success {
		t.Fatal("expected immediate failure for non-retryable error")
	}
	if agent.calls != 0 {
		t.Fatalf("expected no execution attempts, got %d", agent.calls)
	}
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	agent := &scriptedAgent{results: []ports.ExecutionResult{
		{Success: false},
		{Success: false},
		{Success: true, Output: map[string]any{"ok": true}},
	}}
	bus := events.New()
	state := newFakeState()
	o := New(agent, bus, withSleep(func(time.Duration) {}))

	result := o.HandleNodeFailure(context.Background(), "w", "n", ErrorTimeout, "timeout", state)

	if !result.Success || result.RetryCount < 1 {
		t.Fatalf("expected eventual success, got %+v", result)
	}
	if len(state.executed) != 1 || state.executed[0] != "n" {
		t.Fatalf("expected node marked executed, got %v", state.executed)
	}
	if _, failed := state.failed["n"]; failed {
		t.Fatal("expected node cleared from failed set")
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	agent := &scriptedAgent{} // always fails (idx beyond len(results))
	bus := events.New()
	o := New(agent, bus, withSleep(func(time.Duration) {}))

	result := o.HandleNodeFailure(context.Background(), "w", "n", ErrorNetwork, "network down", newFakeState())

	if result.Success {
		t.Fatal("expected failure after exhausting retry budget")
	}
	if result.RetryCount != DefaultRetryPolicy().MaxRetries {
		t.Fatalf("expected retry count %d, got %d", DefaultRetryPolicy().MaxRetries, result.RetryCount)
	}
}

func TestSetRetryPolicyHotReload(t *testing.T) {
	agent := &scriptedAgent{} // always fails
	bus := events.New()
	o := New(agent, bus, withSleep(func(time.Duration) {}), WithRetryPolicy(RetryPolicy{MaxRetries: 1}))

	result := o.HandleNodeFailure(context.Background(), "w", "n", ErrorTimeout, "timeout", newFakeState())
	if result.RetryCount != 1 {
		t.Fatalf("expected retry count 1 before reload, got %d", result.RetryCount)
	}

	o.SetRetryPolicy(RetryPolicy{MaxRetries: 4})
	agent.mu.Lock()
	agent.calls = 0
	agent.mu.Unlock()

	result = o.HandleNodeFailure(context.Background(), "w", "n2", ErrorTimeout, "timeout", newFakeState())
	if result.RetryCount != 4 {
		t.Fatalf("expected retry count 4 after SetRetryPolicy, got %d", result.RetryCount)
	}
}

func TestSkipStrategy(t *testing.T) {
	bus := events.New()
	state := newFakeState()
	o := New(nil, bus, WithDefaultStrategy(StrategySkip))

	result := o.HandleNodeFailure(context.Background(), "w", "n", ErrorInternal, "oops", state)

	if !result.Success || !result.Skipped {
		t.Fatalf("expected skipped success, got %+v", result)
	}
	if _, ok := state.skipped["n"]; !ok {
		t.Fatal("expected node recorded as skipped")
	}
}

func TestAbortStrategyPublishesWorkflowAborted(t *testing.T) {
	bus := events.New()
	var aborted []events.WorkflowAborted
	events.Subscribe(bus, func(e events.WorkflowAborted) { aborted = append(aborted, e) })

	state := newFakeState()
	o := New(nil, bus, WithDefaultStrategy(StrategyAbort))

	result := o.HandleNodeFailure(context.Background(), "w", "n", ErrorInternal, "fatal", state)

	if result.Success || !result.Aborted {
		t.Fatalf("expected aborted failure, got %+v", result)
	}
	if len(aborted) != 1 || aborted[0].Reason != "fatal" {
		t.Fatalf("expected one WorkflowAborted with reason fatal, got %v", aborted)
	}
	if _, ok := state.failed["n"]; !ok {
		t.Fatal("expected node added to failed set")
	}
}

func TestReplanStrategyPublishesAdjustmentWithSnapshot(t *testing.T) {
	bus := events.New()
	var adjustments []events.WorkflowAdjustmentRequested
	events.Subscribe(bus, func(e events.WorkflowAdjustmentRequested) { adjustments = append(adjustments, e) })

	state := newFakeState()
	state.MarkExecuted("start", nil)
	state.MarkExecuted("prepare", map[string]any{"data": []int{10, 20, 30}})

	o := New(nil, bus, WithNodeStrategy("api", StrategyReplan))

	result := o.HandleNodeFailure(context.Background(), "w", "api", ErrorTimeout, "timeout", state)

	if result.Success {
		t.Fatal("expected replan to report failure")
	}
	if len(adjustments) != 1 {
		t.Fatalf("expected exactly one WorkflowAdjustmentRequested, got %d", len(adjustments))
	}
	adj := adjustments[0]
	if adj.SuggestedAction != events.ActionReplan || adj.FailedNodeID != "api" {
		t.Fatalf("unexpected adjustment shape: %+v", adj)
	}
	outputs, _ := adj.ExecutionContext["node_outputs"].(map[string]any)
	prepare, _ := outputs["prepare"].(map[string]any)
	data, _ := prepare["data"].([]int)
	if len(data) != 3 || data[0] != 10 {
		t.Fatalf("expected prepare output preserved in execution context, got %v", outputs)
	}
}

func TestNodeOverrideTakesPrecedenceOverDefault(t *testing.T) {
	bus := events.New()
	state := newFakeState()
	o := New(nil, bus, WithDefaultStrategy(StrategyAbort), WithNodeStrategy("n", StrategySkip))

	result := o.HandleNodeFailure(context.Background(), "w", "n", ErrorInternal, "oops", state)

	if !result.Skipped {
		t.Fatalf("expected node-level override to win, got %+v", result)
	}
}

func TestHandleNodeFailurePublishesNodeFailureHandled(t *testing.T) {
	bus := events.New()
	var handled []events.NodeFailureHandled
	events.Subscribe(bus, func(e events.NodeFailureHandled) { handled = append(handled, e) })

	o := New(nil, bus, WithDefaultStrategy(StrategySkip))
	o.HandleNodeFailure(context.Background(), "w", "n", ErrorInternal, "oops", newFakeState())

	if len(handled) != 1 || handled[0].Strategy != string(StrategySkip) {
		t.Fatalf("expected one NodeFailureHandled for skip strategy, got %v", handled)
	}
}
