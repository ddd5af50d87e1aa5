package failure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/ports"
	"go.uber.org/zap"
)

// Strategy is the failure-handling approach for a node.
type Strategy string

const (
	StrategyRetry  Strategy = "retry"
	StrategySkip   Strategy = "skip"
	StrategyAbort  Strategy = "abort"
	StrategyReplan Strategy = "replan"
)

// ExecutionSnapshot is the subset of a WorkflowState the REPLAN strategy
// hands to WorkflowAdjustmentRequested as execution_context.
type ExecutionSnapshot struct {
	ExecutedNodes []string
	NodeOutputs   map[string]any
	FailedNodes   []string
}

// WorkflowStateAccessor is the narrow boundary the orchestrator mutates.
// internal/coordinator's WorkflowState satisfies it; the orchestrator
// never owns WorkflowState entries itself, per the Coordinator's exclusive
// ownership of workflow state.
type WorkflowStateAccessor interface {
	MarkExecuted(nodeID string, output map[string]any)
	MarkFailed(nodeID string)
	MarkSkipped(nodeID string)
	ClearFailed(nodeID string)
	Snapshot() ExecutionSnapshot
}

// Result is handle_node_failure's return shape.
type Result struct {
	Success      bool
	Skipped      bool
	Aborted      bool
	ErrorMessage string
	RetryCount   int
}

// Orchestrator routes node failures to a per-node (or default) Strategy and
// applies that strategy's behavior, publishing NodeFailureHandled on every
// outcome.
type Orchestrator struct {
	mu            sync.Mutex
	overrides     map[string]Strategy
	defaultStrat  Strategy
	retryPolicy   RetryPolicy
	workflowAgent ports.WorkflowAgentPort
	bus           *events.Bus
	logger        *zap.Logger
	sleep         func(time.Duration)
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithDefaultStrategy overrides the fallback strategy (default RETRY).
func WithDefaultStrategy(s Strategy) Option {
	return func(o *Orchestrator) { o.defaultStrat = s }
}

// WithNodeStrategy registers a per-node strategy override.
func WithNodeStrategy(nodeID string, s Strategy) Option {
	return func(o *Orchestrator) { o.overrides[nodeID] = s }
}

// WithRetryPolicy overrides the default retry/backoff policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retryPolicy = p }
}

// WithLogger injects a zap logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// withSleep is test-only: swaps the real time.Sleep for an instant no-op so
// retry-loop tests don't pay wall-clock backoff delays.
func withSleep(f func(time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = f }
}

// New builds an Orchestrator. workflowAgent is required for the RETRY
// strategy; bus is required to publish NodeFailureHandled and the
// ABORT/REPLAN follow-on events.
func New(workflowAgent ports.WorkflowAgentPort, bus *events.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		overrides:     make(map[string]Strategy),
		defaultStrat:  StrategyRetry,
		retryPolicy:   DefaultRetryPolicy(),
		workflowAgent: workflowAgent,
		bus:           bus,
		logger:        zap.NewNop(),
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) strategyFor(nodeID string) Strategy {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.overrides[nodeID]; ok {
		return s
	}
	return o.defaultStrat
}

func (o *Orchestrator) currentRetryPolicy() RetryPolicy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retryPolicy
}

// RetryPolicy returns the orchestrator's current retry/backoff policy, for
// status surfaces and tests to observe a hot-reload's effect.
func (o *Orchestrator) RetryPolicy() RetryPolicy {
	return o.currentRetryPolicy()
}

// SetRetryPolicy replaces the retry/backoff policy, for a caller
// hot-reloading configuration (e.g. ConfigManager's
// failure_orchestrator.yaml change handler) without restarting the
// process. In-flight retry loops finish under the policy they started
// with; only subsequent calls observe the new policy.
func (o *Orchestrator) SetRetryPolicy(p RetryPolicy) {
	o.mu.Lock()
	o.retryPolicy = p
	o.mu.Unlock()
}

// HandleNodeFailure dispatches to the node's configured strategy and
// publishes NodeFailureHandled with the outcome before returning.
func (o *Orchestrator) HandleNodeFailure(ctx context.Context, workflowID, nodeID string, errorCode ErrorCode, errorMessage string, state WorkflowStateAccessor) Result {
	strategy := o.strategyFor(nodeID)

	var result Result
	switch strategy {
	case StrategyRetry:
		result = o.handleRetry(ctx, workflowID, nodeID, errorCode, errorMessage, state)
	case StrategySkip:
		result = o.handleSkip(nodeID, state)
	case StrategyAbort:
		result = o.handleAbort(workflowID, nodeID, errorMessage, state)
	case StrategyReplan:
		result = o.handleReplan(workflowID, nodeID, errorMessage, state)
	default:
		result = Result{Success: false, ErrorMessage: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	recordOutcome(strategy, result.Success)
	if strategy == StrategyRetry {
		retryAttempts.Observe(float64(result.RetryCount))
	}

	o.bus.Publish(events.NodeFailureHandled{
		Envelope:   events.NewEnvelope("failure"),
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Strategy:   string(strategy),
		Success:    result.Success,
		RetryCount: result.RetryCount,
	})
	return result
}

func (o *Orchestrator) handleRetry(ctx context.Context, workflowID, nodeID string, errorCode ErrorCode, errorMessage string, state WorkflowStateAccessor) Result {
	if !errorCode.IsRetryable() || o.workflowAgent == nil {
		return Result{Success: false, ErrorMessage: errorMessage}
	}

	policy := o.currentRetryPolicy()
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		o.sleep(policy.GetDelay(attempt))

		res, err := o.workflowAgent.ExecuteNodeWithResult(ctx, nodeID)
		if err != nil || !res.Success {
			o.logger.Debug("retry attempt failed",
				zap.String("workflow_id", workflowID),
				zap.String("node_id", nodeID),
				zap.Int("attempt", attempt))
			continue
		}

		state.ClearFailed(nodeID)
		state.MarkExecuted(nodeID, res.Output)
		return Result{Success: true, RetryCount: attempt + 1}
	}

	return Result{Success: false, ErrorMessage: errorMessage, RetryCount: policy.MaxRetries}
}

func (o *Orchestrator) handleSkip(nodeID string, state WorkflowStateAccessor) Result {
	state.MarkSkipped(nodeID)
	return Result{Success: true, Skipped: true}
}

func (o *Orchestrator) handleAbort(workflowID, nodeID, errorMessage string, state WorkflowStateAccessor) Result {
	state.MarkFailed(nodeID)
	o.bus.Publish(events.WorkflowAborted{
		Envelope:   events.NewEnvelope("failure"),
		WorkflowID: workflowID,
		Reason:     errorMessage,
	})
	return Result{Success: false, Aborted: true, ErrorMessage: errorMessage}
}

func (o *Orchestrator) handleReplan(workflowID, nodeID, errorMessage string, state WorkflowStateAccessor) Result {
	state.MarkFailed(nodeID)
	snap := state.Snapshot()

	executionContext := map[string]any{
		"executed_nodes": snap.ExecutedNodes,
		"node_outputs":   snap.NodeOutputs,
		"failed_nodes":   snap.FailedNodes,
	}

	o.bus.Publish(events.WorkflowAdjustmentRequested{
		Envelope:         events.NewEnvelope("failure"),
		WorkflowID:       workflowID,
		FailedNodeID:     nodeID,
		FailureReason:    errorMessage,
		SuggestedAction:  events.ActionReplan,
		ExecutionContext: executionContext,
	})

	return Result{Success: false, ErrorMessage: fmt.Sprintf("Replan requested: %s", errorMessage)}
}
