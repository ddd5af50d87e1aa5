// Package events implements the in-process event bus that binds the
// Conversation, Coordinator, and Workflow agents together: typed
// publish/subscribe with an ordered middleware chain and an in-memory audit
// log, collapsed to a single process since no durable, cross-process event
// distribution is in scope here.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Envelope carries the fields every concrete event inherits. Concrete
// event types embed Envelope by value, giving each its own Go type for
// exhaustive switch-based dispatch instead of the source's dataclass
// inheritance.
type Envelope struct {
	ID            string
	Timestamp     time.Time
	Source        string
	CorrelationID string
}

// NewEnvelope stamps a fresh id and creation timestamp. CorrelationID is
// left empty; set it explicitly when an event is causally linked to a
// parent.
func NewEnvelope(source string) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// Self returns the envelope itself; embedding Envelope promotes this method
// onto every concrete event type, which is what satisfies Event below.
func (e Envelope) Self() Envelope { return e }

// Event is the interface every concrete event type satisfies by embedding
// Envelope (Self() is promoted automatically).
type Event interface {
	Self() Envelope
}

// --- Concrete events ---

// DecisionMade is the Conversation agent's output: a structured request to
// act on the workflow.
type DecisionMade struct {
	Envelope
	DecisionType  string
	Payload       map[string]any
	DecisionID    string
	SessionID     string
}

// DecisionValidated is published when a supervised decision passes the
// policy chain.
type DecisionValidated struct {
	Envelope
	OriginalDecisionID string
	DecisionType       string
	Payload            map[string]any
}

// DecisionRejected is published when a supervised decision fails the
// policy chain's validation. A fail-closed rejection publishes no event.
type DecisionRejected struct {
	Envelope
	OriginalDecisionID string
	DecisionType       string
	Reason             string
	Errors             []string
}

// WorkflowExecutionStarted marks the birth of a WorkflowState.
type WorkflowExecutionStarted struct {
	Envelope
	WorkflowID string
	NodeCount  int
}

// WorkflowExecutionCompleted terminates a WorkflowState.
type WorkflowExecutionCompleted struct {
	Envelope
	WorkflowID       string
	Status           string
	Result           map[string]any
	FinalResult      map[string]any
	ExecutionLog     []string
	ExecutionSummary map[string]any
	Error            string
}

// NodeStatus enumerates the statuses a node execution event can carry.
type NodeStatus string

const (
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeExecutionEvent reports a single node's lifecycle transition.
type NodeExecutionEvent struct {
	Envelope
	WorkflowID string
	NodeID     string
	NodeType   string
	Status     NodeStatus
	Inputs     map[string]any
	Result     map[string]any
	Error      string
	Reason     string
}

// WorkflowReflectionCompleted carries a reflection pass's verdict.
type WorkflowReflectionCompleted struct {
	Envelope
	WorkflowID      string
	Assessment      string
	Confidence      float64
	ShouldRetry     bool
	Recommendations []string
}

// StateChanged reports a Conversation-agent state transition.
type StateChanged struct {
	Envelope
	FromState string
	ToState   string
	SessionID string
}

// SpawnSubAgent requests a sub-agent be scheduled by the Coordinator.
type SpawnSubAgent struct {
	Envelope
	SubAgentType    string
	TaskPayload     map[string]any
	Priority        int
	SessionID       string
	ContextSnapshot map[string]any
}

// SubAgentCompleted reports the outcome of a previously spawned sub-agent.
type SubAgentCompleted struct {
	Envelope
	SubAgentID    string
	SubAgentType  string
	SessionID     string
	Success       bool
	Result        map[string]any
	Error         string
	ExecutionTime time.Duration
}

// SuggestedAction enumerates the failure-orchestrator strategies a
// WorkflowAdjustmentRequested may suggest.
type SuggestedAction string

const (
	ActionRetry  SuggestedAction = "retry"
	ActionSkip   SuggestedAction = "skip"
	ActionAbort  SuggestedAction = "abort"
	ActionReplan SuggestedAction = "replan"
)

// WorkflowAdjustmentRequested asks the Conversation agent to rebuild a plan.
type WorkflowAdjustmentRequested struct {
	Envelope
	WorkflowID       string
	FailedNodeID     string
	FailureReason    string
	SuggestedAction  SuggestedAction
	ExecutionContext map[string]any
}

// WorkflowAborted signals a workflow was terminated by the ABORT strategy.
type WorkflowAborted struct {
	Envelope
	WorkflowID string
	Reason     string
}

// NodeFailureHandled reports the Failure Orchestrator's decision for a
// single node failure, regardless of strategy.
type NodeFailureHandled struct {
	Envelope
	WorkflowID string
	NodeID     string
	Strategy   string
	Success    bool
	RetryCount int
}

// CanvasChangeType enumerates the canvas mutation kinds.
type CanvasChangeType string

const (
	ChangeNodeAdded   CanvasChangeType = "node_added"
	ChangeNodeUpdated CanvasChangeType = "node_updated"
	ChangeNodeDeleted CanvasChangeType = "node_deleted"
	ChangeNodeMoved   CanvasChangeType = "node_moved"
	ChangeEdgeAdded   CanvasChangeType = "edge_added"
	ChangeEdgeDeleted CanvasChangeType = "edge_deleted"
)

// CanvasChange is a single canvas mutation from the GUI.
type CanvasChange struct {
	Envelope
	WorkflowID string
	ChangeType CanvasChangeType
	ChangeData map[string]any
	ClientID   string
	Version    int64
}

// SimpleMessage is treated as opaque at the core boundary; payload fields
// vary across callers.
type SimpleMessage struct {
	Envelope
	Payload map[string]any
}
