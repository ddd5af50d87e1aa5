package coordinator

import (
	"sync"
	"time"

	"github.com/canvasflow/agentcore/internal/failure"
)

// WorkflowStatus is the lifecycle status a WorkflowState moves through.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowState is the mutable per-workflow record the Coordinator
// exclusively owns: node sets and maps are mutated only from event-handler
// bodies, which the bus's synchronous dispatch contract serializes per
// publish chain, so WorkflowState's own lock exists for query-side readers
// racing the next event, not for handler-vs-handler contention.
type WorkflowState struct {
	mu sync.Mutex

	WorkflowID    string
	Status        WorkflowStatus
	NodeCount     int
	StartedAt     time.Time
	CompletedAt   time.Time
	ExecutedNodes []string
	RunningNodes  map[string]struct{}
	FailedNodes   map[string]struct{}
	SkippedNodes  map[string]struct{}
	NodeInputs    map[string]map[string]any
	NodeOutputs   map[string]map[string]any
	NodeErrors    map[string]string
	Result        map[string]any
}

// newWorkflowState builds a fresh record for workflowID, as created on
// WorkflowExecutionStarted.
func newWorkflowState(workflowID string, nodeCount int) *WorkflowState {
	return &WorkflowState{
		WorkflowID:   workflowID,
		Status:       WorkflowRunning,
		NodeCount:    nodeCount,
		StartedAt:    time.Now().UTC(),
		RunningNodes: make(map[string]struct{}),
		FailedNodes:  make(map[string]struct{}),
		SkippedNodes: make(map[string]struct{}),
		NodeInputs:   make(map[string]map[string]any),
		NodeOutputs:  make(map[string]map[string]any),
		NodeErrors:   make(map[string]string),
	}
}

func (s *WorkflowState) markRunning(nodeID string, inputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunningNodes[nodeID] = struct{}{}
	if inputs != nil {
		s.NodeInputs[nodeID] = inputs
	}
}

// MarkExecuted satisfies failure.WorkflowStateAccessor and is also called
// directly on NodeExecutionEvent(completed).
func (s *WorkflowState) MarkExecuted(nodeID string, output map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.RunningNodes, nodeID)
	delete(s.FailedNodes, nodeID)
	s.ExecutedNodes = append(s.ExecutedNodes, nodeID)
	s.NodeOutputs[nodeID] = output
}

// MarkFailed satisfies failure.WorkflowStateAccessor. NodeExecutionEvent
// (failed) goes through markFailedWithError instead, which also records
// the node's error message.
func (s *WorkflowState) MarkFailed(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.RunningNodes, nodeID)
	s.FailedNodes[nodeID] = struct{}{}
}

func (s *WorkflowState) markFailedWithError(nodeID, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.RunningNodes, nodeID)
	s.FailedNodes[nodeID] = struct{}{}
	s.NodeErrors[nodeID] = errMsg
}

// MarkSkipped satisfies failure.WorkflowStateAccessor.
func (s *WorkflowState) MarkSkipped(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SkippedNodes[nodeID] = struct{}{}
}

// ClearFailed satisfies failure.WorkflowStateAccessor.
func (s *WorkflowState) ClearFailed(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.FailedNodes, nodeID)
}

// Snapshot satisfies failure.WorkflowStateAccessor, handing the Failure
// Orchestrator's REPLAN strategy a point-in-time view of execution
// progress.
func (s *WorkflowState) Snapshot() failure.ExecutionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := failure.ExecutionSnapshot{
		ExecutedNodes: append([]string{}, s.ExecutedNodes...),
		NodeOutputs:   make(map[string]any, len(s.NodeOutputs)),
	}
	for k, v := range s.NodeOutputs {
		snap.NodeOutputs[k] = v
	}
	for nodeID := range s.FailedNodes {
		snap.FailedNodes = append(snap.FailedNodes, nodeID)
	}
	return snap
}

func (s *WorkflowState) complete(status WorkflowStatus, result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.CompletedAt = time.Now().UTC()
	s.Result = result
}

// View is a snapshot copy of WorkflowState safe to hand to callers outside
// the Coordinator without leaking a pointer into live state.
type View struct {
	WorkflowID    string
	Status        WorkflowStatus
	NodeCount     int
	StartedAt     time.Time
	CompletedAt   time.Time
	ExecutedNodes []string
	RunningNodes  []string
	FailedNodes   []string
	SkippedNodes  []string
	NodeOutputs   map[string]map[string]any
	NodeErrors    map[string]string
	Result        map[string]any
}

func (s *WorkflowState) view() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		WorkflowID:    s.WorkflowID,
		Status:        s.Status,
		NodeCount:     s.NodeCount,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		ExecutedNodes: append([]string{}, s.ExecutedNodes...),
		NodeOutputs:   make(map[string]map[string]any, len(s.NodeOutputs)),
		NodeErrors:    make(map[string]string, len(s.NodeErrors)),
		Result:        s.Result,
	}
	for nodeID := range s.RunningNodes {
		v.RunningNodes = append(v.RunningNodes, nodeID)
	}
	for nodeID := range s.FailedNodes {
		v.FailedNodes = append(v.FailedNodes, nodeID)
	}
	for nodeID := range s.SkippedNodes {
		v.SkippedNodes = append(v.SkippedNodes, nodeID)
	}
	for k, v2 := range s.NodeOutputs {
		v.NodeOutputs[k] = v2
	}
	for k, v2 := range s.NodeErrors {
		v.NodeErrors[k] = v2
	}
	return v
}
