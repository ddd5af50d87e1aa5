// Package coordinator implements the Coordinator binding: the composition
// point that owns every WorkflowState, subscribes to
// workflow/node/reflection/sub-agent events, folds node events into
// compressed context, and exposes the Coordinator's synchronous query
// surface. It also implements the narrow validation and knowledge-merge
// boundaries internal/policychain and internal/knowledge depend on, so
// those packages stay decoupled from this one's full surface.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/canvasflow/agentcore/internal/contextcompress"
	"github.com/canvasflow/agentcore/internal/events"
	"github.com/canvasflow/agentcore/internal/policychain"
	"github.com/canvasflow/agentcore/internal/rules"
	"github.com/canvasflow/agentcore/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Compile-time assertions that Coordinator satisfies the boundaries its
// collaborator packages declare.
var (
	_ policychain.Coordinator = (*Coordinator)(nil)
)

// LogEntry is one line of GetMergedLogs' unified, timestamp-ordered output.
type LogEntry struct {
	Timestamp time.Time
	Source    string
	Message   string
}

// SystemStatus is GetSystemStatus's return shape: a point-in-time rollup
// across every workflow this Coordinator has observed.
type SystemStatus struct {
	TotalWorkflows     int
	RunningWorkflows   int
	CompletedWorkflows int
	FailedWorkflows    int
	TotalNodesExecuted int
	TotalNodesFailed   int
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithCompressionEnabled toggles whether node/reflection events fold into
// compressed context (default true).
func WithCompressionEnabled(enabled bool) Option {
	return func(c *Coordinator) { c.compressionEnabled = enabled }
}

// WithLogger injects a zap logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator owns every WorkflowState for the process's lifetime (no GC),
// validates decisions via a rules.Engine, folds execution/reflection
// events into per-workflow compressed context, and records sub-agent
// completions per session.
type Coordinator struct {
	mu     sync.Mutex
	states map[string]*WorkflowState

	engine *rules.Engine

	compressor         *contextcompress.Compressor
	snapshots          *contextcompress.SnapshotManager
	compressionEnabled bool
	contextsMu         sync.Mutex
	contexts           map[string]contextcompress.CompressedContext

	subagentMu      sync.Mutex
	subagentResults map[string][]SubAgentRecord

	logMu       sync.Mutex
	executionLog []LogEntry
	errorLog     []LogEntry
	subagentLog  []LogEntry

	bus    *events.Bus
	logger *zap.Logger
}

// SubAgentRecord is one entry recorded under subagent_results[session_id].
type SubAgentRecord struct {
	SubAgentID   string
	SubAgentType string
	Success      bool
	Result       map[string]any
	Error        string
	RecordedAt   time.Time
}

// New builds a Coordinator bound to bus and engine, and subscribes its
// full set of workflow/node/reflection/sub-agent/message handlers.
func New(bus *events.Bus, engine *rules.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		states:             make(map[string]*WorkflowState),
		engine:             engine,
		compressor:         contextcompress.New(),
		snapshots:          contextcompress.NewSnapshotManager(),
		compressionEnabled: true,
		contexts:           make(map[string]contextcompress.CompressedContext),
		subagentResults:    make(map[string][]SubAgentRecord),
		bus:                bus,
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subscribe()
	return c
}

func (c *Coordinator) subscribe() {
	events.Subscribe(c.bus, c.onWorkflowExecutionStarted)
	events.Subscribe(c.bus, c.onWorkflowExecutionCompleted)
	events.Subscribe(c.bus, c.onNodeExecutionEvent)
	events.Subscribe(c.bus, c.onWorkflowReflectionCompleted)
	events.Subscribe(c.bus, c.onSubAgentCompleted)
	events.Subscribe(c.bus, c.onSimpleMessage)
}

// ValidateDecision satisfies policychain.Coordinator: it runs decision
// through the rule engine this Coordinator was built with. This is the
// Policy Chain's validate-and-route boundary, so it carries its own
// (disabled-by-default) trace span alongside EventBus.Publish's.
func (c *Coordinator) ValidateDecision(d rules.Decision) rules.ValidationResult {
	_, span := tracing.StartSpan(context.Background(), "Coordinator.ValidateDecision")
	defer span.End()
	span.SetAttributes(attribute.String("decision_type", d.Type))

	result := c.engine.Validate(d)
	span.SetAttributes(attribute.Bool("is_valid", result.IsValid))
	return result
}

// MergeKnowledgeReferences satisfies knowledge.ContextGateway: it merges
// refs into workflowID's compressed context, creating an empty context
// first if none exists yet.
func (c *Coordinator) MergeKnowledgeReferences(workflowID string, refs []map[string]any) error {
	incoming := contextcompress.FromKnowledgeDictList(refs)

	c.contextsMu.Lock()
	defer c.contextsMu.Unlock()
	existing := c.contexts[workflowID]
	existing.WorkflowID = workflowID
	merged := existing
	merged.KnowledgeReferences = mergeKnowledgeReferences(existing.KnowledgeReferences, incoming)
	merged.Version = existing.Version + 1
	c.contexts[workflowID] = merged
	c.snapshots.Save(merged)
	recordSnapshotVersion(workflowID, merged.Version)
	recordKnowledgeMerge(len(incoming) > 0)
	return nil
}

func mergeKnowledgeReferences(existing, next []contextcompress.KnowledgeReference) []contextcompress.KnowledgeReference {
	byID := make(map[string]contextcompress.KnowledgeReference, len(existing)+len(next))
	var order []string
	add := func(ref contextcompress.KnowledgeReference) {
		if _, ok := byID[ref.SourceID]; !ok {
			order = append(order, ref.SourceID)
		}
		byID[ref.SourceID] = ref
	}
	for _, ref := range existing {
		add(ref)
	}
	for _, ref := range next {
		add(ref)
	}
	out := make([]contextcompress.KnowledgeReference, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func (c *Coordinator) onWorkflowExecutionStarted(e events.WorkflowExecutionStarted) {
	state := newWorkflowState(e.WorkflowID, e.NodeCount)

	c.mu.Lock()
	c.states[e.WorkflowID] = state
	c.mu.Unlock()
	workflowsActive.Inc()
}

func (c *Coordinator) onWorkflowExecutionCompleted(e events.WorkflowExecutionCompleted) {
	status := WorkflowCompleted
	if e.Status == "failed" || e.Error != "" {
		status = WorkflowFailed
	}

	c.mu.Lock()
	state, ok := c.states[e.WorkflowID]
	c.mu.Unlock()
	if !ok {
		return
	}
	result := e.Result
	if result == nil {
		result = e.FinalResult
	}
	state.complete(status, result)
	workflowsActive.Dec()
}

func (c *Coordinator) onNodeExecutionEvent(e events.NodeExecutionEvent) {
	c.mu.Lock()
	state, ok := c.states[e.WorkflowID]
	c.mu.Unlock()
	if !ok {
		return
	}

	switch e.Status {
	case events.NodeRunning:
		state.markRunning(e.NodeID, e.Inputs)
		c.appendExecutionLog(e.WorkflowID, "node "+e.NodeID+" running")
	case events.NodeCompleted:
		state.MarkExecuted(e.NodeID, e.Result)
		c.appendExecutionLog(e.WorkflowID, "node "+e.NodeID+" completed")
	case events.NodeFailed:
		state.markFailedWithError(e.NodeID, e.Error)
		c.appendErrorLog(e.WorkflowID, "node "+e.NodeID+" failed: "+e.Error)
	case events.NodeSkipped:
		state.MarkSkipped(e.NodeID)
		c.appendExecutionLog(e.WorkflowID, "node "+e.NodeID+" skipped: "+e.Reason)
	}

	if !c.compressionEnabled {
		return
	}
	c.foldContext(e.WorkflowID, contextcompress.Input{
		SourceType: contextcompress.SourceExecution,
		WorkflowID: e.WorkflowID,
		RawData:    nodeEventRawData(state),
	})
}

func nodeEventRawData(state *WorkflowState) map[string]any {
	v := state.view()
	var executedNodes []any
	for _, nodeID := range v.ExecutedNodes {
		executedNodes = append(executedNodes, map[string]any{
			"node_id": nodeID,
			"status":  "completed",
			"output_summary": summarizeOutput(v.NodeOutputs[nodeID]),
		})
	}
	var errs []any
	for nodeID, msg := range v.NodeErrors {
		errs = append(errs, map[string]any{"node_id": nodeID, "error": msg})
	}
	status := string(v.Status)
	progress := 0.0
	if v.NodeCount > 0 {
		progress = float64(len(v.ExecutedNodes)) / float64(v.NodeCount)
	}
	return map[string]any{
		"workflow_status": status,
		"executed_nodes":  executedNodes,
		"errors":          errs,
		"progress":        progress,
		"nodes_completed": len(v.ExecutedNodes),
	}
}

func summarizeOutput(output map[string]any) string {
	if output == nil {
		return ""
	}
	if s, ok := output["summary"].(string); ok {
		return s
	}
	return ""
}

func (c *Coordinator) onWorkflowReflectionCompleted(e events.WorkflowReflectionCompleted) {
	if !c.compressionEnabled {
		return
	}
	c.foldContext(e.WorkflowID, contextcompress.Input{
		SourceType: contextcompress.SourceReflection,
		WorkflowID: e.WorkflowID,
		RawData: map[string]any{
			"assessment":      e.Assessment,
			"confidence":      e.Confidence,
			"should_retry":    e.ShouldRetry,
			"recommendations": toAnySlice(e.Recommendations),
		},
	})
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func (c *Coordinator) foldContext(workflowID string, input contextcompress.Input) {
	next := c.compressor.Compress(input)

	c.contextsMu.Lock()
	defer c.contextsMu.Unlock()
	existing, ok := c.contexts[workflowID]
	merged := next
	if ok {
		merged = contextcompress.Merge(existing, next)
	}
	c.contexts[workflowID] = merged
	c.snapshots.Save(merged)
	recordSnapshotVersion(workflowID, merged.Version)
}

func (c *Coordinator) onSubAgentCompleted(e events.SubAgentCompleted) {
	record := SubAgentRecord{
		SubAgentID:   e.SubAgentID,
		SubAgentType: e.SubAgentType,
		Success:      e.Success,
		Result:       e.Result,
		Error:        e.Error,
		RecordedAt:   time.Now().UTC(),
	}

	c.subagentMu.Lock()
	c.subagentResults[e.SessionID] = append(c.subagentResults[e.SessionID], record)
	c.subagentMu.Unlock()

	c.logMu.Lock()
	c.subagentLog = append(c.subagentLog, LogEntry{
		Timestamp: record.RecordedAt,
		Source:    "subagent",
		Message:   "subagent " + e.SubAgentID + " completed (success=" + boolStr(e.Success) + ")",
	})
	c.logMu.Unlock()
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (c *Coordinator) onSimpleMessage(e events.SimpleMessage) {
	// Opaque at the core boundary; observed only so it participates in the
	// audit log via the bus. No state mutation.
}

func (c *Coordinator) appendExecutionLog(workflowID, message string) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.executionLog = append(c.executionLog, LogEntry{
		Timestamp: time.Now().UTC(),
		Source:    "execution:" + workflowID,
		Message:   message,
	})
}

func (c *Coordinator) appendErrorLog(workflowID, message string) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.errorLog = append(c.errorLog, LogEntry{
		Timestamp: time.Now().UTC(),
		Source:    "error:" + workflowID,
		Message:   message,
	})
}

// GetWorkflowState returns a point-in-time View of workflowID's state.
func (c *Coordinator) GetWorkflowState(workflowID string) (View, bool) {
	c.mu.Lock()
	state, ok := c.states[workflowID]
	c.mu.Unlock()
	if !ok {
		return View{}, false
	}
	return state.view(), true
}

// GetAllWorkflowStates returns a View for every workflow this Coordinator
// has observed, in no particular order.
func (c *Coordinator) GetAllWorkflowStates() []View {
	c.mu.Lock()
	states := make([]*WorkflowState, 0, len(c.states))
	for _, s := range c.states {
		states = append(states, s)
	}
	c.mu.Unlock()

	out := make([]View, len(states))
	for i, s := range states {
		out[i] = s.view()
	}
	return out
}

// GetSystemStatus rolls up every observed workflow into aggregate counts.
func (c *Coordinator) GetSystemStatus() SystemStatus {
	views := c.GetAllWorkflowStates()
	status := SystemStatus{TotalWorkflows: len(views)}
	for _, v := range views {
		switch v.Status {
		case WorkflowRunning:
			status.RunningWorkflows++
		case WorkflowCompleted:
			status.CompletedWorkflows++
		case WorkflowFailed:
			status.FailedWorkflows++
		}
		status.TotalNodesExecuted += len(v.ExecutedNodes)
		status.TotalNodesFailed += len(v.FailedNodes)
	}
	return status
}

// GetCompressedContext returns the latest compressed context folded for
// workflowID.
func (c *Coordinator) GetCompressedContext(workflowID string) (contextcompress.CompressedContext, bool) {
	c.contextsMu.Lock()
	defer c.contextsMu.Unlock()
	ctx, ok := c.contexts[workflowID]
	return ctx, ok
}

// QuerySubtaskErrors returns every recorded node error message for
// workflowID, node id first.
func (c *Coordinator) QuerySubtaskErrors(workflowID string) []string {
	c.mu.Lock()
	state, ok := c.states[workflowID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	v := state.view()
	out := make([]string, 0, len(v.NodeErrors))
	for nodeID, msg := range v.NodeErrors {
		out = append(out, nodeID+": "+msg)
	}
	sort.Strings(out)
	return out
}

// QueryUnresolvedIssues returns the reflection segment's outstanding
// issues for workflowID, if a compressed context exists.
func (c *Coordinator) QueryUnresolvedIssues(workflowID string) []string {
	ctx, ok := c.GetCompressedContext(workflowID)
	if !ok {
		return nil
	}
	return ctx.ReflectionSummary.Issues
}

// QueryNextPlan returns workflowID's current compressed next-actions list.
func (c *Coordinator) QueryNextPlan(workflowID string) []string {
	ctx, ok := c.GetCompressedContext(workflowID)
	if !ok {
		return nil
	}
	return ctx.NextActions
}

// GetMergedLogs merges the execution, error, and sub-agent log streams
// into one timestamp-ordered sequence.
func (c *Coordinator) GetMergedLogs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	total := len(c.executionLog) + len(c.errorLog) + len(c.subagentLog)
	merged := make([]LogEntry, 0, total)
	merged = append(merged, c.executionLog...)
	merged = append(merged, c.errorLog...)
	merged = append(merged, c.subagentLog...)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// SubAgentResults returns the recorded sub-agent completions for
// sessionID, in arrival order.
func (c *Coordinator) SubAgentResults(sessionID string) []SubAgentRecord {
	c.subagentMu.Lock()
	defer c.subagentMu.Unlock()
	out := make([]SubAgentRecord, len(c.subagentResults[sessionID]))
	copy(out, c.subagentResults[sessionID])
	return out
}
