// Package contextcompress folds raw conversation, execution, and
// reflection inputs into a nine-segment CompressedContext and maintains a
// versioned, per-workflow snapshot history of them.
package contextcompress

import (
	"fmt"
	"strings"
	"time"
)

const defaultMaxSegmentLength = 500

// NodeSummary is one entry in CompressedContext.NodeSummary.
type NodeSummary struct {
	NodeID        string
	Type          string
	Status        string
	OutputSummary string
	RetryCount    int
}

// ErrorLogEntry is one entry in CompressedContext.ErrorLog.
type ErrorLogEntry struct {
	NodeID    string
	Error     string
	Retryable bool
}

// ExecutionStatus is the execution segment's structured payload.
type ExecutionStatus struct {
	Status         string
	Progress       float64
	NodesCompleted int
}

// ReflectionSummary is the reflection segment's structured payload.
type ReflectionSummary struct {
	Assessment      string
	Confidence      float64
	ShouldRetry     bool
	Issues          []string
	Recommendations []string
}

// CompressedContext is the nine-segment structured summary for one
// workflow, plus snapshot metadata.
type CompressedContext struct {
	WorkflowID string

	TaskGoal             string
	ExecutionStatus       ExecutionStatus
	NodeSummary          []NodeSummary
	DecisionHistory       []string
	ReflectionSummary     ReflectionSummary
	ConversationSummary   string
	ErrorLog              []ErrorLogEntry
	NextActions           []string
	KnowledgeReferences   []KnowledgeReference

	Version     int
	EvidenceRefs []string
}

// KnowledgeReference mirrors internal/knowledge.Reference's wire shape so
// this package doesn't import internal/knowledge (it is the one being
// enriched, not the enricher).
type KnowledgeReference struct {
	SourceID       string
	Title          string
	ContentPreview string
	RelevanceScore float64
	DocumentID     string
	ChunkID        string
	SourceType     string
	RetrievedAt    string
	Metadata       map[string]any
}

// FromKnowledgeDictList rebuilds KnowledgeReference entries from the wire
// shape knowledge.References.ToDictList produces, so this package can
// accept merged references without importing internal/knowledge.
func FromKnowledgeDictList(dicts []map[string]any) []KnowledgeReference {
	out := make([]KnowledgeReference, 0, len(dicts))
	for _, d := range dicts {
		ref := KnowledgeReference{}
		ref.SourceID, _ = d["source_id"].(string)
		ref.Title, _ = d["title"].(string)
		ref.ContentPreview, _ = d["content_preview"].(string)
		ref.RelevanceScore, _ = d["relevance_score"].(float64)
		ref.DocumentID, _ = d["document_id"].(string)
		ref.ChunkID, _ = d["chunk_id"].(string)
		ref.SourceType, _ = d["source_type"].(string)
		if ts, ok := d["retrieved_at"].(time.Time); ok {
			ref.RetrievedAt = ts.Format(time.RFC3339Nano)
		} else if s, ok := d["retrieved_at"].(string); ok {
			ref.RetrievedAt = s
		}
		if md, ok := d["metadata"].(map[string]any); ok {
			ref.Metadata = md
		}
		out = append(out, ref)
	}
	return out
}

// SourceType tags the input handed to Compress.
type SourceType string

const (
	SourceConversation SourceType = "conversation"
	SourceExecution    SourceType = "execution"
	SourceReflection   SourceType = "reflection"
)

// Input is a single raw fold-in to Compress.
type Input struct {
	SourceType SourceType
	WorkflowID string
	RawData    map[string]any
}

// Compressor builds CompressedContext values from raw inputs. New applies
// the default max segment length (500); a zero-value Compressor has a max
// segment length of 0, which truncates nothing. An optional EvidenceStore
// persists raw input and records a reference in EvidenceRefs.
type Compressor struct {
	maxSegmentLength int
	evidenceStore    EvidenceStore
}

// EvidenceStore is the optional persistence boundary for raw compress
// input. When nil, EvidenceRefs stays empty rather than storing anything.
type EvidenceStore interface {
	Store(workflowID string, raw map[string]any) (refID string, err error)
}

// Option configures a Compressor at construction time.
type Option func(*Compressor)

// WithMaxSegmentLength overrides the default truncation length (500).
func WithMaxSegmentLength(n int) Option {
	return func(c *Compressor) { c.maxSegmentLength = n }
}

// WithEvidenceStore wires an EvidenceStore.
func WithEvidenceStore(s EvidenceStore) Option {
	return func(c *Compressor) { c.evidenceStore = s }
}

// New builds a Compressor.
func New(opts ...Option) *Compressor {
	c := &Compressor{maxSegmentLength: defaultMaxSegmentLength}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// Compress extracts whichever segments input.SourceType can contribute and
// returns a fresh, version-1 CompressedContext. Callers merge successive
// inputs with Merge.
func (c *Compressor) Compress(input Input) CompressedContext {
	ctx := CompressedContext{WorkflowID: input.WorkflowID, Version: 1}

	switch input.SourceType {
	case SourceConversation:
		c.foldConversation(input.RawData, &ctx)
	case SourceExecution:
		c.foldExecution(input.RawData, &ctx)
	case SourceReflection:
		c.foldReflection(input.RawData, &ctx)
	}

	if c.evidenceStore != nil {
		if refID, err := c.evidenceStore.Store(input.WorkflowID, input.RawData); err == nil {
			ctx.EvidenceRefs = append(ctx.EvidenceRefs, refID)
		}
	}

	return ctx
}

func (c *Compressor) foldConversation(raw map[string]any, ctx *CompressedContext) {
	goal, _ := raw["goal"].(string)
	if goal == "" {
		if messages, ok := raw["messages"].([]any); ok {
			for _, m := range messages {
				if msg, ok := m.(map[string]any); ok {
					if role, _ := msg["role"].(string); role == "user" {
						goal, _ = msg["content"].(string)
						break
					}
				}
			}
		}
	}
	ctx.TaskGoal = truncate(goal, 100)

	var userMessages []string
	if messages, ok := raw["messages"].([]any); ok {
		for _, m := range messages {
			if msg, ok := m.(map[string]any); ok {
				if role, _ := msg["role"].(string); role == "user" {
					if content, ok := msg["content"].(string); ok {
						userMessages = append(userMessages, content)
					}
				}
			}
		}
	}
	ctx.ConversationSummary = truncate(strings.Join(userMessages, " "), c.maxSegmentLength)
}

func (c *Compressor) foldExecution(raw map[string]any, ctx *CompressedContext) {
	status, _ := raw["workflow_status"].(string)

	var executedNodes []any
	if en, ok := raw["executed_nodes"].([]any); ok {
		executedNodes = en
	}

	progress, _ := raw["progress"].(float64)
	nodesCompleted, ok := raw["nodes_completed"].(int)
	if !ok {
		nodesCompleted = len(executedNodes)
	}
	ctx.ExecutionStatus = ExecutionStatus{Status: status, Progress: progress, NodesCompleted: nodesCompleted}

	for _, n := range executedNodes {
		node, ok := n.(map[string]any)
		if !ok {
			continue
		}
		nodeID, _ := node["node_id"].(string)
		nodeType, _ := node["type"].(string)
		nodeStatus, _ := node["status"].(string)
		outputSummary, _ := node["output_summary"].(string)
		retryCount, _ := node["retry_count"].(int)
		ctx.NodeSummary = append(ctx.NodeSummary, NodeSummary{
			NodeID:        nodeID,
			Type:          nodeType,
			Status:        nodeStatus,
			OutputSummary: truncate(outputSummary, 150),
			RetryCount:    retryCount,
		})

		if nodeStatus == "failed" {
			errMsg, _ := node["error"].(string)
			ctx.ErrorLog = append(ctx.ErrorLog, ErrorLogEntry{NodeID: nodeID, Error: errMsg})
		}
	}

	if explicitErrors, ok := raw["errors"].([]any); ok {
		for _, e := range explicitErrors {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			nodeID, _ := entry["node_id"].(string)
			errMsg, _ := entry["error"].(string)
			retryable, _ := entry["retryable"].(bool)
			ctx.ErrorLog = append(ctx.ErrorLog, ErrorLogEntry{NodeID: nodeID, Error: errMsg, Retryable: retryable})
		}
	}

	var nextActions []string
	if pending, ok := raw["pending_nodes"].([]any); ok {
		for i, p := range pending {
			if i >= 3 {
				break
			}
			if s, ok := p.(string); ok {
				nextActions = append(nextActions, s)
			}
		}
	}
	if recs, ok := raw["recommendations"].([]any); ok {
		for _, r := range recs {
			if s, ok := r.(string); ok {
				nextActions = append(nextActions, s)
			}
		}
	}
	ctx.NextActions = dedupCap(nextActions, 5)
}

func (c *Compressor) foldReflection(raw map[string]any, ctx *CompressedContext) {
	assessment, _ := raw["assessment"].(string)
	confidence, _ := raw["confidence"].(float64)
	shouldRetry, _ := raw["should_retry"].(bool)

	var issues []string
	if is, ok := raw["issues"].([]any); ok {
		for _, i := range is {
			if s, ok := i.(string); ok {
				issues = append(issues, s)
			}
		}
	}

	var recs []string
	if rs, ok := raw["recommendations"].([]any); ok {
		for _, r := range rs {
			if s, ok := r.(string); ok {
				recs = append(recs, s)
			}
		}
	}

	ctx.ReflectionSummary = ReflectionSummary{
		Assessment:      assessment,
		Confidence:      confidence,
		ShouldRetry:     shouldRetry,
		Issues:          issues,
		Recommendations: recs,
	}
	ctx.NextActions = dedupCap(recs, 5)
}

func dedupCap(items []string, limit int) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Merge produces a fresh CompressedContext from existing and next, never
// mutating either argument. Version is strictly incremented; error_log and
// evidence_refs are append-only; node_summary is deduplicated by node_id
// with next winning on conflict, existing entries ordered first.
func Merge(existing, next CompressedContext) CompressedContext {
	merged := CompressedContext{
		WorkflowID:   existing.WorkflowID,
		Version:      existing.Version + 1,
		EvidenceRefs: append(append([]string{}, existing.EvidenceRefs...), next.EvidenceRefs...),
	}

	merged.TaskGoal = firstNonEmpty(next.TaskGoal, existing.TaskGoal)
	merged.ExecutionStatus = firstNonZeroStatus(next.ExecutionStatus, existing.ExecutionStatus)
	merged.NodeSummary = mergeNodeSummaries(existing.NodeSummary, next.NodeSummary)
	merged.DecisionHistory = append(append([]string{}, existing.DecisionHistory...), next.DecisionHistory...)
	merged.ReflectionSummary = firstNonEmptyReflection(next.ReflectionSummary, existing.ReflectionSummary)
	merged.ConversationSummary = firstNonEmpty(next.ConversationSummary, existing.ConversationSummary)
	merged.ErrorLog = append(append([]ErrorLogEntry{}, existing.ErrorLog...), next.ErrorLog...)
	merged.NextActions = firstNonEmptySlice(next.NextActions, existing.NextActions)
	merged.KnowledgeReferences = append([]KnowledgeReference{}, existing.KnowledgeReferences...)

	return merged
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmptySlice(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

func firstNonZeroStatus(a, b ExecutionStatus) ExecutionStatus {
	if a != (ExecutionStatus{}) {
		return a
	}
	return b
}

func firstNonEmptyReflection(a, b ReflectionSummary) ReflectionSummary {
	if a.isZero() {
		return b
	}
	return a
}

// isZero reports whether no reflection fields were populated. ReflectionSummary
// holds slices, so it can't use == comparison against a zero value.
func (r ReflectionSummary) isZero() bool {
	return r.Assessment == "" && r.Confidence == 0 && !r.ShouldRetry &&
		len(r.Issues) == 0 && len(r.Recommendations) == 0
}

func mergeNodeSummaries(existing, next []NodeSummary) []NodeSummary {
	index := make(map[string]int, len(existing)+len(next))
	var out []NodeSummary
	for _, n := range existing {
		index[n.NodeID] = len(out)
		out = append(out, n)
	}
	for _, n := range next {
		if i, ok := index[n.NodeID]; ok {
			out[i] = n
			continue
		}
		index[n.NodeID] = len(out)
		out = append(out, n)
	}
	return out
}

// ToSummaryText renders a pipe-separated line of the present segments with
// short labels, for human-readable logs.
func (c CompressedContext) ToSummaryText() string {
	var parts []string
	if c.TaskGoal != "" {
		parts = append(parts, "goal="+c.TaskGoal)
	}
	if c.ExecutionStatus.Status != "" {
		parts = append(parts, fmt.Sprintf("status=%s", c.ExecutionStatus.Status))
	}
	if len(c.NodeSummary) > 0 {
		parts = append(parts, fmt.Sprintf("nodes=%d", len(c.NodeSummary)))
	}
	if len(c.ErrorLog) > 0 {
		parts = append(parts, fmt.Sprintf("errors=%d", len(c.ErrorLog)))
	}
	if c.ReflectionSummary.Assessment != "" {
		parts = append(parts, "reflection="+c.ReflectionSummary.Assessment)
	}
	if len(c.NextActions) > 0 {
		parts = append(parts, fmt.Sprintf("next=%s", strings.Join(c.NextActions, ",")))
	}
	return strings.Join(parts, " | ")
}
