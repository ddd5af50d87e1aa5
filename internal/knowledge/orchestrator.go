package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/canvasflow/agentcore/internal/ports"
)

// ErrorInput is one entry the REPLAN/failure path hands to
// EnrichContextWithKnowledge.
type ErrorInput struct {
	ErrorType string
	Message   string
}

// EnrichedContext is EnrichContextWithKnowledge's return shape.
type EnrichedContext struct {
	WorkflowID          string
	KnowledgeReferences []map[string]any
}

// ContextGateway is the narrow boundary InjectKnowledgeToContext writes
// through: it merges references into the caller's CompressedContext,
// deduplicating by source id on the gateway side.
type ContextGateway interface {
	MergeKnowledgeReferences(workflowID string, refs []map[string]any) error
}

// Orchestrator wraps a KnowledgeRetrieverPort with the three query shapes,
// a per-workflow cache, and the auto-enrichment triggers described for
// node failure and reflection completion.
type Orchestrator struct {
	retriever ports.KnowledgeRetrieverPort
	gateway   ContextGateway

	mu    sync.Mutex
	cache map[string]References

	autoTriggerEnabled bool
	topK               int
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithAutoTriggers enables handle_node_failure_with_knowledge and
// handle_reflection_with_knowledge's inject-on-event behavior.
func WithAutoTriggers(enabled bool) Option {
	return func(o *Orchestrator) { o.autoTriggerEnabled = enabled }
}

// WithTopK overrides the default top-k (5) used by auto-trigger queries.
func WithTopK(k int) Option {
	return func(o *Orchestrator) { o.topK = k }
}

// New builds an Orchestrator. retriever may be nil, in which case every
// query returns an empty result (the "no retriever wired" Non-goal case).
func New(retriever ports.KnowledgeRetrieverPort, gateway ContextGateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever: retriever,
		gateway:   gateway,
		cache:     make(map[string]References),
		topK:      5,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func normalize(results []ports.KnowledgeResult, sourceType SourceType, now time.Time) References {
	out := make(References, len(results))
	for i, r := range results {
		out[i] = Reference{
			SourceID:       r.SourceID,
			Title:          r.Title,
			ContentPreview: r.ContentPreview,
			RelevanceScore: r.RelevanceScore,
			DocumentID:     r.DocumentID,
			ChunkID:        r.ChunkID,
			SourceType:     sourceType,
			RetrievedAt:    now,
			Metadata:       r.Metadata,
		}
	}
	return out
}

// RetrieveByQuery runs a free-text query against the retriever, caching
// results under workflowID when non-empty.
func (o *Orchestrator) RetrieveByQuery(ctx context.Context, query, workflowID string, topK int) (References, error) {
	if o.retriever == nil {
		return nil, nil
	}
	results, err := o.retriever.RetrieveByQuery(ctx, query, workflowID, topK)
	if err != nil {
		return nil, err
	}
	refs := normalize(results, SourceKnowledgeBase, time.Now().UTC())
	o.cacheFor(workflowID, refs)
	return refs, nil
}

// RetrieveByError queries knowledge keyed by an execution error.
func (o *Orchestrator) RetrieveByError(ctx context.Context, errorType, errorMessage string, topK int) (References, error) {
	if o.retriever == nil {
		return nil, nil
	}
	results, err := o.retriever.RetrieveByError(ctx, errorType, errorMessage, topK)
	if err != nil {
		return nil, err
	}
	return normalize(results, SourceErrorSolution, time.Now().UTC()), nil
}

// RetrieveByGoal queries knowledge keyed by the task goal.
func (o *Orchestrator) RetrieveByGoal(ctx context.Context, goalText, workflowID string, topK int) (References, error) {
	if o.retriever == nil {
		return nil, nil
	}
	results, err := o.retriever.RetrieveByGoal(ctx, goalText, workflowID, topK)
	if err != nil {
		return nil, err
	}
	refs := normalize(results, SourceGoalRelated, time.Now().UTC())
	o.cacheFor(workflowID, refs)
	return refs, nil
}

func (o *Orchestrator) cacheFor(workflowID string, refs References) {
	if workflowID == "" || len(refs) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[workflowID] = o.cache[workflowID].Merge(refs)
}

// GetCachedKnowledge returns the currently cached references for
// workflowID.
func (o *Orchestrator) GetCachedKnowledge(workflowID string) References {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append(References{}, o.cache[workflowID]...)
}

// ClearCachedKnowledge drops the cache entry for workflowID.
func (o *Orchestrator) ClearCachedKnowledge(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, workflowID)
}

// EnrichContextWithKnowledge merges goal-based and per-error references
// into one deduplicated collection, caches it under workflowID, and
// returns it in the wire shape callers forward to the Conversation agent.
func (o *Orchestrator) EnrichContextWithKnowledge(ctx context.Context, workflowID, goal string, errs []ErrorInput) (EnrichedContext, error) {
	if o.retriever == nil {
		return EnrichedContext{WorkflowID: workflowID}, nil
	}

	var refs References
	if goal != "" {
		goalRefs, err := o.RetrieveByGoal(ctx, goal, workflowID, o.topK)
		if err != nil {
			return EnrichedContext{}, err
		}
		refs = refs.Merge(goalRefs)
	}
	for _, e := range errs {
		errRefs, err := o.RetrieveByError(ctx, e.ErrorType, e.Message, o.topK)
		if err != nil {
			return EnrichedContext{}, err
		}
		refs = refs.Merge(errRefs)
	}

	o.mu.Lock()
	o.cache[workflowID] = o.cache[workflowID].Merge(refs)
	cached := o.cache[workflowID]
	o.mu.Unlock()

	return EnrichedContext{WorkflowID: workflowID, KnowledgeReferences: cached.ToDictList()}, nil
}

// InjectKnowledgeToContext enriches then asks the ContextGateway to merge
// the resulting references into the live CompressedContext.
func (o *Orchestrator) InjectKnowledgeToContext(ctx context.Context, workflowID, goal string, errs []ErrorInput) error {
	enriched, err := o.EnrichContextWithKnowledge(ctx, workflowID, goal, errs)
	if err != nil {
		return err
	}
	if o.gateway == nil {
		return nil
	}
	return o.gateway.MergeKnowledgeReferences(workflowID, enriched.KnowledgeReferences)
}

// HandleNodeFailureWithKnowledge is the auto-trigger fired on node
// failure: it injects error-typed knowledge keyed by the failing node.
// A no-op when auto-triggers are disabled.
func (o *Orchestrator) HandleNodeFailureWithKnowledge(ctx context.Context, workflowID, nodeID, errorType, errorMessage string) error {
	if !o.autoTriggerEnabled {
		return nil
	}
	return o.InjectKnowledgeToContext(ctx, workflowID, "", []ErrorInput{{ErrorType: errorType, Message: errorMessage}})
}

// HandleReflectionWithKnowledge is the auto-trigger fired on reflection
// completion: it injects goal-typed knowledge using taskGoal, falling
// back to assessment when the goal is empty. A no-op when auto-triggers
// are disabled.
func (o *Orchestrator) HandleReflectionWithKnowledge(ctx context.Context, workflowID, taskGoal, assessment string) error {
	if !o.autoTriggerEnabled {
		return nil
	}
	goal := taskGoal
	if goal == "" {
		goal = assessment
	}
	return o.InjectKnowledgeToContext(ctx, workflowID, goal, nil)
}
