package knowledge

import (
	"context"
	"testing"

	"github.com/canvasflow/agentcore/internal/ports"
)

type stubRetriever struct {
	byQuery func(ctx context.Context, query, workflowID string, topK int) ([]ports.KnowledgeResult, error)
	byError func(ctx context.Context, errorType, errorMessage string, topK int) ([]ports.KnowledgeResult, error)
	byGoal  func(ctx context.Context, goalText, workflowID string, topK int) ([]ports.KnowledgeResult, error)
}

func (s stubRetriever) RetrieveByQuery(ctx context.Context, query, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	return s.byQuery(ctx, query, workflowID, topK)
}

func (s stubRetriever) RetrieveByError(ctx context.Context, errorType, errorMessage string, topK int) ([]ports.KnowledgeResult, error) {
	return s.byError(ctx, errorType, errorMessage, topK)
}

func (s stubRetriever) RetrieveByGoal(ctx context.Context, goalText, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
	return s.byGoal(ctx, goalText, workflowID, topK)
}

func TestRetrieveByQueryNormalizesAndCaches(t *testing.T) {
	r := stubRetriever{byQuery: func(ctx context.Context, query, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
		return []ports.KnowledgeResult{{SourceID: "doc1", RelevanceScore: 0.9}}, nil
	}}
	o := New(r, nil)

	refs, err := o.RetrieveByQuery(context.Background(), "how to retry", "w1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].SourceType != SourceKnowledgeBase {
		t.Fatalf("unexpected refs: %+v", refs)
	}
	if cached := o.GetCachedKnowledge("w1"); len(cached) != 1 {
		t.Fatalf("expected cache populated for w1, got %v", cached)
	}
}

func TestNilRetrieverReturnsEmpty(t *testing.T) {
	o := New(nil, nil)
	refs, err := o.RetrieveByQuery(context.Background(), "x", "w1", 5)
	if err != nil || refs != nil {
		t.Fatalf("expected empty/no-error result with nil retriever, got %v %v", refs, err)
	}
}

func TestEnrichContextWithKnowledgeDedupesBySourceID(t *testing.T) {
	r := stubRetriever{
		byGoal: func(ctx context.Context, goalText, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
			return []ports.KnowledgeResult{{SourceID: "shared", RelevanceScore: 0.5}}, nil
		},
		byError: func(ctx context.Context, errorType, errorMessage string, topK int) ([]ports.KnowledgeResult, error) {
			return []ports.KnowledgeResult{{SourceID: "shared", RelevanceScore: 0.9}}, nil
		},
	}
	o := New(r, nil)

	enriched, err := o.EnrichContextWithKnowledge(context.Background(), "w1", "ship it", []ErrorInput{{ErrorType: "timeout", Message: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(enriched.KnowledgeReferences) != 1 {
		t.Fatalf("expected dedup by source_id to leave 1 reference, got %d", len(enriched.KnowledgeReferences))
	}
	if score := enriched.KnowledgeReferences[0]["relevance_score"]; score != 0.9 {
		t.Fatalf("expected higher-scoring duplicate to win, got %v", score)
	}
}

type recordingGateway struct {
	calls int
	last  []map[string]any
}

func (g *recordingGateway) MergeKnowledgeReferences(workflowID string, refs []map[string]any) error {
	g.calls++
	g.last = refs
	return nil
}

func TestHandleNodeFailureWithKnowledgeRespectsAutoTriggerFlag(t *testing.T) {
	r := stubRetriever{byError: func(ctx context.Context, errorType, errorMessage string, topK int) ([]ports.KnowledgeResult, error) {
		return []ports.KnowledgeResult{{SourceID: "fix1"}}, nil
	}}
	gw := &recordingGateway{}

	disabled := New(r, gw)
	if err := disabled.HandleNodeFailureWithKnowledge(context.Background(), "w1", "n1", "timeout", "oops"); err != nil {
		t.Fatal(err)
	}
	if gw.calls != 0 {
		t.Fatal("expected no gateway call when auto-triggers are disabled")
	}

	enabled := New(r, gw, WithAutoTriggers(true))
	if err := enabled.HandleNodeFailureWithKnowledge(context.Background(), "w1", "n1", "timeout", "oops"); err != nil {
		t.Fatal(err)
	}
	if gw.calls != 1 {
		t.Fatalf("expected one gateway call when auto-triggers are enabled, got %d", gw.calls)
	}
}

func TestHandleReflectionWithKnowledgeFallsBackToAssessment(t *testing.T) {
	var gotGoal string
	r := stubRetriever{byGoal: func(ctx context.Context, goalText, workflowID string, topK int) ([]ports.KnowledgeResult, error) {
		gotGoal = goalText
		return nil, nil
	}}
	o := New(r, nil, WithAutoTriggers(true))

	if err := o.HandleReflectionWithKnowledge(context.Background(), "w1", "", "looks incomplete"); err != nil {
		t.Fatal(err)
	}
	if gotGoal != "looks incomplete" {
		t.Fatalf("expected fallback to assessment text, got %q", gotGoal)
	}
}

func TestReferencesMergeKeepsHigherScore(t *testing.T) {
	a := References{{SourceID: "x", RelevanceScore: 0.3}}
	b := References{{SourceID: "x", RelevanceScore: 0.8}, {SourceID: "y", RelevanceScore: 0.1}}

	merged := a.Merge(b)
	if len(merged) != 2 {
		t.Fatalf("expected 2 unique references, got %d", len(merged))
	}
	for _, ref := range merged {
		if ref.SourceID == "x" && ref.RelevanceScore != 0.8 {
			t.Fatalf("expected higher score to win for x, got %v", ref.RelevanceScore)
		}
	}
}

func TestReferencesTopK(t *testing.T) {
	refs := References{
		{SourceID: "a", RelevanceScore: 0.2},
		{SourceID: "b", RelevanceScore: 0.9},
		{SourceID: "c", RelevanceScore: 0.5},
	}
	top := refs.TopK(2)
	if len(top) != 2 || top[0].SourceID != "b" || top[1].SourceID != "c" {
		t.Fatalf("unexpected top-k order: %+v", top)
	}
}

func TestToDictListFromDictListRoundTrip(t *testing.T) {
	refs := References{{SourceID: "x", Title: "t", RelevanceScore: 0.7, SourceType: SourceGoalRelated}}
	back := FromDictList(refs.ToDictList())
	if len(back) != 1 || back[0].SourceID != "x" || back[0].RelevanceScore != 0.7 {
		t.Fatalf("round-trip mismatch: %+v", back)
	}
}
