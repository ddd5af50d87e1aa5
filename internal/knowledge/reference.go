// Package knowledge implements the Knowledge Retrieval Orchestrator: a
// thin wrapper over a pluggable ports.KnowledgeRetrieverPort with three
// query shapes, a per-workflow cache, and auto-enrichment triggers that
// feed results into a compressed context.
package knowledge

import (
	"sort"
	"time"
)

// SourceType classifies where a Reference came from.
type SourceType string

const (
	SourceKnowledgeBase SourceType = "knowledge_base"
	SourceErrorSolution SourceType = "error_solution"
	SourceGoalRelated   SourceType = "goal_related"
	SourceUnknown       SourceType = "unknown"
)

// Reference is one normalized retrieval hit.
type Reference struct {
	SourceID       string
	Title          string
	ContentPreview string
	RelevanceScore float64
	DocumentID     string
	ChunkID        string
	SourceType     SourceType
	RetrievedAt    time.Time
	Metadata       map[string]any
}

// References is an ordered collection with top-k selection and
// dedup-by-source-id merge semantics.
type References []Reference

// TopK returns the k highest-RelevanceScore references, stable on ties.
func (r References) TopK(k int) References {
	sorted := make(References, len(r))
	copy(sorted, r)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})
	if k >= 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// Merge combines r and other, de-duplicating by SourceID and keeping the
// higher-scoring entry on conflict.
func (r References) Merge(other References) References {
	byID := make(map[string]Reference, len(r)+len(other))
	var order []string
	add := func(ref Reference) {
		existing, ok := byID[ref.SourceID]
		if !ok {
			order = append(order, ref.SourceID)
			byID[ref.SourceID] = ref
			return
		}
		if ref.RelevanceScore > existing.RelevanceScore {
			byID[ref.SourceID] = ref
		}
	}
	for _, ref := range r {
		add(ref)
	}
	for _, ref := range other {
		add(ref)
	}
	out := make(References, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// ToDictList / FromDictList give the collection a map[string]any round
// trip, matching the source contract's to_dict_list / from_dict_list pair.
func (r References) ToDictList() []map[string]any {
	out := make([]map[string]any, len(r))
	for i, ref := range r {
		out[i] = map[string]any{
			"source_id":       ref.SourceID,
			"title":           ref.Title,
			"content_preview": ref.ContentPreview,
			"relevance_score": ref.RelevanceScore,
			"document_id":     ref.DocumentID,
			"chunk_id":        ref.ChunkID,
			"source_type":     string(ref.SourceType),
			"retrieved_at":    ref.RetrievedAt,
			"metadata":        ref.Metadata,
		}
	}
	return out
}

// FromDictList rebuilds a References collection from ToDictList's output.
func FromDictList(dicts []map[string]any) References {
	out := make(References, 0, len(dicts))
	for _, d := range dicts {
		ref := Reference{}
		ref.SourceID, _ = d["source_id"].(string)
		ref.Title, _ = d["title"].(string)
		ref.ContentPreview, _ = d["content_preview"].(string)
		ref.RelevanceScore, _ = d["relevance_score"].(float64)
		ref.DocumentID, _ = d["document_id"].(string)
		ref.ChunkID, _ = d["chunk_id"].(string)
		if st, ok := d["source_type"].(string); ok {
			ref.SourceType = SourceType(st)
		}
		if ts, ok := d["retrieved_at"].(time.Time); ok {
			ref.RetrievedAt = ts
		}
		if md, ok := d["metadata"].(map[string]any); ok {
			ref.Metadata = md
		}
		out = append(out, ref)
	}
	return out
}
