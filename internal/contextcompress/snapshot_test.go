package contextcompress

import (
	"sync"
	"testing"
)

func TestSnapshotVersionsAreMonotonicAndContiguous(t *testing.T) {
	m := NewSnapshotManager()

	for v := 1; v <= 3; v++ {
		m.Save(CompressedContext{WorkflowID: "w1", Version: v})
	}

	history := m.History("w1")
	if len(history) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(history))
	}
	for i, ctx := range history {
		if ctx.Version != i+1 {
			t.Fatalf("expected contiguous versions 1,2,3, got %v at index %d", ctx.Version, i)
		}
	}
}

func TestGetLatestSnapshotReturnsHighestVersion(t *testing.T) {
	m := NewSnapshotManager()
	m.Save(CompressedContext{WorkflowID: "w1", Version: 1, ReflectionSummary: ReflectionSummary{Confidence: 0.7}})
	m.Save(CompressedContext{WorkflowID: "w1", Version: 2, ReflectionSummary: ReflectionSummary{Confidence: 0.8}})
	m.Save(CompressedContext{WorkflowID: "w1", Version: 3, ReflectionSummary: ReflectionSummary{Confidence: 0.95}})

	latest, ok := m.GetLatestSnapshot("w1")
	if !ok {
		t.Fatal("expected a latest snapshot")
	}
	if latest.ReflectionSummary.Confidence != 0.95 {
		t.Fatalf("expected highest-version snapshot (confidence 0.95), got %v", latest.ReflectionSummary.Confidence)
	}
}

func TestSnapshotManagerConcurrentSavesStayConsistent(t *testing.T) {
	m := NewSnapshotManager()
	var wg sync.WaitGroup
	for v := 1; v <= 20; v++ {
		v := v
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Save(CompressedContext{WorkflowID: "w1", Version: v})
		}()
	}
	wg.Wait()

	if len(m.History("w1")) != 20 {
		t.Fatalf("expected 20 snapshots recorded, got %d", len(m.History("w1")))
	}
}

func TestGetLatestSnapshotMissingWorkflow(t *testing.T) {
	m := NewSnapshotManager()
	if _, ok := m.GetLatestSnapshot("missing"); ok {
		t.Fatal("expected no snapshot for an unknown workflow")
	}
}
