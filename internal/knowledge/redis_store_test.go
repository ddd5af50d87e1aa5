package knowledge

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func newTestEvidenceStore(t *testing.T) *RedisEvidenceStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return newRedisEvidenceStoreWithClient(client, zaptest.NewLogger(t))
}

func TestRedisEvidenceStoreRoundTrip(t *testing.T) {
	store := newTestEvidenceStore(t)

	refID, err := store.Store("w1", map[string]any{"goal": "ship it"})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if refID == "" {
		t.Fatal("expected a non-empty ref id")
	}

	workflowID, raw, err := store.Get(refID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if workflowID != "w1" {
		t.Fatalf("expected workflow id w1, got %s", workflowID)
	}
	if raw["goal"] != "ship it" {
		t.Fatalf("expected round-tripped goal field, got %v", raw)
	}
}

func TestRedisEvidenceStoreGetMissingRef(t *testing.T) {
	store := newTestEvidenceStore(t)
	if _, _, err := store.Get("nonexistent"); err == nil {
		t.Fatal("expected an error for a missing ref id")
	}
}
