package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisEvidenceStore implements contextcompress.EvidenceStore against a
// Redis backend: TTL'd keys holding a JSON blob, one Ping at construction
// to fail fast on a bad address.
type RedisEvidenceStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	prefix string
}

// NewRedisEvidenceStore dials addr and verifies connectivity before
// returning.
func NewRedisEvidenceStore(addr, password string, logger *zap.Logger) (*RedisEvidenceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect evidence store redis: %w", err)
	}

	return &RedisEvidenceStore{
		client: client,
		logger: logger,
		ttl:    24 * time.Hour,
		prefix: "agentcore:evidence:",
	}, nil
}

// newRedisEvidenceStoreWithClient is test-only: lets tests inject a
// miniredis-backed client without dialing a real server.
func newRedisEvidenceStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisEvidenceStore {
	return &RedisEvidenceStore{client: client, logger: logger, ttl: 24 * time.Hour, prefix: "agentcore:evidence:"}
}

// Store persists raw under a fresh evidence ref id and returns it.
func (s *RedisEvidenceStore) Store(workflowID string, raw map[string]any) (string, error) {
	refID := "ev_" + uuid.NewString()

	blob, err := json.Marshal(struct {
		WorkflowID string         `json:"workflow_id"`
		Raw        map[string]any `json:"raw"`
	}{workflowID, raw})
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+refID, blob, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to persist evidence", zap.String("ref_id", refID), zap.Error(err))
		return "", err
	}
	return refID, nil
}

// Get retrieves a previously stored evidence blob by ref id.
func (s *RedisEvidenceStore) Get(refID string) (workflowID string, raw map[string]any, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	blob, err := s.client.Get(ctx, s.prefix+refID).Bytes()
	if err != nil {
		return "", nil, err
	}

	var decoded struct {
		WorkflowID string         `json:"workflow_id"`
		Raw        map[string]any `json:"raw"`
	}
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return "", nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	return decoded.WorkflowID, decoded.Raw, nil
}
