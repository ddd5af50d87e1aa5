package contextcompress

import (
	"sync"

	"github.com/google/uuid"
)

// snapshotEntry pairs a stored context with its generated id.
type snapshotEntry struct {
	id      string
	context CompressedContext
}

// SnapshotManager stores every CompressedContext produced for a workflow
// under a fresh snap_<uuid> id, keeping a per-workflow ordered index so
// GetLatestSnapshot can return the highest-version entry without scanning
// the whole store.
type SnapshotManager struct {
	mu      sync.Mutex
	byID    map[string]CompressedContext
	indexes map[string][]snapshotEntry
}

// NewSnapshotManager builds an empty manager.
func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{
		byID:    make(map[string]CompressedContext),
		indexes: make(map[string][]snapshotEntry),
	}
}

// Save stores ctx under a fresh id and appends it to its workflow's index.
// Returns the generated id.
func (m *SnapshotManager) Save(ctx CompressedContext) string {
	id := "snap_" + uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = ctx
	m.indexes[ctx.WorkflowID] = append(m.indexes[ctx.WorkflowID], snapshotEntry{id: id, context: ctx})
	return id
}

// Get returns a previously saved snapshot by id.
func (m *SnapshotManager) Get(id string) (CompressedContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.byID[id]
	return ctx, ok
}

// GetLatestSnapshot returns the entry with the highest version for
// workflowID.
func (m *SnapshotManager) GetLatestSnapshot(workflowID string) (CompressedContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.indexes[workflowID]
	if len(entries) == 0 {
		return CompressedContext{}, false
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.context.Version > latest.context.Version {
			latest = e
		}
	}
	return latest.context, true
}

// History returns every snapshot saved for workflowID, in save order.
func (m *SnapshotManager) History(workflowID string) []CompressedContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.indexes[workflowID]
	out := make([]CompressedContext, len(entries))
	for i, e := range entries {
		out[i] = e.context
	}
	return out
}
