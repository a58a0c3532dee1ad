package sessions

import (
	"context"
	"sync"

	"github.com/haasonsaas/conduit/pkg/models"
)

// maxMessagesPerCheckpoint bounds memory use per checkpoint. When exceeded,
// the oldest messages are trimmed.
const maxMessagesPerCheckpoint = 1000

// MemoryStore provides an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*models.Checkpoint
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: map[string]*models.Checkpoint{}}
}

// Load returns a copy of the stored checkpoint.
func (m *MemoryStore) Load(ctx context.Context, id string) (*models.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[id].Clone(), nil
}

// Save merges cp into the stored checkpoint.
func (m *MemoryStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := Merge(m.checkpoints[cp.ID], cp)
	if excess := len(merged.Messages) - maxMessagesPerCheckpoint; excess > 0 {
		merged.Messages = append([]models.Message(nil), merged.Messages[excess:]...)
	}
	m.checkpoints[cp.ID] = merged
	return nil
}

// Delete removes a checkpoint.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, id)
	return nil
}

// Len returns the number of stored checkpoints.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
