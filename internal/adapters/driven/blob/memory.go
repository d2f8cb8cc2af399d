package blob

import (
	"context"
	"sync"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*Memory)(nil)

// Memory is an in-process blob store for development and single-node
// setups. Contents do not survive a restart.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	ref := domain.HashBytes(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blobs[ref]; !exists {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.blobs[ref] = cp
	}
	return ref, nil
}

func (m *Memory) Get(ctx context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) Exists(ctx context.Context, ref string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[ref]
	return ok, nil
}
