package mocks

import (
	"context"
	"sync"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*MockBlobStore)(nil)

// MockBlobStore is a content-addressed in-memory BlobStore.
type MockBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// PutErr, when set, is returned by Put to simulate storage failures.
	PutErr error
	// GetErr, when set, is returned by Get to simulate storage failures.
	GetErr error
}

// NewMockBlobStore creates an empty blob store.
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{blobs: make(map[string][]byte)}
}

func (m *MockBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	if m.PutErr != nil {
		return "", m.PutErr
	}
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

func (m *MockBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MockBlobStore) Exists(ctx context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[ref]
	return ok, nil
}

// Len returns the number of stored blobs.
func (m *MockBlobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
