package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*MockDocumentStore)(nil)

// MockDocumentStore is an in-memory DocumentStore. Version numbers are
// allocated under the store mutex so concurrent CreateVersion calls observe
// the same gapless sequence the Postgres adapter produces.
type MockDocumentStore struct {
	mu        sync.Mutex
	documents map[string]*domain.Document
	versions  map[string][]*domain.DocumentVersion
	jobs      *MockJobStore
}

// NewMockDocumentStore creates a store that enqueues generation jobs into
// the given job store.
func NewMockDocumentStore(jobs *MockJobStore) *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.Document),
		versions:  make(map[string][]*domain.DocumentVersion),
		jobs:      jobs,
	}
}

func (m *MockDocumentStore) CreateDocument(ctx context.Context, document *domain.Document, generateJob *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[document.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := *document
	m.documents[document.ID] = &cp
	if generateJob != nil {
		m.jobs.enqueueLocked(generateJob)
	}
	return nil
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *MockDocumentStore) ListByTemplateVersion(ctx context.Context, templateVersionID string) ([]*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Document
	for _, doc := range m.documents {
		if doc.TemplateVersionID == templateVersionID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockDocumentStore) CreateVersion(ctx context.Context, version *domain.DocumentVersion, rebindTemplateVersionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[version.DocumentID]
	if !ok {
		return domain.ErrNotFound
	}
	version.VersionNumber = len(m.versions[version.DocumentID]) + 1
	cp := *version
	m.versions[version.DocumentID] = append(m.versions[version.DocumentID], &cp)
	doc.CurrentVersion = version.VersionNumber
	if rebindTemplateVersionID != "" {
		doc.TemplateVersionID = rebindTemplateVersionID
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockDocumentStore) GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[documentID] {
		if v.VersionNumber == versionNumber {
			cp := *v
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockDocumentStore) GetCurrentVersion(ctx context.Context, documentID string) (*domain.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if doc.CurrentVersion == 0 {
		return nil, domain.ErrNoVersion
	}
	for _, v := range m.versions[documentID] {
		if v.VersionNumber == doc.CurrentVersion {
			cp := *v
			return &cp, nil
		}
	}
	return nil, domain.ErrNoVersion
}

func (m *MockDocumentStore) ListVersions(ctx context.Context, documentID string) ([]*domain.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.versions[documentID]
	out := make([]*domain.DocumentVersion, 0, len(versions))
	for _, v := range versions {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}
