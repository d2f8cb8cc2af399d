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
var _ driven.TemplateStore = (*MockTemplateStore)(nil)

// MockTemplateStore is an in-memory TemplateStore. Transitions follow the
// real contract: guarded by current state, applied=false on replay, and
// downstream jobs land in the attached MockJobStore in the same critical
// section, mirroring the adapters' shared transaction.
type MockTemplateStore struct {
	mu        sync.Mutex
	templates map[string]*domain.Template
	versions  map[string]*domain.TemplateVersion
	sections  map[string][]*domain.Section
	jobs      *MockJobStore
}

// NewMockTemplateStore creates a store that enqueues transition jobs into
// the given job store.
func NewMockTemplateStore(jobs *MockJobStore) *MockTemplateStore {
	return &MockTemplateStore{
		templates: make(map[string]*domain.Template),
		versions:  make(map[string]*domain.TemplateVersion),
		sections:  make(map[string][]*domain.Section),
		jobs:      jobs,
	}
}

func (m *MockTemplateStore) CreateTemplate(ctx context.Context, template *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[template.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := *template
	m.templates[template.ID] = &cp
	return nil
}

func (m *MockTemplateStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, ok := m.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (m *MockTemplateStore) ListTemplates(ctx context.Context) ([]*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Template, 0, len(m.templates))
	for _, tpl := range m.templates {
		cp := *tpl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockTemplateStore) CreateVersion(ctx context.Context, version *domain.TemplateVersion, parseJob *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[version.TemplateID]; !ok {
		return domain.ErrNotFound
	}
	next := 1
	for _, v := range m.versions {
		if v.TemplateID == version.TemplateID && v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	version.VersionNumber = next
	cp := *version
	m.versions[version.ID] = &cp
	if parseJob != nil {
		m.jobs.enqueueLocked(parseJob)
	}
	return nil
}

func (m *MockTemplateStore) GetVersion(ctx context.Context, id string) (*domain.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MockTemplateStore) GetVersionByHash(ctx context.Context, templateID, contentHash string) (*domain.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.TemplateID == templateID && v.ContentHash == contentHash {
			cp := *v
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockTemplateStore) ListVersions(ctx context.Context, templateID string) ([]*domain.TemplateVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TemplateVersion
	for _, v := range m.versions {
		if v.TemplateID == templateID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *MockTemplateStore) MarkParsing(ctx context.Context, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return domain.ErrNotFound
	}
	if v.State == domain.VersionStateNotStarted {
		v.State = domain.VersionStateParsing
		v.ParsingStatus = domain.ParsingInProgress
		v.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockTemplateStore) CompleteParse(ctx context.Context, versionID, parsedModelRef string, classifyJob *domain.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if v.State != domain.VersionStateParsing {
		return false, nil
	}
	now := time.Now().UTC()
	v.ParsedModelRef = parsedModelRef
	v.ParsingStatus = domain.ParsingCompleted
	v.ParsedAt = &now
	v.State = domain.VersionStateClassifying
	v.UpdatedAt = now
	if classifyJob != nil {
		m.jobs.enqueueLocked(classifyJob)
	}
	return true, nil
}

func (m *MockTemplateStore) FailParse(ctx context.Context, versionID, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if v.State != domain.VersionStateParsing {
		return false, nil
	}
	v.ParsingStatus = domain.ParsingFailed
	v.ParsingError = errMsg
	v.State = domain.VersionStateFailed
	v.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockTemplateStore) CompleteClassify(ctx context.Context, versionID string, sections []*domain.Section) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if v.State != domain.VersionStateClassifying {
		return false, nil
	}
	stored := make([]*domain.Section, 0, len(sections))
	for _, s := range sections {
		cp := *s
		stored = append(stored, &cp)
	}
	m.sections[versionID] = stored
	v.State = domain.VersionStateReady
	v.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockTemplateStore) FailClassify(ctx context.Context, versionID, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if v.State != domain.VersionStateClassifying {
		return false, nil
	}
	v.ParsingError = errMsg
	v.State = domain.VersionStateFailed
	v.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockTemplateStore) ListSections(ctx context.Context, versionID string) ([]*domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sections := m.sections[versionID]
	out := make([]*domain.Section, 0, len(sections))
	for _, s := range sections {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *MockTemplateStore) GetSectionByPath(ctx context.Context, versionID, path string) (*domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sections[versionID] {
		if s.Path == path {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}
