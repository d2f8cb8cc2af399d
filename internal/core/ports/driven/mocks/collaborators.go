package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.StructuralParser = (*MockStructuralParser)(nil)
var _ driven.SectionClassifier = (*MockSectionClassifier)(nil)
var _ driven.ContentGenerator = (*MockContentGenerator)(nil)

// MockStructuralParser is a StructuralParser whose default behavior decodes
// the source bytes as an encoded parsed model, letting tests feed models
// straight through without real document fixtures.
type MockStructuralParser struct {
	mu    sync.Mutex
	calls int

	// ParseFn overrides the default behavior when set.
	ParseFn func(ctx context.Context, source []byte) (*domain.ParsedModel, error)
}

func (m *MockStructuralParser) Parse(ctx context.Context, source []byte) (*domain.ParsedModel, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ParseFn != nil {
		return m.ParseFn(ctx, source)
	}
	model, err := domain.DecodeParsedModel(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return model, nil
}

// Calls returns how many times Parse was invoked.
func (m *MockStructuralParser) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockSectionClassifier is a SectionClassifier. By default headings are
// labelled STATIC and every other body block DYNAMIC, which gives pipeline
// tests a predictable mix without wiring a real classifier.
type MockSectionClassifier struct {
	mu    sync.Mutex
	calls int

	// ClassifyFn overrides the default behavior when set.
	ClassifyFn func(ctx context.Context, model *domain.ParsedModel) ([]domain.SectionLabel, error)
}

func (m *MockSectionClassifier) Classify(ctx context.Context, model *domain.ParsedModel) ([]domain.SectionLabel, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ClassifyFn != nil {
		return m.ClassifyFn(ctx, model)
	}
	labels := make([]domain.SectionLabel, 0, len(model.Blocks))
	for _, block := range model.Blocks {
		label := domain.SectionLabel{
			Path:          block.Path,
			Type:          domain.SectionDynamic,
			Confidence:    0.85,
			Method:        domain.ClassifiedByRule,
			Justification: "default dynamic",
		}
		if block.Type == domain.BlockHeading {
			label.Type = domain.SectionStatic
			label.Confidence = 0.95
			label.Justification = "heading"
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// Calls returns how many times Classify was invoked.
func (m *MockSectionClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockContentGenerator is a ContentGenerator that records every request and
// returns deterministic text derived from the section path.
type MockContentGenerator struct {
	mu       sync.Mutex
	requests []driven.GenerationRequest

	// GenerateFn overrides the default behavior when set.
	GenerateFn func(ctx context.Context, req driven.GenerationRequest) (string, error)
	// Err, when set, is returned by Generate before any default output.
	Err error
}

func (m *MockContentGenerator) Generate(ctx context.Context, req driven.GenerationRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return "generated:" + req.SectionPath, nil
}

// Requests returns a copy of every recorded generation request.
func (m *MockContentGenerator) Requests() []driven.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]driven.GenerationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many times Generate was invoked.
func (m *MockContentGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
