package mocks

import (
	"context"
	"sync"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobNotifier = (*MockNotifier)(nil)

// MockNotifier records published job types and fans them out to a single
// subscriber channel when one is open.
type MockNotifier struct {
	mu        sync.Mutex
	published []domain.JobType
	subscribe chan domain.JobType
	closed    bool

	// PublishErr, when set, is returned by Publish.
	PublishErr error
}

// NewMockNotifier creates a notifier with no subscriber.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Publish(ctx context.Context, jobType domain.JobType) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, jobType)
	if m.subscribe != nil {
		select {
		case m.subscribe <- jobType:
		default:
		}
	}
	return nil
}

func (m *MockNotifier) Subscribe(ctx context.Context) (<-chan domain.JobType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribe = make(chan domain.JobType, 16)
	ch := m.subscribe
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.subscribe == ch {
			close(ch)
			m.subscribe = nil
		}
	}()
	return ch, nil
}

func (m *MockNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Published returns a copy of every published job type in order.
func (m *MockNotifier) Published() []domain.JobType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.JobType, len(m.published))
	copy(out, m.published)
	return out
}
