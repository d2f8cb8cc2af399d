package mocks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobStore = (*MockJobStore)(nil)

// MockJobStore is an in-memory JobStore with the real claim contract:
// Claim hands each job to exactly one caller, FIFO by creation time, and
// honors lease expiry. Service and worker tests run against it.
type MockJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	lease time.Duration

	// EnqueueErr, when set, is returned by Enqueue (fault injection).
	EnqueueErr error
	// ClaimErr, when set, is returned by Claim (fault injection).
	ClaimErr error
	// PingErr, when set, is returned by Ping (fault injection).
	PingErr error
}

// NewMockJobStore creates an empty store with a 5 minute default lease.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs:  make(map[string]*domain.Job),
		lease: 5 * time.Minute,
	}
}

// SetLease overrides the lease applied on claim.
func (m *MockJobStore) SetLease(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lease = d
}

func copyJob(j *domain.Job) *domain.Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	return &cp
}

func (m *MockJobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	if _, exists := m.jobs[job.ID]; exists {
		return domain.ErrAlreadyExists
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

// enqueueLocked lets the other mock stores insert jobs while already
// holding their own mutex, mirroring the adapters' shared transaction.
func (m *MockJobStore) enqueueLocked(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = copyJob(job)
}

func (m *MockJobStore) Claim(ctx context.Context, workerID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}

	now := time.Now().UTC()
	var oldest *domain.Job
	for _, j := range m.jobs {
		if !j.Claimable(now) {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.MarkRunning(workerID, m.lease)
	return copyJob(oldest), nil
}

func (m *MockJobStore) Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusRunning || job.ClaimedBy != workerID {
		return domain.ErrInvalidState
	}
	job.MarkCompleted(result)
	return nil
}

func (m *MockJobStore) Fail(ctx context.Context, jobID, workerID string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusRunning || job.ClaimedBy != workerID {
		return domain.ErrInvalidState
	}
	job.MarkFailed(errMsg)
	return nil
}

func (m *MockJobStore) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return domain.ErrInvalidState
	}
	job.MarkFailed("cancelled")
	return nil
}

func (m *MockJobStore) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusRunning || job.ClaimedBy != workerID {
		return domain.ErrInvalidState
	}
	expires := time.Now().UTC().Add(lease)
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(job), nil
}

func (m *MockJobStore) List(ctx context.Context, filter driven.JobFilter) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		if !filter.CompletedAfter.IsZero() {
			if j.CompletedAt == nil || j.CompletedAt.Before(filter.CompletedAfter) {
				continue
			}
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockJobStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	purged := 0
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MockJobStore) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	var oldestPending *time.Time
	for _, j := range m.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			stats.Pending++
			if oldestPending == nil || j.CreatedAt.Before(*oldestPending) {
				t := j.CreatedAt
				oldestPending = &t
			}
		case domain.JobStatusRunning:
			stats.Running++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		}
	}
	if oldestPending != nil {
		stats.OldestPendingAge = time.Since(*oldestPending)
	}
	return stats, nil
}

func (m *MockJobStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

func (m *MockJobStore) Close() error { return nil }

// Helper methods for testing

// Jobs returns a snapshot of every stored job.
func (m *MockJobStore) Jobs() []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// JobsOfType returns a snapshot of stored jobs with the given type.
func (m *MockJobStore) JobsOfType(jobType domain.JobType) []*domain.Job {
	var out []*domain.Job
	for _, j := range m.Jobs() {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

// SetClaimErr swaps the Claim fault while claimers may be running.
func (m *MockJobStore) SetClaimErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClaimErr = err
}

// ExpireLease forces a running job's lease into the past, simulating a
// crashed worker whose heartbeat stopped.
func (m *MockJobStore) ExpireLease(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok && job.Status == domain.JobStatusRunning {
		past := time.Now().UTC().Add(-time.Second)
		job.LeaseExpiresAt = &past
	}
}

// Reset clears all jobs (useful between tests).
func (m *MockJobStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[string]*domain.Job)
}
