package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven/mocks"
	"github.com/drafterhq/drafter-core/internal/core/ports/driving"
)

type jobServiceFixture struct {
	jobs     *mocks.MockJobStore
	audit    *mocks.MockAuditStore
	notifier *mocks.MockNotifier
	svc      driving.JobService
}

func newJobServiceFixture(t *testing.T) *jobServiceFixture {
	t.Helper()
	f := &jobServiceFixture{
		jobs:     mocks.NewMockJobStore(),
		audit:    mocks.NewMockAuditStore(),
		notifier: mocks.NewMockNotifier(),
	}
	f.svc = NewJobService(f.jobs, f.audit, f.notifier, testLogger())
	return f
}

func (f *jobServiceFixture) enqueueParse(t *testing.T, versionID string) *domain.Job {
	t.Helper()
	job, err := domain.NewParseJob(versionID)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Enqueue(context.Background(), job))
	return job
}

func TestJobServiceCancelPendingJob(t *testing.T) {
	ctx := context.Background()
	f := newJobServiceFixture(t)
	job := f.enqueueParse(t, "tv-1")

	require.NoError(t, f.svc.Cancel(ctx, job.ID))

	got, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.Error)
	assert.Contains(t, f.audit.Actions(), domain.AuditJobCancelled)
}

func TestJobServiceCancelClaimedJobRejected(t *testing.T) {
	ctx := context.Background()
	f := newJobServiceFixture(t)
	job := f.enqueueParse(t, "tv-1")

	_, err := f.jobs.Claim(ctx, "worker-1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Cancel(ctx, job.ID), domain.ErrInvalidState)
	assert.NotContains(t, f.audit.Actions(), domain.AuditJobCancelled,
		"audit recorded a cancel that was rejected")
}

func TestJobServiceRetryFailedJob(t *testing.T) {
	ctx := context.Background()
	f := newJobServiceFixture(t)
	job := f.enqueueParse(t, "tv-1")

	claimed, err := f.jobs.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, f.jobs.Fail(ctx, claimed.ID, "worker-1", "parser crashed"))

	fresh, err := f.svc.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, fresh.ID,
		"Retry() reused the failed job id instead of enqueuing a fresh one")
	assert.Equal(t, job.Type, fresh.Type)
	assert.Equal(t, job.Payload, fresh.Payload)

	stored, err := f.jobs.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)

	original, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, original.Status, "original job must stay FAILED")

	assert.Contains(t, f.notifier.Published(), domain.JobTypeParse)

	retried := false
	for _, entry := range f.audit.Entries() {
		if entry.Action == domain.AuditJobRetried && entry.Metadata["failed_job_id"] == job.ID {
			retried = true
		}
	}
	assert.True(t, retried, "audit is missing the retry record referencing the failed job")
}

func TestJobServiceRetryRequiresFailedJob(t *testing.T) {
	ctx := context.Background()
	f := newJobServiceFixture(t)

	pending := f.enqueueParse(t, "tv-1")
	_, err := f.svc.Retry(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	running := f.enqueueParse(t, "tv-2")
	_, err = f.jobs.Claim(ctx, "worker-1")
	require.NoError(t, err)
	_, err = f.svc.Retry(ctx, running.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.Retry(ctx, "job-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobServiceListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	f := newJobServiceFixture(t)
	f.enqueueParse(t, "tv-1")
	f.enqueueParse(t, "tv-2")

	_, err := f.jobs.Claim(ctx, "worker-1")
	require.NoError(t, err)

	pending, err := f.svc.List(ctx, driven.JobFilter{Status: domain.JobStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestJobServiceStats(t *testing.T) {
	ctx := context.Background()
	f := newJobServiceFixture(t)
	f.enqueueParse(t, "tv-1")
	f.enqueueParse(t, "tv-2")
	_, err := f.jobs.Claim(ctx, "worker-1")
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Running)
	assert.GreaterOrEqual(t, stats.OldestPendingAge, time.Duration(0))
}
