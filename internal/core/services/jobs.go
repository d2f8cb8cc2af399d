package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
	"github.com/drafterhq/drafter-core/internal/core/ports/driving"
)

// Ensure jobService implements JobService
var _ driving.JobService = (*jobService)(nil)

// jobService exposes queue visibility plus the two caller mutations:
// cancelling an unclaimed job and retrying a failed one with a fresh job.
type jobService struct {
	jobs     driven.JobStore
	audit    driven.AuditStore
	notifier driven.JobNotifier
	logger   *slog.Logger
}

// NewJobService creates a new JobService.
func NewJobService(
	jobs driven.JobStore,
	audit driven.AuditStore,
	notifier driven.JobNotifier,
	logger *slog.Logger,
) driving.JobService {
	if notifier == nil {
		notifier = driven.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &jobService{
		jobs:     jobs,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// Get retrieves a job by id.
func (s *jobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List retrieves jobs matching the filter, newest first.
func (s *jobService) List(ctx context.Context, filter driven.JobFilter) ([]*domain.Job, error) {
	return s.jobs.List(ctx, filter)
}

// Cancel terminates a PENDING job before any worker claims it.
func (s *jobService) Cancel(ctx context.Context, id string) error {
	if err := s.jobs.Cancel(ctx, id); err != nil {
		return err
	}
	s.record(ctx, domain.NewAuditEntry("job", id, domain.AuditJobCancelled, nil))
	s.logger.Info("job cancelled", "job_id", id)
	return nil
}

// Retry enqueues a fresh job with the same type and payload as a FAILED
// one. The original job is untouched; every execution attempt stays
// visible in the queue history.
func (s *jobService) Retry(ctx context.Context, id string) (*domain.Job, error) {
	failed, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.Status != domain.JobStatusFailed {
		return nil, fmt.Errorf("%w: job %s is %s, only FAILED jobs can be retried", domain.ErrInvalidState, id, failed.Status)
	}

	fresh, err := domain.NewJob(failed.Type, failed.Payload)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Enqueue(ctx, fresh); err != nil {
		return nil, err
	}

	s.record(ctx, domain.NewAuditEntry("job", fresh.ID, domain.AuditJobRetried, map[string]string{
		"failed_job_id": id,
	}))
	s.notify(ctx, fresh.Type)
	s.logger.Info("failed job retried", "failed_job_id", id, "job_id", fresh.ID, "type", fresh.Type)
	return fresh, nil
}

// Stats summarizes queue depth per status.
func (s *jobService) Stats(ctx context.Context) (*driven.QueueStats, error) {
	return s.jobs.Stats(ctx)
}

func (s *jobService) record(ctx context.Context, entry *domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit entry", "action", entry.Action, "error", err)
	}
}

func (s *jobService) notify(ctx context.Context, jobType domain.JobType) {
	if err := s.notifier.Publish(ctx, jobType); err != nil {
		s.logger.Debug("job notification dropped", "job_type", jobType, "error", err)
	}
}
