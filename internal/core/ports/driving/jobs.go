package driving

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// JobService exposes queue visibility and the one mutation callers get:
// cancelling a job that no worker has claimed yet.
type JobService interface {
	// Get retrieves a job by id.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// List retrieves jobs matching the filter, newest first.
	List(ctx context.Context, filter driven.JobFilter) ([]*domain.Job, error)

	// Cancel terminates a PENDING job. Fails with domain.ErrInvalidState
	// once a worker holds the claim or the job is terminal.
	Cancel(ctx context.Context, id string) error

	// Retry enqueues a fresh job carrying the same payload as a FAILED
	// one. The failed job stays FAILED; nothing is retried in place.
	Retry(ctx context.Context, id string) (*domain.Job, error)

	// Stats summarizes queue depth per status.
	Stats(ctx context.Context) (*driven.QueueStats, error)
}
