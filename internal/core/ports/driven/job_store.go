package driven

import (
	"context"
	"encoding/json"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// JobStore is the durable queue backing the pipeline. It is the source of
// truth for job state; notification delivery is never required for
// correctness (workers poll Claim).
type JobStore interface {
	// Enqueue durably persists a PENDING job before returning.
	// Payload validation against referenced entities happens in the
	// services layer; the store only persists.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Claim atomically hands exactly one claimable job to the worker:
	// either a PENDING job or a RUNNING job whose lease has expired.
	// The transition to RUNNING (claimed_by, started_at, lease) is a
	// single conditional update; concurrent callers never receive the
	// same job. Returns (nil, nil) when nothing is claimable.
	Claim(ctx context.Context, workerID string) (*domain.Job, error)

	// Complete transitions RUNNING -> COMPLETED and records the result.
	// Fails with domain.ErrInvalidState if the job is not RUNNING or is
	// claimed by a different worker.
	Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error

	// Fail transitions RUNNING -> FAILED and records the error. FAILED is
	// terminal; the store never re-queues a failed job.
	Fail(ctx context.Context, jobID, workerID string, errMsg string) error

	// Cancel terminates a PENDING job before any worker claims it.
	// Fails with domain.ErrInvalidState for RUNNING or terminal jobs.
	Cancel(ctx context.Context, jobID string) error

	// ExtendLease refreshes the lease on a RUNNING job so long-running
	// work is not reclaimed. Fails with domain.ErrInvalidState if the job
	// is not RUNNING or is claimed by a different worker.
	ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error

	// Get retrieves a job by id.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// List retrieves jobs matching the filter, newest first.
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)

	// Purge removes terminal jobs older than the given age and returns
	// how many were removed.
	Purge(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats summarizes queue depth per status.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// JobFilter narrows List results. Zero values mean "any".
type JobFilter struct {
	Status domain.JobStatus
	Type   domain.JobType
	// CompletedAfter keeps only jobs that reached a terminal state after
	// this instant. Used by the janitor's replay scan.
	CompletedAfter time.Time
	Limit          int
	Offset         int
}

// QueueStats summarizes the queue for operators.
type QueueStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// OldestPendingAge is zero when the queue is drained.
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
}
