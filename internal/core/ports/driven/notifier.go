package driven

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// JobNotifier is the best-effort wake-up channel keyed by job type. It is
// purely an optimization: delivery is at-most-once and the pipeline stays
// correct with notifications disabled entirely, because workers and the
// janitor also poll.
type JobNotifier interface {
	// Publish announces a job state change for the given type. Errors are
	// for logging only; callers never fail an operation over them.
	Publish(ctx context.Context, jobType domain.JobType) error

	// Subscribe returns a channel of job-type wake-ups. The channel is
	// closed when ctx is cancelled or the notifier is closed. Slow
	// consumers may miss events.
	Subscribe(ctx context.Context) (<-chan domain.JobType, error)

	// Close tears down the notifier's connections.
	Close() error
}

// NopNotifier is the JobNotifier used when no pub/sub backend is
// configured: publishes vanish and subscriptions never fire, leaving
// workers on pure polling.
type NopNotifier struct{}

// Publish discards the notification.
func (NopNotifier) Publish(ctx context.Context, jobType domain.JobType) error { return nil }

// Subscribe returns a channel that never fires and closes with ctx.
func (NopNotifier) Subscribe(ctx context.Context) (<-chan domain.JobType, error) {
	ch := make(chan domain.JobType)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// Close is a no-op.
func (NopNotifier) Close() error { return nil }
