package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobNotifier = (*Notifier)(nil)

// notifyChannel carries job-type wake-ups. The payload is the job type.
const notifyChannel = "drafter:jobs"

// Notifier implements JobNotifier using Redis pub/sub. Delivery is
// at-most-once: a worker that is down or slow simply misses the wake-up
// and falls back to its poll, so nothing here is load-bearing for
// correctness.
type Notifier struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewNotifier creates a Redis-backed job notifier.
func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

// Publish announces a job state change for the given type.
func (n *Notifier) Publish(ctx context.Context, jobType domain.JobType) error {
	if err := n.client.Publish(ctx, notifyChannel, string(jobType)).Err(); err != nil {
		return fmt.Errorf("publish job notification: %w", err)
	}
	return nil
}

// Subscribe returns a channel of job-type wake-ups. The channel is closed
// when ctx is cancelled or the notifier is closed. Wake-ups for a full
// buffer are dropped; the subscriber's poll covers the gap.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan domain.JobType, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, fmt.Errorf("notifier is closed")
	}
	sub := n.client.Subscribe(ctx, notifyChannel)
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	// Wait for the subscription to be confirmed so no publish between
	// Subscribe returning and the reader loop starting is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("confirm subscription: %w", err)
	}

	out := make(chan domain.JobType, 16)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.JobType(msg.Payload):
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close tears down every active subscription; their channels close and
// subscribers fall back to polling.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, sub := range n.subs {
		_ = sub.Close()
	}
	n.subs = nil
	return nil
}
