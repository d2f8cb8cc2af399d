package redis

import (
	"context"
	"testing"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

func receiveJobType(t *testing.T, ch <-chan domain.JobType) domain.JobType {
	t.Helper()
	select {
	case jobType, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed early")
		}
		return jobType
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func TestNotifierPublishSubscribe(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	notifier := NewNotifier(client)
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := notifier.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := notifier.Publish(ctx, domain.JobTypeParse); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := receiveJobType(t, ch); got != domain.JobTypeParse {
		t.Errorf("received %s, want %s", got, domain.JobTypeParse)
	}
}

func TestNotifierFanOut(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	notifier := NewNotifier(client)
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := notifier.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := notifier.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := notifier.Publish(ctx, domain.JobTypeGenerate); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := receiveJobType(t, first); got != domain.JobTypeGenerate {
		t.Errorf("first subscriber received %s, want %s", got, domain.JobTypeGenerate)
	}
	if got := receiveJobType(t, second); got != domain.JobTypeGenerate {
		t.Errorf("second subscriber received %s, want %s", got, domain.JobTypeGenerate)
	}
}

func TestNotifierSubscribeClosesOnCancel(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	notifier := NewNotifier(client)
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := notifier.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close without a value")
		}
	case <-time.After(2 * time.Second):
		t.Error("channel did not close after context cancellation")
	}
}

func TestNotifierCloseClosesSubscriptions(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	notifier := NewNotifier(client)

	ctx := context.Background()
	ch, err := notifier.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := notifier.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close without a value")
		}
	case <-time.After(2 * time.Second):
		t.Error("channel did not close after notifier Close")
	}

	if _, err := notifier.Subscribe(ctx); err == nil {
		t.Error("expected Subscribe on a closed notifier to fail")
	}
}

func TestNotifierPublishWithoutSubscribers(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	notifier := NewNotifier(client)
	defer notifier.Close()

	// No subscribers: the notification vanishes, which is fine because
	// workers poll anyway.
	if err := notifier.Publish(context.Background(), domain.JobTypeClassify); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
