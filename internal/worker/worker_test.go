package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// enqueueParse puts a fresh PENDING parse job in the store and returns it.
func enqueueParse(t *testing.T, jobs *mocks.MockJobStore, versionID string) *domain.Job {
	t.Helper()
	job, err := domain.NewParseJob(versionID)
	if err != nil {
		t.Fatalf("NewParseJob: %v", err)
	}
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

// waitForStatus polls the store until the job reaches the wanted status or
// the deadline passes.
func waitForStatus(t *testing.T, jobs *mocks.MockJobStore, jobID string, want domain.JobStatus) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := jobs.Get(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, currently %s (error %q)", jobID, want, job.Status, job.Error)
	return nil
}

func TestWorkerDefaults(t *testing.T) {
	w := NewWorker(WorkerConfig{Jobs: mocks.NewMockJobStore()})

	if w.workerID != "worker" {
		t.Errorf("workerID = %q, want %q", w.workerID, "worker")
	}
	if w.concurrency != 1 {
		t.Errorf("concurrency = %d, want 1", w.concurrency)
	}
	if w.pollInterval != 2*time.Second {
		t.Errorf("pollInterval = %s, want 2s", w.pollInterval)
	}
	if w.lease != 2*time.Minute {
		t.Errorf("lease = %s, want 2m", w.lease)
	}
	if w.heartbeat != 30*time.Second {
		t.Errorf("heartbeat = %s, want lease/4 = 30s", w.heartbeat)
	}
	if w.logger == nil {
		t.Error("expected default logger")
	}
}

func TestWorkerProcessesJob(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	job := enqueueParse(t, jobs, "tv-1")

	var got atomic.Pointer[domain.Job]
	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 20 * time.Millisecond,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		got.Store(job)
		return json.RawMessage(`{"parsed_model_ref":"sha256:abc"}`), nil
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	done := waitForStatus(t, jobs, job.ID, domain.JobStatusCompleted)
	if string(done.Result) != `{"parsed_model_ref":"sha256:abc"}` {
		t.Errorf("result = %s, want handler output", done.Result)
	}
	handled := got.Load()
	if handled == nil || handled.ID != job.ID {
		t.Error("handler did not receive the claimed job")
	}
	if handled.Status != domain.JobStatusRunning {
		t.Errorf("handler saw status %s, want RUNNING", handled.Status)
	}
}

func TestWorkerFailsJobOnHandlerError(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	job := enqueueParse(t, jobs, "tv-1")

	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 20 * time.Millisecond,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		return nil, errors.New("source blob missing")
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	failed := waitForStatus(t, jobs, job.ID, domain.JobStatusFailed)
	if failed.Error != "source blob missing" {
		t.Errorf("error = %q, want handler error", failed.Error)
	}
}

func TestWorkerRecoversFromHandlerPanic(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	first := enqueueParse(t, jobs, "tv-panic")

	var calls atomic.Int64
	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 20 * time.Millisecond,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			panic("nil model")
		}
		return json.RawMessage(`{}`), nil
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	failed := waitForStatus(t, jobs, first.ID, domain.JobStatusFailed)
	if !strings.Contains(failed.Error, "handler panic") {
		t.Errorf("error = %q, want panic marker", failed.Error)
	}

	// The loop must survive the panic and keep claiming.
	second := enqueueParse(t, jobs, "tv-after")
	waitForStatus(t, jobs, second.ID, domain.JobStatusCompleted)
}

func TestWorkerFailsUnregisteredJobType(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	job, err := domain.NewClassifyJob("tv-1")
	if err != nil {
		t.Fatalf("NewClassifyJob: %v", err)
	}
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 20 * time.Millisecond,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	failed := waitForStatus(t, jobs, job.ID, domain.JobStatusFailed)
	if !strings.Contains(failed.Error, "no handler registered") {
		t.Errorf("error = %q, want unregistered-type message", failed.Error)
	}
}

func TestWorkerWakesOnNotification(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	notifier := mocks.NewMockNotifier()

	w := NewWorker(WorkerConfig{
		Jobs:     jobs,
		Notifier: notifier,
		Logger:   testLogger(),
		// Polling alone would take a minute; only the wake channel can
		// finish this test in time.
		PollInterval: time.Minute,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Let the first claim come up empty so the loop is parked on the
	// wake channel before the job exists.
	time.Sleep(50 * time.Millisecond)
	job := enqueueParse(t, jobs, "tv-1")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		// Republish until the subscription is live; extra wakes are
		// harmless.
		if err := notifier.Publish(context.Background(), domain.JobTypeParse); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		got, err := jobs.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == domain.JobStatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("notification did not wake the worker before the poll interval")
}

func TestWorkerHeartbeatExtendsLease(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	job := enqueueParse(t, jobs, "tv-1")

	release := make(chan struct{})
	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 20 * time.Millisecond,
		// The store claims with a 5 minute lease; each heartbeat pushes
		// expiry out by 10 minutes, so seeing an expiry beyond 6 minutes
		// proves the heartbeat ran.
		Lease:     10 * time.Minute,
		Heartbeat: 15 * time.Millisecond,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	})

	start := time.Now()
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	extended := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := jobs.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.LeaseExpiresAt != nil && got.LeaseExpiresAt.After(start.Add(6*time.Minute)) {
			extended = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(release)
	if !extended {
		t.Fatal("lease was never extended while the handler was running")
	}

	waitForStatus(t, jobs, job.ID, domain.JobStatusCompleted)
}

func TestWorkerSurvivesClaimErrors(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	jobs.ClaimErr = errors.New("connection reset")

	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 20 * time.Millisecond,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Give the loop a failing claim or two, then heal the store.
	time.Sleep(30 * time.Millisecond)
	jobs.SetClaimErr(nil)

	job := enqueueParse(t, jobs, "tv-1")
	waitForStatus(t, jobs, job.ID, domain.JobStatusCompleted)
}

func TestWorkerStartStop(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 20 * time.Millisecond,
	})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	health := w.Health(ctx)
	if !health.Running {
		t.Error("expected running after Start")
	}

	w.Stop()
	w.Stop() // second Stop must not panic

	health = w.Health(ctx)
	if health.Running {
		t.Error("expected stopped after Stop")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		PollInterval: 10 * time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("worker did not exit after context cancellation")
		w.Stop()
	}
}

func TestWorkerHealth(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	w := NewWorker(WorkerConfig{Jobs: jobs, Logger: testLogger()})

	health := w.Health(context.Background())
	if health.Running {
		t.Error("expected not running before Start")
	}
	if !health.QueueHealth {
		t.Error("expected healthy queue")
	}

	jobs.PingErr = errors.New("connection refused")
	health = w.Health(context.Background())
	if health.QueueHealth {
		t.Error("expected unhealthy queue")
	}
	if health.Error != "connection refused" {
		t.Errorf("health error = %q, want ping error", health.Error)
	}
}

func TestWorkerConcurrentClaims(t *testing.T) {
	jobs := mocks.NewMockJobStore()
	const total = 8
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		job := enqueueParse(t, jobs, "tv-1")
		ids = append(ids, job.ID)
	}

	var inFlight, peak atomic.Int64
	w := NewWorker(WorkerConfig{
		Jobs:         jobs,
		Logger:       testLogger(),
		Concurrency:  4,
		PollInterval: 20 * time.Millisecond,
	})
	w.Register(domain.JobTypeParse, func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return json.RawMessage(`{}`), nil
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	for _, id := range ids {
		waitForStatus(t, jobs, id, domain.JobStatusCompleted)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want parallel claims across loops", peak.Load())
	}
}
