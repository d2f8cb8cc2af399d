package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
	"github.com/drafterhq/drafter-core/internal/core/services"
)

// Worker claims jobs from the durable queue and dispatches them through a
// handler table keyed by job type. The database is the source of truth:
// polling alone keeps the system correct, and the optional notifier only
// shortens the idle wait between polls.
type Worker struct {
	jobs     driven.JobStore
	notifier driven.JobNotifier
	logger   *slog.Logger

	workerID     string
	concurrency  int
	pollInterval time.Duration
	claimTimeout time.Duration
	lease        time.Duration
	heartbeat    time.Duration

	handlers map[domain.JobType]services.StageHandler

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	wakeCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Jobs     driven.JobStore
	Notifier driven.JobNotifier // Optional: wakes idle loops when jobs are published
	Logger   *slog.Logger

	WorkerID     string        // Claim owner recorded on every job (default: "worker")
	Concurrency  int           // Number of concurrent claim loops (default: 1)
	PollInterval time.Duration // Idle wait between claim attempts (default: 2s)
	ClaimTimeout time.Duration // Upper bound on a single claim call (default: 5s)
	Lease        time.Duration // Lease duration applied on each heartbeat (default: 2m)
	Heartbeat    time.Duration // Lease refresh cadence while a handler runs (default: Lease/4)
}

// NewWorker creates a worker with an empty handler table. Register the
// pipeline's handlers before calling Start.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker"
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	claimTimeout := cfg.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = 5 * time.Second
	}

	lease := cfg.Lease
	if lease <= 0 {
		lease = 2 * time.Minute
	}

	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = lease / 4
	}

	return &Worker{
		jobs:         cfg.Jobs,
		notifier:     cfg.Notifier,
		logger:       logger.With("worker_id", workerID),
		workerID:     workerID,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		claimTimeout: claimTimeout,
		lease:        lease,
		heartbeat:    heartbeat,
		handlers:     make(map[domain.JobType]services.StageHandler),
		wakeCh:       make(chan struct{}, 1),
	}
}

// Register installs the handler for a job type. Registration is wiring-time
// configuration and must happen before Start.
func (w *Worker) Register(jobType domain.JobType, handler services.StageHandler) {
	w.handlers[jobType] = handler
}

// Start begins the claim loops. It runs until Stop is called or the context
// is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
		"handlers", len(w.handlers),
	)

	var wg sync.WaitGroup

	if w.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.listen(ctx)
		}()
	}

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(loop int) {
			defer wg.Done()
			w.processLoop(ctx, loop)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight handlers finish first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// listen forwards job notifications into the wake channel. Losing the
// subscription degrades to polling, never to an error.
func (w *Worker) listen(ctx context.Context) {
	ch, err := w.notifier.Subscribe(ctx)
	if err != nil {
		w.logger.Warn("job notifications unavailable, relying on polling", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case _, ok := <-ch:
			if !ok {
				w.logger.Warn("job notification stream closed, relying on polling")
				return
			}
			select {
			case w.wakeCh <- struct{}{}:
			default:
			}
		}
	}
}

// processLoop is one claim loop: claim, dispatch, settle, repeat.
func (w *Worker) processLoop(ctx context.Context, loop int) {
	logger := w.logger.With("loop", loop)
	logger.Info("worker loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		claimCtx, cancel := context.WithTimeout(ctx, w.claimTimeout)
		job, err := w.jobs.Claim(claimCtx, w.workerID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				// Parent cancelled; the select above exits the loop.
				continue
			}
			logger.Error("failed to claim job", "error", err)
			w.idle(ctx, time.Second) // Back off on error
			continue
		}
		if job == nil {
			w.idle(ctx, w.pollInterval)
			continue
		}

		w.processJob(ctx, job, logger)
	}
}

// idle waits out the poll interval unless a notification, stop signal, or
// cancellation arrives first.
func (w *Worker) idle(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-w.wakeCh:
	case <-timer.C:
	}
}

// processJob dispatches one claimed job and settles it. Handler errors fail
// the job terminally; they are never retried in place.
func (w *Worker) processJob(ctx context.Context, job *domain.Job, logger *slog.Logger) {
	logger = logger.With("job_id", job.ID, "job_type", job.Type)
	logger.Info("job claimed")

	handler, ok := w.handlers[job.Type]
	if !ok {
		logger.Error("no handler registered")
		w.fail(ctx, job, fmt.Sprintf("no handler registered for job type %s", job.Type), logger)
		return
	}

	// The heartbeat keeps the lease alive for as long as the handler runs;
	// if this process dies instead, the lease expires and the job becomes
	// claimable again.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.heartbeatLoop(hbCtx, job, logger)
	}()

	start := time.Now()
	result, err := w.dispatch(ctx, job, handler)
	stopHeartbeat()
	hb.Wait()
	duration := time.Since(start)

	if err != nil {
		logger.Error("job failed", "duration", duration, "error", err)
		w.fail(ctx, job, err.Error(), logger)
		return
	}

	if err := w.jobs.Complete(ctx, job.ID, w.workerID, result); err != nil {
		// The lease was likely reclaimed; whoever holds the claim now owns
		// the settlement.
		logger.Warn("failed to complete job", "duration", duration, "error", err)
		return
	}
	logger.Info("job completed", "duration", duration)
}

// dispatch runs the handler, converting panics into job failures so one bad
// payload never takes the loop down.
func (w *Worker) dispatch(ctx context.Context, job *domain.Job, handler services.StageHandler) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked",
				"job_id", job.ID,
				"job_type", job.Type,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) fail(ctx context.Context, job *domain.Job, msg string, logger *slog.Logger) {
	if err := w.jobs.Fail(ctx, job.ID, w.workerID, msg); err != nil {
		logger.Error("failed to record job failure", "error", err)
	}
}

// heartbeatLoop refreshes the job's lease until the handler returns. A
// failed extension means the claim is gone; the loop stops and leaves the
// settlement race to the store's claimed_by guard.
func (w *Worker) heartbeatLoop(ctx context.Context, job *domain.Job, logger *slog.Logger) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.ExtendLease(ctx, job.ID, w.workerID, w.lease); err != nil {
				logger.Warn("lease extension failed", "job_id", job.ID, "error", err)
				return
			}
		}
	}
}

// Health reports worker liveness and queue reachability.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.jobs.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
