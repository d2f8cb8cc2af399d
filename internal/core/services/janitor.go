package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// janitorLockName serializes sweeps across instances.
const janitorLockName = "janitor"

// Janitor is the periodic maintenance loop: it requeues template versions
// whose pipeline stalled between a job completing and its transition
// landing, and purges terminal jobs past the retention window.
//
// For multi-worker deployments, configure a DistributedLock so only one
// instance sweeps per interval. Sweeps are idempotent either way; the lock
// only avoids duplicate work.
type Janitor struct {
	jobs      driven.JobStore
	templates driven.TemplateStore
	lock      driven.DistributedLock
	logger    *slog.Logger

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	interval     time.Duration
	lockTTL      time.Duration
	lockRequired bool
	retention    time.Duration
	replayWindow time.Duration
}

// JanitorConfig holds configuration for the janitor.
type JanitorConfig struct {
	Jobs      driven.JobStore
	Templates driven.TemplateStore
	Lock      driven.DistributedLock // Optional: coordination across instances
	Logger    *slog.Logger

	Interval     time.Duration // How often to sweep (default: 60s)
	LockTTL      time.Duration // TTL for the distributed lock (default: 2x interval)
	LockRequired bool          // If true, skip the sweep when the lock cannot be acquired
	Retention    time.Duration // Terminal jobs older than this are purged (default: 7d)
	ReplayWindow time.Duration // How far back completed jobs are scanned for stalls (default: 1h)
}

// NewJanitor creates a new janitor.
func NewJanitor(cfg JanitorConfig) *Janitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 2 * interval
	}

	lockRequired := cfg.LockRequired
	if cfg.Lock != nil && !cfg.LockRequired {
		// A provided lock defaults to required; running unlocked with a
		// lock configured is almost always a misconfiguration.
		lockRequired = true
	}

	retention := cfg.Retention
	if retention == 0 {
		retention = 7 * 24 * time.Hour
	}

	replayWindow := cfg.ReplayWindow
	if replayWindow == 0 {
		replayWindow = time.Hour
	}

	return &Janitor{
		jobs:         cfg.Jobs,
		templates:    cfg.Templates,
		lock:         cfg.Lock,
		logger:       logger,
		interval:     interval,
		lockTTL:      lockTTL,
		lockRequired: lockRequired,
		retention:    retention,
		replayWindow: replayWindow,
	}
}

// Start begins the janitor loop. It runs until Stop is called or the
// context is cancelled.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	j.logger.Info("janitor starting", "interval", j.interval, "retention", j.retention)

	go j.run(ctx)

	return nil
}

// Stop gracefully stops the janitor.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopCh)
	j.mu.Unlock()

	<-j.doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()

	j.logger.Info("janitor stopped")
}

// run is the main janitor loop.
func (j *Janitor) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Sweep immediately on start
	j.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor context cancelled")
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass: replay stalled transitions, then purge
// old terminal jobs. If a distributed lock is configured it is held for
// the duration of the pass so concurrent instances do not double-enqueue.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.lock != nil {
		acquired, err := j.lock.Acquire(ctx, janitorLockName, j.lockTTL)
		if err != nil {
			j.logger.Warn("failed to acquire janitor lock", "error", err)
			if j.lockRequired {
				return // Skip this cycle
			}
		} else if !acquired {
			j.logger.Debug("janitor lock held by another instance, skipping cycle")
			return
		} else {
			defer func() {
				if err := j.lock.Release(ctx, janitorLockName); err != nil {
					j.logger.Warn("failed to release janitor lock", "error", err)
				}
			}()
		}
	}

	j.replayStalled(ctx)
	j.purgeTerminal(ctx)
}

// replayStalled requeues pipeline stages for template versions that have a
// COMPLETED job but never advanced, which happens when a worker dies
// between committing the job result and the state transition landing (or
// after operator surgery on the database). Re-enqueued stages are replay
// no-ops when the version advanced in the meantime.
func (j *Janitor) replayStalled(ctx context.Context) {
	for _, jobType := range []domain.JobType{domain.JobTypeParse, domain.JobTypeClassify} {
		completed, err := j.jobs.List(ctx, driven.JobFilter{
			Status:         domain.JobStatusCompleted,
			Type:           jobType,
			CompletedAfter: time.Now().UTC().Add(-j.replayWindow),
		})
		if err != nil {
			j.logger.Error("failed to list completed jobs", "type", jobType, "error", err)
			continue
		}
		if len(completed) == 0 {
			continue
		}

		live, err := j.liveVersionIDs(ctx, jobType)
		if err != nil {
			j.logger.Error("failed to list live jobs", "type", jobType, "error", err)
			continue
		}

		for _, job := range completed {
			versionID, err := versionIDFromPayload(job)
			if err != nil {
				j.logger.Warn("skipping job with undecodable payload", "job_id", job.ID, "error", err)
				continue
			}
			if live[versionID] {
				continue
			}

			version, err := j.templates.GetVersion(ctx, versionID)
			if err != nil {
				continue
			}
			if !stalledAfter(jobType, version.State) {
				continue
			}

			if err := j.requeueStage(ctx, jobType, versionID); err != nil {
				j.logger.Error("failed to requeue stalled stage",
					"type", jobType,
					"template_version_id", versionID,
					"error", err,
				)
				continue
			}
			live[versionID] = true
			j.logger.Warn("requeued stalled pipeline stage",
				"type", jobType,
				"template_version_id", versionID,
				"state", version.State,
				"completed_job_id", job.ID,
			)
		}
	}
}

// liveVersionIDs collects the template versions that already have a
// PENDING or RUNNING job of the given type, so replay never double-queues.
func (j *Janitor) liveVersionIDs(ctx context.Context, jobType domain.JobType) (map[string]bool, error) {
	live := make(map[string]bool)
	for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning} {
		jobs, err := j.jobs.List(ctx, driven.JobFilter{Status: status, Type: jobType})
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			versionID, err := versionIDFromPayload(job)
			if err != nil {
				continue
			}
			live[versionID] = true
		}
	}
	return live, nil
}

// requeueStage enqueues a fresh job of the given stage for the version.
func (j *Janitor) requeueStage(ctx context.Context, jobType domain.JobType, versionID string) error {
	var job *domain.Job
	var err error
	switch jobType {
	case domain.JobTypeParse:
		job, err = domain.NewParseJob(versionID)
	case domain.JobTypeClassify:
		job, err = domain.NewClassifyJob(versionID)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return j.jobs.Enqueue(ctx, job)
}

// purgeTerminal removes COMPLETED and FAILED jobs past the retention
// window. The audit log keeps the long-term record.
func (j *Janitor) purgeTerminal(ctx context.Context) {
	purged, err := j.jobs.Purge(ctx, j.retention)
	if err != nil {
		j.logger.Error("failed to purge terminal jobs", "error", err)
		return
	}
	if purged > 0 {
		j.logger.Info("purged terminal jobs", "count", purged, "older_than", j.retention)
	}
}

// stalledAfter reports whether a version state is one this completed job
// type should have moved past.
func stalledAfter(jobType domain.JobType, state domain.TemplateVersionState) bool {
	switch jobType {
	case domain.JobTypeParse:
		return state == domain.VersionStateNotStarted || state == domain.VersionStateParsing
	case domain.JobTypeClassify:
		return state == domain.VersionStateParsed || state == domain.VersionStateClassifying
	}
	return false
}

// versionIDFromPayload extracts the template version a PARSE or CLASSIFY
// job targets. Both payload shapes carry the same field.
func versionIDFromPayload(job *domain.Job) (string, error) {
	var payload domain.ParsePayload
	if err := job.DecodePayload(&payload); err != nil {
		return "", err
	}
	return payload.TemplateVersionID, nil
}
