package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobStore = (*JobStore)(nil)

// JobStore implements driven.JobStore on PostgreSQL. Claiming uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never receive
// the same job, and settlement updates are guarded by claimed_by so a
// worker that lost its lease cannot overwrite a reclaimed job.
type JobStore struct {
	db    *DB
	lease time.Duration
}

// NewJobStore creates a job store. lease is the claim duration applied on
// Claim; zero selects the 2 minute default.
func NewJobStore(db *DB, lease time.Duration) *JobStore {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &JobStore{db: db, lease: lease}
}

const jobColumns = `id, type, payload, result, status, error, claimed_by,
	   created_at, updated_at, started_at, completed_at, lease_expires_at`

func (s *JobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (id, type, payload, status, error, claimed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	payload := job.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		[]byte(payload),
		job.Status,
		job.Error,
		job.ClaimedBy,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim atomically hands the oldest claimable job to the worker: a PENDING
// job, or a RUNNING job whose lease has expired. The select and the
// transition to RUNNING commit together; SKIP LOCKED keeps concurrent
// claimers off each other's rows.
func (s *JobStore) Claim(ctx context.Context, workerID string) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	selectQuery := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		   OR (status = $2 AND lease_expires_at < NOW())
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	job, err := scanJob(tx.QueryRowContext(ctx, selectQuery, domain.JobStatusPending, domain.JobStatusRunning))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}

	now := time.Now().UTC()
	expires := now.Add(s.lease)
	updateQuery := `
		UPDATE jobs
		SET status = $1, claimed_by = $2, started_at = $3, lease_expires_at = $4, updated_at = $5
		WHERE id = $6
	`
	if _, err := tx.ExecContext(ctx, updateQuery,
		domain.JobStatusRunning, workerID, now, expires, now, job.ID,
	); err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = domain.JobStatusRunning
	job.ClaimedBy = workerID
	job.StartedAt = &now
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	return job, nil
}

func (s *JobStore) Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = $1, result = $2, error = '', completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5 AND claimed_by = $6
	`
	return s.settle(ctx, jobID, query,
		domain.JobStatusCompleted, nullableJSON(result), now, jobID, domain.JobStatusRunning, workerID)
}

func (s *JobStore) Fail(ctx context.Context, jobID, workerID string, errMsg string) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = $1, error = $2, completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5 AND claimed_by = $6
	`
	return s.settle(ctx, jobID, query,
		domain.JobStatusFailed, errMsg, now, jobID, domain.JobStatusRunning, workerID)
}

func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = $1, error = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return s.settle(ctx, jobID, query,
		domain.JobStatusFailed, now, jobID, domain.JobStatusPending)
}

func (s *JobStore) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET lease_expires_at = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND claimed_by = $5
	`
	return s.settle(ctx, jobID, query,
		now.Add(lease), now, jobID, domain.JobStatusRunning, workerID)
}

// settle runs a guarded update and translates "no rows" into the reason:
// ErrNotFound for a missing job, ErrInvalidState when the guard failed.
func (s *JobStore) settle(ctx context.Context, jobID, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)", jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidState
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (s *JobStore) List(ctx context.Context, filter driven.JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argIndex := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, filter.Type)
		argIndex++
	}
	if !filter.CompletedAfter.IsZero() {
		query += fmt.Sprintf(" AND completed_at > $%d", argIndex)
		args = append(args, filter.CompletedAfter)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	query := `
		DELETE FROM jobs
		WHERE status IN ($1, $2)
		  AND completed_at < $3
	`
	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCompleted, domain.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *JobStore) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusPending:
			stats.Pending = count
		case domain.JobStatusRunning:
			stats.Running = count
		case domain.JobStatusCompleted:
			stats.Completed = count
		case domain.JobStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	ageQuery := `
		SELECT EXTRACT(EPOCH FROM (NOW() - MIN(created_at)))::bigint
		FROM jobs
		WHERE status = $1
	`
	var age sql.NullInt64
	err = s.db.QueryRowContext(ctx, ageQuery, domain.JobStatusPending).Scan(&age)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query oldest age: %w", err)
	}
	if age.Valid {
		stats.OldestPendingAge = time.Duration(age.Int64) * time.Second
	}

	return stats, nil
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the DB connection is managed by the caller.
func (s *JobStore) Close() error {
	return nil
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var payload, result []byte
	var startedAt, completedAt, leaseExpiresAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&result,
		&job.Status,
		&job.Error,
		&job.ClaimedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&leaseExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if leaseExpiresAt.Valid {
		job.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	return &job, nil
}

// nullableJSON maps an empty result to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
