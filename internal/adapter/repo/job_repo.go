package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clementine/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository. All transitions are
// single-row writes guarded in SQL so terminal states can never regress,
// regardless of how many times the queue re-delivers a task.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record in pending state.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode outcome config: %w", err)
	}
	query := `
INSERT INTO jobs (id, session_id, project_id, outcome_type, outcome_config, status, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.SessionID,
		job.ProjectID,
		job.OutcomeType,
		config,
		domain.JobStatusPending,
		0,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, session_id, project_id, outcome_type, outcome_config, status, attempts, output, error, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)

	var (
		job       domain.Job
		config    []byte
		rawOutput []byte
		rawError  []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&job.ProjectID,
		&job.OutcomeType,
		&config,
		&job.Status,
		&job.Attempts,
		&rawOutput,
		&rawError,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, &job.Config); err != nil {
			return nil, fmt.Errorf("decode outcome config: %w", err)
		}
	}
	if len(rawOutput) > 0 {
		var out domain.JobOutput
		if err := json.Unmarshal(rawOutput, &out); err != nil {
			return nil, fmt.Errorf("decode job output: %w", err)
		}
		job.Output = &out
	}
	if len(rawError) > 0 {
		var jobErr domain.JobError
		if err := json.Unmarshal(rawError, &jobErr); err != nil {
			return nil, fmt.Errorf("decode job error: %w", err)
		}
		job.Error = &jobErr
	}
	return &job, nil
}

// TransitionToRunning moves a pending or re-delivered running job to running
// and increments its attempt counter. A job that already reached a terminal
// state is left untouched and ErrAlreadyFinal is returned.
func (r *JobRepositoryPG) TransitionToRunning(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = $2,
    attempts = attempts + 1,
    updated_at = NOW()
WHERE id = $1
  AND status IN ($3, $2);
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusRunning, domain.JobStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissedTransition(ctx, jobID)
	}
	return nil
}

// FinalizeSuccess records the output and moves the job to succeeded. The
// guard makes a duplicate finalize a no-op rather than a second write.
func (r *JobRepositoryPG) FinalizeSuccess(ctx context.Context, jobID string, output *domain.JobOutput) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode job output: %w", err)
	}
	query := `
UPDATE jobs
SET status = $2,
    output = $3,
    error = NULL,
    updated_at = NOW()
WHERE id = $1
  AND status NOT IN ($4, $5);
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusSucceeded, raw, domain.JobStatusSucceeded, domain.JobStatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissedTransition(ctx, jobID)
	}
	return nil
}

// FinalizeFailure records the failure detail and moves the job to failed.
func (r *JobRepositoryPG) FinalizeFailure(ctx context.Context, jobID string, jobErr domain.JobError) error {
	raw, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("encode job error: %w", err)
	}
	query := `
UPDATE jobs
SET status = $2,
    error = $3,
    updated_at = NOW()
WHERE id = $1
  AND status NOT IN ($4, $2);
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusFailed, raw, domain.JobStatusSucceeded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissedTransition(ctx, jobID)
	}
	return nil
}

// RecordProgress upserts the job's single progress row. GREATEST keeps the
// stored percent monotonic even if updates land out of order.
func (r *JobRepositoryPG) RecordProgress(ctx context.Context, progress domain.JobProgress) error {
	query := `
INSERT INTO job_progress (job_id, phase, percent, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (job_id) DO UPDATE SET
    phase = EXCLUDED.phase,
    percent = GREATEST(job_progress.percent, EXCLUDED.percent),
    updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, query, progress.JobID, progress.Phase, progress.Percent)
	return err
}

// GetProgress fetches the latest progress row for a job.
func (r *JobRepositoryPG) GetProgress(ctx context.Context, jobID string) (*domain.JobProgress, error) {
	query := `
SELECT job_id, phase, percent, updated_at
FROM job_progress
WHERE job_id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var p domain.JobProgress
	if err := row.Scan(&p.JobID, &p.Phase, &p.Percent, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// explainMissedTransition distinguishes "job gone" from "job already
// terminal" after a guarded update touched no rows.
func (r *JobRepositoryPG) explainMissedTransition(ctx context.Context, jobID string) error {
	var status domain.JobStatus
	row := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, jobID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if status.Terminal() {
		return domain.ErrAlreadyFinal
	}
	return fmt.Errorf("job %s in unexpected status %q", jobID, status)
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
