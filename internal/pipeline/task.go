// Package pipeline contains the transform task orchestrator: it owns every
// Job and Session write in the system and is the single place executor
// failures are classified. Executors compute; the orchestrator decides.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"clementine/internal/domain"
	"clementine/internal/infra"
	"clementine/internal/outcome"
)

// Runner drives one transform job per task delivery through the
// pending -> running -> succeeded/failed state machine.
type Runner struct {
	jobs     domain.JobRepository
	sessions domain.SessionRepository
	registry *outcome.Registry
	logger   infra.Logger
}

// NewRunner wires the orchestrator.
func NewRunner(jobs domain.JobRepository, sessions domain.SessionRepository, registry *outcome.Registry, logger infra.Logger) *Runner {
	return &Runner{
		jobs:     jobs,
		sessions: sessions,
		registry: registry,
		logger:   logger,
	}
}

// Run processes one delivery of a transform task. A nil return acknowledges
// the delivery; a non-nil return asks the queue to re-deliver. Terminal
// outcomes are finalized here and always acknowledged — the queue only ever
// retries transient conditions.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	log := r.logger.With().Str("job_id", jobID).Logger()

	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Error().Msg("pipeline: task references unknown job, dropping")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}

	// Re-delivery guard: a job that already finished is acknowledged
	// without re-invoking its executor.
	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("pipeline: job already terminal, acknowledging re-delivery")
		return nil
	}

	if err := r.jobs.TransitionToRunning(ctx, job.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyFinal) {
			log.Info().Msg("pipeline: lost transition race to a finished attempt, acknowledging")
			return nil
		}
		return fmt.Errorf("transition to running: %w", err)
	}

	startedAt := time.Now().UTC()
	tempDir, err := os.MkdirTemp("", "transform-"+job.ID+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			log.Warn().Err(rmErr).Str("temp_dir", tempDir).Msg("pipeline: temp dir cleanup failed")
		}
	}()

	executor, ok := r.registry.Resolve(job.OutcomeType)
	if !ok {
		// Recognized outcome type with no executor built: an operator
		// rollout state, finalized without retry.
		log.Error().Str("outcome_type", string(job.OutcomeType)).Msg("pipeline: no executor registered for outcome type")
		return r.finalize(ctx, log, job.ID, domain.JobError{
			Kind:    domain.FailureConfig,
			Message: fmt.Sprintf("outcome type %q is not available yet", job.OutcomeType),
		})
	}

	output, execErr := executor.Execute(ctx, &outcome.Context{
		Job:       job,
		StartedAt: startedAt,
		TempDir:   tempDir,
		Progress:  r.progressFunc(ctx, job.ID),
	})
	if execErr != nil {
		kind := domain.KindOf(execErr)
		if kind == domain.FailureRetryable {
			log.Warn().Err(execErr).Int("attempt", job.Attempts+1).Msg("pipeline: retryable failure, deferring to queue")
			return execErr
		}
		log.Error().Err(execErr).Str("kind", string(kind)).Msg("pipeline: terminal failure")
		return r.finalize(ctx, log, job.ID, domain.JobError{Kind: kind, Message: domain.GuestMessage(execErr)})
	}

	if err := r.jobs.FinalizeSuccess(ctx, job.ID, output); err != nil {
		if errors.Is(err, domain.ErrAlreadyFinal) {
			return nil
		}
		return fmt.Errorf("finalize success: %w", err)
	}

	// Best-effort secondary write: the job document is the source of
	// truth, so a failed projection is reported, never rolled back.
	if err := r.sessions.SetResultMedia(ctx, job.SessionID, domain.MediaRefFromOutput(output)); err != nil {
		log.Error().Err(err).Str("session_id", job.SessionID).
			Msg("pipeline: result media update failed, job remains succeeded")
	}

	log.Info().Str("url", output.URL).Int64("duration_ms", output.DurationMillis).Msg("pipeline: job succeeded")
	return nil
}

// Abandon finalizes a job whose task exhausted the queue's attempt budget.
func (r *Runner) Abandon(ctx context.Context, jobID string, cause error) {
	log := r.logger.With().Str("job_id", jobID).Logger()
	log.Error().Err(cause).Msg("pipeline: max attempts exceeded")

	// The individual failures were retryable, but with the budget spent the
	// outcome is permanent; the recorded kind reflects what pollers see.
	err := r.jobs.FinalizeFailure(ctx, jobID, domain.JobError{
		Kind:    domain.FailureTerminal,
		Message: "Maximum attempts exceeded",
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyFinal) {
		log.Error().Err(err).Msg("pipeline: abandon finalize failed")
	}
}

func (r *Runner) finalize(ctx context.Context, log infra.Logger, jobID string, jobErr domain.JobError) error {
	if err := r.jobs.FinalizeFailure(ctx, jobID, jobErr); err != nil {
		if errors.Is(err, domain.ErrAlreadyFinal) {
			return nil
		}
		return fmt.Errorf("finalize failure: %w", err)
	}
	log.Info().Str("kind", string(jobErr.Kind)).Str("message", jobErr.Message).Msg("pipeline: job failed")
	return nil
}

// progressFunc forwards executor progress to the repository, clamping the
// percentage so it never regresses within this invocation. Persistence
// errors are logged and swallowed: progress is advisory.
func (r *Runner) progressFunc(ctx context.Context, jobID string) outcome.ProgressFunc {
	var last int
	return func(phase string, percent int) {
		if percent < last {
			percent = last
		}
		if percent > 100 {
			percent = 100
		}
		last = percent
		err := r.jobs.RecordProgress(ctx, domain.JobProgress{JobID: jobID, Phase: phase, Percent: percent})
		if err != nil {
			r.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: progress update failed")
		}
	}
}
