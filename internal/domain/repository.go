package domain

import "context"

// JobRepository defines persistence for transform jobs. Transition methods
// are atomic single-row writes; the status invariant is enforced in SQL so a
// stale re-delivered task can never resurrect a completed job.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// TransitionToRunning moves a pending or running job to running and
	// increments its attempt counter. Returns ErrAlreadyFinal when the job
	// has already reached a terminal state.
	TransitionToRunning(ctx context.Context, jobID string) error
	FinalizeSuccess(ctx context.Context, jobID string, output *JobOutput) error
	FinalizeFailure(ctx context.Context, jobID string, jobErr JobError) error
	RecordProgress(ctx context.Context, progress JobProgress) error
	GetProgress(ctx context.Context, jobID string) (*JobProgress, error)
}

// SessionRepository is the single writer of session-level result media.
type SessionRepository interface {
	SetResultMedia(ctx context.Context, sessionID string, ref MediaRef) error
	GetResultMedia(ctx context.Context, sessionID string) (*MediaRef, error)
}
