package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clementine/internal/domain"
	"clementine/internal/outcome"
)

type fakeJobRepo struct {
	jobs map[string]*domain.Job

	transitionErr      error
	finalizeSuccessErr error
	progressErr        error

	transitions       int
	successFinalizes  int
	failureFinalizes  int
	progressRecords   []domain.JobProgress
	lastFailure       domain.JobError
	lastFailureJobID  string
	lastSuccessOutput *domain.JobOutput
}

func newFakeJobRepo(jobs ...*domain.Job) *fakeJobRepo {
	m := make(map[string]*domain.Job)
	for _, j := range jobs {
		m[j.ID] = j
	}
	return &fakeJobRepo{jobs: m}
}

func (f *fakeJobRepo) Create(ctx context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobRepo) TransitionToRunning(ctx context.Context, jobID string) error {
	f.transitions++
	if f.transitionErr != nil {
		return f.transitionErr
	}
	job := f.jobs[jobID]
	if job.Status.Terminal() {
		return domain.ErrAlreadyFinal
	}
	job.Status = domain.JobStatusRunning
	job.Attempts++
	return nil
}

func (f *fakeJobRepo) FinalizeSuccess(ctx context.Context, jobID string, output *domain.JobOutput) error {
	f.successFinalizes++
	if f.finalizeSuccessErr != nil {
		return f.finalizeSuccessErr
	}
	job := f.jobs[jobID]
	if job.Status.Terminal() {
		return domain.ErrAlreadyFinal
	}
	job.Status = domain.JobStatusSucceeded
	job.Output = output
	f.lastSuccessOutput = output
	return nil
}

func (f *fakeJobRepo) FinalizeFailure(ctx context.Context, jobID string, jobErr domain.JobError) error {
	f.failureFinalizes++
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrAlreadyFinal
	}
	job.Status = domain.JobStatusFailed
	job.Error = &jobErr
	f.lastFailure = jobErr
	f.lastFailureJobID = jobID
	return nil
}

func (f *fakeJobRepo) RecordProgress(ctx context.Context, progress domain.JobProgress) error {
	if f.progressErr != nil {
		return f.progressErr
	}
	f.progressRecords = append(f.progressRecords, progress)
	return nil
}

func (f *fakeJobRepo) GetProgress(ctx context.Context, jobID string) (*domain.JobProgress, error) {
	if len(f.progressRecords) == 0 {
		return nil, domain.ErrNotFound
	}
	last := f.progressRecords[len(f.progressRecords)-1]
	return &last, nil
}

type fakeSessionRepo struct {
	setErr  error
	refs    map[string]domain.MediaRef
	setCall int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{refs: make(map[string]domain.MediaRef)}
}

func (f *fakeSessionRepo) SetResultMedia(ctx context.Context, sessionID string, ref domain.MediaRef) error {
	f.setCall++
	if f.setErr != nil {
		return f.setErr
	}
	f.refs[sessionID] = ref
	return nil
}

func (f *fakeSessionRepo) GetResultMedia(ctx context.Context, sessionID string) (*domain.MediaRef, error) {
	ref, ok := f.refs[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ref, nil
}

type scriptedExecutor struct {
	executeFn func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error)
	calls     int
	lastDir   string
}

func (s *scriptedExecutor) Execute(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
	s.calls++
	s.lastDir = oc.TempDir
	return s.executeFn(ctx, oc)
}

func pendingJob(id string) *domain.Job {
	return &domain.Job{
		ID:          id,
		SessionID:   "sess-1",
		ProjectID:   "proj-1",
		OutcomeType: domain.OutcomeAIImage,
		Config:      domain.OutcomeConfig{Prompt: "a red balloon"},
		Status:      domain.JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func succeededOutput() *domain.JobOutput {
	return &domain.JobOutput{
		MediaAssetID: "sess-1-output",
		URL:          "https://cdn.example.com/projects/proj-1/sessions/sess-1/output.jpg",
		FilePath:     "projects/proj-1/sessions/sess-1/output.jpg",
		Format:       domain.FormatImage,
		Width:        1024,
		Height:       1024,
		SizeBytes:    2048,
		CompletedAt:  time.Now().UTC(),
	}
}

func newTestRunner(jobs *fakeJobRepo, sessions *fakeSessionRepo, exec outcome.Executor) *Runner {
	executors := map[domain.OutcomeType]outcome.Executor{}
	if exec != nil {
		executors[domain.OutcomeAIImage] = exec
	}
	return NewRunner(jobs, sessions, outcome.NewRegistry(executors), zerolog.Nop())
}

func TestRunSuccessProjectsResultMedia(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	sessions := newFakeSessionRepo()
	out := succeededOutput()
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		return out, nil
	}}
	runner := newTestRunner(jobs, sessions, exec)

	err := runner.Run(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, jobs.jobs["job-1"].Status)
	assert.Equal(t, 1, jobs.transitions)
	assert.Equal(t, 1, jobs.jobs["job-1"].Attempts)

	ref, err := sessions.GetResultMedia(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, out.URL, ref.URL)
	assert.Equal(t, out.MediaAssetID, ref.MediaAssetID)
}

func TestRunTerminalJobAcknowledgedWithoutExecution(t *testing.T) {
	job := pendingJob("job-1")
	job.Status = domain.JobStatusSucceeded
	jobs := newFakeJobRepo(job)
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		return succeededOutput(), nil
	}}
	runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

	err := runner.Run(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Zero(t, exec.calls, "executor must not run for a finished job")
	assert.Zero(t, jobs.transitions)
	assert.Zero(t, jobs.successFinalizes)
	assert.Zero(t, jobs.failureFinalizes)
}

func TestRunUnknownJobAcknowledged(t *testing.T) {
	runner := newTestRunner(newFakeJobRepo(), newFakeSessionRepo(), nil)

	err := runner.Run(context.Background(), "missing")

	require.NoError(t, err)
}

func TestRunLostTransitionRaceAcknowledged(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	jobs.transitionErr = domain.ErrAlreadyFinal
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		return succeededOutput(), nil
	}}
	runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

	err := runner.Run(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Zero(t, exec.calls)
}

func TestRunMissingExecutorFinalizesConfigFailure(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	runner := newTestRunner(jobs, newFakeSessionRepo(), nil)

	err := runner.Run(context.Background(), "job-1")

	require.NoError(t, err, "config failures are acknowledged, not retried")
	assert.Equal(t, domain.JobStatusFailed, jobs.jobs["job-1"].Status)
	assert.Equal(t, domain.FailureConfig, jobs.lastFailure.Kind)
	assert.Contains(t, jobs.lastFailure.Message, "ai.image")
}

func TestRunTerminalFailureFinalizesJob(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		return nil, domain.Terminal("Video was filtered by safety policy", nil)
	}}
	runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

	err := runner.Run(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, jobs.jobs["job-1"].Status)
	assert.Equal(t, domain.FailureTerminal, jobs.lastFailure.Kind)
	assert.Equal(t, "Video was filtered by safety policy", jobs.lastFailure.Message)
}

func TestRunRetryableFailurePropagatesWithoutFinalize(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	cause := domain.Retryable("upstream overloaded", errors.New("503"))
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		return nil, cause
	}}
	runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

	err := runner.Run(context.Background(), "job-1")

	require.ErrorIs(t, err, cause)
	assert.Zero(t, jobs.failureFinalizes, "retryable failures stay with the queue")
	assert.Equal(t, domain.JobStatusRunning, jobs.jobs["job-1"].Status)
}

func TestRunUnknownErrorTreatedAsRetryable(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	cause := errors.New("connection reset")
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		return nil, cause
	}}
	runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

	err := runner.Run(context.Background(), "job-1")

	require.ErrorIs(t, err, cause)
	assert.Zero(t, jobs.failureFinalizes)
}

func TestRunTempDirRemovedOnSuccessAndFailure(t *testing.T) {
	cases := []struct {
		name string
		fn   func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error)
	}{
		{"success", func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
			return succeededOutput(), nil
		}},
		{"terminal failure", func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
			return nil, domain.Terminal("bad input", nil)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := newFakeJobRepo(pendingJob("job-1"))
			exec := &scriptedExecutor{executeFn: tc.fn}
			runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

			require.NoError(t, runner.Run(context.Background(), "job-1"))

			require.NotEmpty(t, exec.lastDir)
			_, statErr := os.Stat(exec.lastDir)
			assert.True(t, os.IsNotExist(statErr), "temp dir must be removed")
		})
	}
}

func TestRunSessionWriteFailureLeavesJobSucceeded(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	sessions := newFakeSessionRepo()
	sessions.setErr = errors.New("session store down")
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		return succeededOutput(), nil
	}}
	runner := newTestRunner(jobs, sessions, exec)

	err := runner.Run(context.Background(), "job-1")

	require.NoError(t, err, "result media projection is best effort")
	assert.Equal(t, domain.JobStatusSucceeded, jobs.jobs["job-1"].Status)
	assert.Equal(t, 1, sessions.setCall)
}

func TestRunProgressClampedMonotonic(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		oc.Report("generating", 40)
		oc.Report("generating", 20) // regression from a restarted upstream poll
		oc.Report("uploading", 90)
		oc.Report("finalizing", 150)
		return succeededOutput(), nil
	}}
	runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

	require.NoError(t, runner.Run(context.Background(), "job-1"))

	require.Len(t, jobs.progressRecords, 4)
	percents := make([]int, 0, len(jobs.progressRecords))
	for _, p := range jobs.progressRecords {
		percents = append(percents, p.Percent)
	}
	assert.Equal(t, []int{40, 40, 90, 100}, percents)
}

func TestRunProgressPersistenceErrorIgnored(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("job-1"))
	jobs.progressErr = errors.New("progress table unavailable")
	exec := &scriptedExecutor{executeFn: func(ctx context.Context, oc *outcome.Context) (*domain.JobOutput, error) {
		oc.Report("generating", 50)
		return succeededOutput(), nil
	}}
	runner := newTestRunner(jobs, newFakeSessionRepo(), exec)

	err := runner.Run(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, jobs.jobs["job-1"].Status)
}

func TestAbandonFinalizesWithMaxAttempts(t *testing.T) {
	job := pendingJob("job-1")
	job.Status = domain.JobStatusRunning
	jobs := newFakeJobRepo(job)
	runner := newTestRunner(jobs, newFakeSessionRepo(), nil)

	runner.Abandon(context.Background(), "job-1", errors.New("attempt budget exhausted"))

	assert.Equal(t, domain.JobStatusFailed, jobs.jobs["job-1"].Status)
	assert.Equal(t, domain.FailureTerminal, jobs.lastFailure.Kind, "an exhausted job will never retry")
	assert.Equal(t, "Maximum attempts exceeded", jobs.lastFailure.Message)
}

func TestAbandonAlreadyFinalIsNoop(t *testing.T) {
	job := pendingJob("job-1")
	job.Status = domain.JobStatusSucceeded
	jobs := newFakeJobRepo(job)
	runner := newTestRunner(jobs, newFakeSessionRepo(), nil)

	runner.Abandon(context.Background(), "job-1", errors.New("late give-up"))

	assert.Equal(t, domain.JobStatusSucceeded, jobs.jobs["job-1"].Status)
}
