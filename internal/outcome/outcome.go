// Package outcome hosts the pluggable executors behind a transform job's
// outcome type. Executors are pure compute plus external API orchestration:
// they may write into the supplied temp directory and report progress, but
// never touch job or session persistence — that is the task runner's job.
package outcome

import (
	"context"
	"time"

	"clementine/internal/domain"
	"clementine/internal/storage"
)

// ProgressFunc reports an in-flight phase and percent complete. Percentages
// are expected to be non-decreasing; the task runner clamps regressions.
type ProgressFunc func(phase string, percent int)

// Context carries everything an executor needs for one invocation. The temp
// directory is created and removed by the caller; executors own nothing
// outside it.
type Context struct {
	Job       *domain.Job
	StartedAt time.Time
	TempDir   string
	Progress  ProgressFunc
}

// Report invokes the progress callback when one is wired.
func (c *Context) Report(phase string, percent int) {
	if c.Progress != nil {
		c.Progress(phase, percent)
	}
}

// Executor produces a JobOutput for one outcome type or throws a typed
// domain.Failure. The task runner classifies retryable vs terminal by kind.
type Executor interface {
	Execute(ctx context.Context, oc *Context) (*domain.JobOutput, error)
}

// Uploader is the slice of the storage adapter executors depend on.
type Uploader interface {
	UploadOutput(ctx context.Context, in storage.UploadInput) (*storage.UploadResult, error)
}

// Registry maps outcome types to executors. It is built once at process
// start and immutable afterwards; adding an outcome type is a single entry
// in the wiring map.
type Registry struct {
	executors map[domain.OutcomeType]Executor
}

// NewRegistry copies the given mapping into an immutable registry.
func NewRegistry(executors map[domain.OutcomeType]Executor) *Registry {
	m := make(map[domain.OutcomeType]Executor, len(executors))
	for t, e := range executors {
		m[t] = e
	}
	return &Registry{executors: m}
}

// Resolve returns the executor for an outcome type. ok is false for types
// the schema recognizes but no executor has been built for yet — callers
// treat that as a configuration state, not an exception.
func (r *Registry) Resolve(t domain.OutcomeType) (Executor, bool) {
	e, ok := r.executors[t]
	return e, ok
}

// buildOutput assembles the immutable result record from an upload.
func buildOutput(res *storage.UploadResult, startedAt time.Time) *domain.JobOutput {
	completedAt := time.Now().UTC()
	return &domain.JobOutput{
		MediaAssetID:   res.MediaAssetID,
		URL:            res.URL,
		FilePath:       res.FilePath,
		Format:         res.Format,
		Width:          res.Width,
		Height:         res.Height,
		SizeBytes:      res.SizeBytes,
		CompletedAt:    completedAt,
		DurationMillis: completedAt.Sub(startedAt).Milliseconds(),
	}
}
