package domain

import "time"

// OutcomeType discriminates which executor handles a transform job.
type OutcomeType string

const (
	OutcomePhoto   OutcomeType = "photo"
	OutcomeAIImage OutcomeType = "ai.image"
	OutcomeAIVideo OutcomeType = "ai.video"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// OutputFormat labels the media kind of a job output.
type OutputFormat string

const (
	FormatImage OutputFormat = "image"
	FormatVideo OutputFormat = "video"
)

// OutcomeConfig holds the type-specific generation parameters for a job.
// Fields that do not apply to a given outcome type are left zero; only the
// persistence layer knows these live in a single jsonb column.
type OutcomeConfig struct {
	Prompt          string  `json:"prompt,omitempty"`
	Model           string  `json:"model,omitempty"`
	AspectRatio     string  `json:"aspectRatio,omitempty"`
	SourceURL       string  `json:"sourceUrl,omitempty"`
	EndFrameURL     *string `json:"endFrameUrl,omitempty"`
	DurationSeconds int     `json:"durationSeconds,omitempty"`
}

// Job encapsulates one unit of asynchronous transform work for a session.
type Job struct {
	ID          string
	SessionID   string
	ProjectID   string
	OutcomeType OutcomeType
	Config      OutcomeConfig
	Status      JobStatus
	Attempts    int
	Output      *JobOutput
	Error       *JobError
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobOutput is the immutable result of a successful executor run. It is set
// on the job exactly once and projected into the session's result media.
type JobOutput struct {
	MediaAssetID   string       `json:"mediaAssetId"`
	URL            string       `json:"url"`
	FilePath       string       `json:"filePath"`
	Format         OutputFormat `json:"format"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	SizeBytes      int64        `json:"sizeBytes"`
	CompletedAt    time.Time    `json:"completedAt"`
	DurationMillis int64        `json:"durationMillis"`
}

// JobError captures the terminal failure detail recorded on a failed job.
type JobError struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// JobProgress is an in-flight status update for a long-running job. Each
// update supersedes the previous one; progress is discarded once the job
// reaches a terminal state.
type JobProgress struct {
	JobID     string
	Phase     string
	Percent   int
	UpdatedAt time.Time
}
