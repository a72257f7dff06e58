package outcome

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clementine/internal/domain"
	"clementine/internal/providers/genai"
	"clementine/internal/storage"
)

// VideoGenerator is the slice of the generation client the video executor
// depends on. Video generation is a long-running operation: submit once,
// then poll until done.
type VideoGenerator interface {
	StartVideoGeneration(ctx context.Context, req genai.VideoRequest) (string, error)
	PollVideoOperation(ctx context.Context, name string) (*genai.VideoOperation, error)
	DownloadFile(ctx context.Context, uri, destPath string) error
}

// VideoOptions tunes the executor's poll loop. The timeout ceiling must sit
// comfortably below the queue's task deadline so a timeout is classified by
// the executor rather than produced by an infrastructure kill that would
// leave the job stuck in running.
type VideoOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// AIVideoExecutor drives a long-running video generation to completion.
type AIVideoExecutor struct {
	generator    VideoGenerator
	uploader     Uploader
	httpClient   *http.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// NewAIVideoExecutor builds the ai.video executor.
func NewAIVideoExecutor(generator VideoGenerator, uploader Uploader, httpClient *http.Client, opts VideoOptions) *AIVideoExecutor {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &AIVideoExecutor{
		generator:    generator,
		uploader:     uploader,
		httpClient:   httpClient,
		pollInterval: pollInterval,
		timeout:      timeout,
	}
}

func (e *AIVideoExecutor) Execute(ctx context.Context, oc *Context) (*domain.JobOutput, error) {
	cfg := oc.Job.Config
	if strings.TrimSpace(cfg.Prompt) == "" {
		return nil, domain.Terminal("A prompt is required for video generation", nil)
	}

	req := genai.VideoRequest{
		Prompt:          cfg.Prompt,
		AspectRatio:     cfg.AspectRatio,
		Model:           cfg.Model,
		DurationSeconds: cfg.DurationSeconds,
	}

	if cfg.SourceURL != "" {
		oc.Report("fetching", 2)
		localPath, contentType, err := fetchSource(ctx, e.httpClient, cfg.SourceURL, oc.TempDir, "frame")
		if err != nil {
			return nil, err
		}
		frame, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("read start frame: %w", err)
		}
		req.StartFrame = frame
		req.StartFrameMIME = contentType
	}

	operation, err := e.generator.StartVideoGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	oc.Report("generating", 5)

	uri, err := e.awaitVideo(ctx, oc, operation)
	if err != nil {
		return nil, err
	}

	oc.Report("downloading", 88)
	localPath := filepath.Join(oc.TempDir, "output.mp4")
	if err := e.generator.DownloadFile(ctx, uri, localPath); err != nil {
		return nil, err
	}

	width, height := dimensionsForAspect(cfg.AspectRatio)

	oc.Report("uploading", 95)
	res, err := e.uploader.UploadOutput(ctx, storage.UploadInput{
		LocalPath: localPath,
		ProjectID: oc.Job.ProjectID,
		SessionID: oc.Job.SessionID,
		Format:    domain.FormatVideo,
		Width:     width,
		Height:    height,
		Extension: "mp4",
	})
	if err != nil {
		return nil, domain.Retryable("The generated video could not be saved", err)
	}
	return buildOutput(res, oc.StartedAt), nil
}

// awaitVideo cooperatively polls the operation until it completes, the
// timeout ceiling is hit, or the context is cancelled. Progress scales with
// elapsed time so percent never regresses across polls.
func (e *AIVideoExecutor) awaitVideo(ctx context.Context, oc *Context, operation string) (string, error) {
	started := time.Now()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", domain.Retryable("Video generation was interrupted", ctx.Err())
		case <-ticker.C:
		}

		elapsed := time.Since(started)
		if elapsed > e.timeout {
			return "", domain.Retryable("Video generation timed out", fmt.Errorf("no result after %s", e.timeout))
		}

		op, err := e.generator.PollVideoOperation(ctx, operation)
		if err != nil {
			return "", err
		}
		if !op.Done {
			oc.Report("generating", generationPercent(elapsed, e.timeout))
			continue
		}
		if op.Filtered || op.VideoURI == "" {
			return "", domain.Terminal("Video was filtered by safety policy", nil)
		}
		return op.VideoURI, nil
	}
}

// generationPercent maps elapsed poll time into the 5..85 band.
func generationPercent(elapsed, timeout time.Duration) int {
	if timeout <= 0 {
		return 5
	}
	pct := 5 + int(80*elapsed/timeout)
	if pct > 85 {
		pct = 85
	}
	return pct
}

// dimensionsForAspect picks output pixel dimensions for known aspect ratios.
func dimensionsForAspect(aspect string) (int, int) {
	switch aspect {
	case "9:16":
		return 1080, 1920
	case "1:1":
		return 1080, 1080
	case "4:3":
		return 1440, 1080
	case "3:4":
		return 1080, 1440
	default:
		return 1920, 1080
	}
}

var _ Executor = (*AIVideoExecutor)(nil)
