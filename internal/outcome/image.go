package outcome

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"clementine/internal/domain"
	"clementine/internal/providers/genai"
	"clementine/internal/storage"
)

// ImageGenerator is the slice of the generation client the image executor
// depends on.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req genai.ImageRequest) (*genai.ImageAsset, error)
}

// AIImageExecutor runs one synchronous image generation and publishes the
// result.
type AIImageExecutor struct {
	generator  ImageGenerator
	uploader   Uploader
	httpClient *http.Client
}

// NewAIImageExecutor builds the ai.image executor.
func NewAIImageExecutor(generator ImageGenerator, uploader Uploader, httpClient *http.Client) *AIImageExecutor {
	return &AIImageExecutor{generator: generator, uploader: uploader, httpClient: httpClient}
}

func (e *AIImageExecutor) Execute(ctx context.Context, oc *Context) (*domain.JobOutput, error) {
	cfg := oc.Job.Config
	if strings.TrimSpace(cfg.Prompt) == "" {
		return nil, domain.Terminal("A prompt is required for image generation", nil)
	}

	req := genai.ImageRequest{
		Prompt:      cfg.Prompt,
		AspectRatio: cfg.AspectRatio,
		Model:       cfg.Model,
	}

	if cfg.SourceURL != "" {
		oc.Report("fetching", 5)
		localPath, contentType, err := fetchSource(ctx, e.httpClient, cfg.SourceURL, oc.TempDir, "capture")
		if err != nil {
			return nil, err
		}
		frame, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("read source frame: %w", err)
		}
		req.SourceFrame = frame
		req.SourceFrameMIME = contentType
	}

	oc.Report("generating", 15)
	asset, err := e.generator.GenerateImage(ctx, req)
	if err != nil {
		return nil, err
	}

	ext := storage.ExtensionForContentType(asset.MIMEType)
	if ext == "" {
		ext = "png"
	}
	localPath := filepath.Join(oc.TempDir, "output."+ext)
	if err := os.WriteFile(localPath, asset.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write generated image: %w", err)
	}
	width, height := probeDimensions(localPath)

	oc.Report("uploading", 90)
	res, err := e.uploader.UploadOutput(ctx, storage.UploadInput{
		LocalPath: localPath,
		ProjectID: oc.Job.ProjectID,
		SessionID: oc.Job.SessionID,
		Format:    domain.FormatImage,
		Width:     width,
		Height:    height,
		Extension: ext,
	})
	if err != nil {
		return nil, domain.Retryable("The generated image could not be saved", err)
	}
	return buildOutput(res, oc.StartedAt), nil
}

var _ Executor = (*AIImageExecutor)(nil)
