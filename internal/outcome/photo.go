package outcome

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"clementine/internal/domain"
	"clementine/internal/storage"
)

// PhotoExecutor republishes the guest's captured photo as the session
// output without any generation step.
type PhotoExecutor struct {
	uploader   Uploader
	httpClient *http.Client
}

// NewPhotoExecutor builds the passthrough executor.
func NewPhotoExecutor(uploader Uploader, httpClient *http.Client) *PhotoExecutor {
	return &PhotoExecutor{uploader: uploader, httpClient: httpClient}
}

func (e *PhotoExecutor) Execute(ctx context.Context, oc *Context) (*domain.JobOutput, error) {
	cfg := oc.Job.Config
	if strings.TrimSpace(cfg.SourceURL) == "" {
		return nil, domain.Terminal("A captured photo is required for this step", nil)
	}

	oc.Report("fetching", 10)
	localPath, _, err := fetchSource(ctx, e.httpClient, cfg.SourceURL, oc.TempDir, "capture")
	if err != nil {
		return nil, err
	}

	width, height := probeDimensions(localPath)

	oc.Report("uploading", 80)
	res, err := e.uploader.UploadOutput(ctx, storage.UploadInput{
		LocalPath: localPath,
		ProjectID: oc.Job.ProjectID,
		SessionID: oc.Job.SessionID,
		Format:    domain.FormatImage,
		Width:     width,
		Height:    height,
		Extension: strings.TrimPrefix(filepath.Ext(localPath), "."),
	})
	if err != nil {
		return nil, domain.Retryable("The photo could not be saved", err)
	}
	return buildOutput(res, oc.StartedAt), nil
}

// probeDimensions decodes the image header for pixel dimensions. A zero pair
// leaves the storage adapter's placeholder in effect.
func probeDimensions(path string) (int, int) {
	img, err := imaging.Open(path)
	if err != nil {
		return 0, 0
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy()
}

var _ Executor = (*PhotoExecutor)(nil)
