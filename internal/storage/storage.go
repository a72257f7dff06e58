package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"clementine/internal/domain"
)

// ObjectStore is the narrow blob-store contract the adapter uploads through.
type ObjectStore interface {
	// Write persists the file at localPath under key and returns the
	// canonical key actually used.
	Write(ctx context.Context, key, localPath, contentType string) (string, error)
	// URL returns the public URL serving the given key.
	URL(key string) string
}

// UploadInput describes one output upload. Zero values fall back to the
// photo-era defaults so existing image-only callers are unaffected by the
// contract's extension to video.
type UploadInput struct {
	LocalPath string
	ProjectID string
	SessionID string
	Format    domain.OutputFormat
	Width     int
	Height    int
	Extension string
}

// UploadResult is the durable location of an uploaded output.
type UploadResult struct {
	MediaAssetID string
	URL          string
	FilePath     string
	Format       domain.OutputFormat
	Width        int
	Height       int
	SizeBytes    int64
}

// Defaults applied when UploadInput leaves them unset.
const (
	defaultExtension = "jpg"
	defaultDimension = 1024
)

// outputPurpose names the session asset slot the pipeline writes.
const outputPurpose = "output"

// Adapter uploads finished outputs to an ObjectStore under a deterministic
// path, so a retried job re-uploads over the same object instead of leaking
// a new one per attempt.
type Adapter struct {
	store ObjectStore
}

// NewAdapter wraps an ObjectStore in the upload contract.
func NewAdapter(store ObjectStore) *Adapter {
	return &Adapter{store: store}
}

// OutputPath computes the destination key for a session's output. No
// randomness: the same logical output always resolves to the same path.
func OutputPath(projectID, sessionID, extension string) string {
	if extension == "" {
		extension = defaultExtension
	}
	extension = strings.TrimPrefix(extension, ".")
	return path.Join("projects", projectID, "sessions", sessionID, outputPurpose+"."+extension)
}

// AssetID derives the stable media asset identifier for a session output.
func AssetID(sessionID string) string {
	return sessionID + "-" + outputPurpose
}

// UploadOutput pushes a local temp file to durable storage and returns the
// public URL and file path, which always resolve to the same object.
func (a *Adapter) UploadOutput(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if in.LocalPath == "" {
		return nil, errors.New("storage: local path is required")
	}
	if in.ProjectID == "" || in.SessionID == "" {
		return nil, errors.New("storage: project id and session id are required")
	}

	format := in.Format
	if format == "" {
		format = domain.FormatImage
	}
	width, height := in.Width, in.Height
	if width <= 0 || height <= 0 {
		width, height = defaultDimension, defaultDimension
	}
	ext := in.Extension
	if ext == "" {
		ext = defaultExtension
	}
	ext = strings.TrimPrefix(ext, ".")

	info, err := os.Stat(in.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("storage: stat output file: %w", err)
	}

	key := OutputPath(in.ProjectID, in.SessionID, ext)
	savedKey, err := a.store.Write(ctx, key, in.LocalPath, contentTypeForExtension(ext))
	if err != nil {
		return nil, fmt.Errorf("storage: upload output: %w", err)
	}

	return &UploadResult{
		MediaAssetID: AssetID(in.SessionID),
		URL:          a.store.URL(savedKey),
		FilePath:     savedKey,
		Format:       format,
		Width:        width,
		Height:       height,
		SizeBytes:    info.Size(),
	}, nil
}

func contentTypeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// ExtensionForContentType maps a provider MIME type to a storage extension.
func ExtensionForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	default:
		return ""
	}
}
