package outcome

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"clementine/internal/domain"
	"clementine/internal/storage"
)

// fetchSource downloads a captured source asset into the temp directory and
// returns the local path plus the served content type. Client errors are
// terminal (the reference is gone or wrong), server errors transient.
func fetchSource(ctx context.Context, client *http.Client, url, tempDir, name string) (string, string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", domain.Terminal("The captured photo could not be read", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", domain.Retryable("The captured photo could not be fetched", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return "", "", domain.Retryable("The captured photo could not be fetched",
			fmt.Errorf("source fetch returned %d", resp.StatusCode))
	default:
		return "", "", domain.Terminal("The captured photo could not be read",
			fmt.Errorf("source fetch returned %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	ext := storage.ExtensionForContentType(contentType)
	if ext == "" {
		ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(url)), ".")
	}
	if ext == "" {
		ext = "jpg"
	}

	localPath := filepath.Join(tempDir, name+"."+ext)
	dst, err := os.Create(localPath)
	if err != nil {
		return "", "", fmt.Errorf("create source file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return "", "", domain.Retryable("The captured photo could not be fetched", err)
	}
	return localPath, contentType, nil
}
