package outcome

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clementine/internal/domain"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func photoJob(sourceURL string) *domain.Job {
	return &domain.Job{
		ID:          "job-1",
		SessionID:   "sess-1",
		ProjectID:   "proj-1",
		OutcomeType: domain.OutcomePhoto,
		Status:      domain.JobStatusRunning,
		Config:      domain.OutcomeConfig{SourceURL: sourceURL},
	}
}

func TestPhotoExecutorPublishesCapture(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 640, 480))
	}))
	defer source.Close()

	uploader := &fakeUploader{}
	executor := NewPhotoExecutor(uploader, source.Client())

	oc := &Context{
		Job:       photoJob(source.URL + "/capture"),
		StartedAt: time.Now().Add(-time.Second),
		TempDir:   t.TempDir(),
	}
	out, err := executor.Execute(context.Background(), oc)
	require.NoError(t, err)

	assert.Equal(t, domain.FormatImage, out.Format)
	assert.Equal(t, 640, uploader.lastInput.Width)
	assert.Equal(t, 480, uploader.lastInput.Height)
	assert.Equal(t, "png", uploader.lastInput.Extension)
	assert.Equal(t, "proj-1", uploader.lastInput.ProjectID)
	assert.True(t, out.DurationMillis >= 1000, "duration should cover the full process time")
}

func TestPhotoExecutorMissingSourceIsTerminal(t *testing.T) {
	executor := NewPhotoExecutor(&fakeUploader{}, http.DefaultClient)

	oc := &Context{Job: photoJob(""), StartedAt: time.Now(), TempDir: t.TempDir()}
	_, err := executor.Execute(context.Background(), oc)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTerminal, domain.KindOf(err))
}

func TestPhotoExecutorGoneSourceIsTerminal(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer source.Close()

	executor := NewPhotoExecutor(&fakeUploader{}, source.Client())
	oc := &Context{Job: photoJob(source.URL + "/missing"), StartedAt: time.Now(), TempDir: t.TempDir()}

	_, err := executor.Execute(context.Background(), oc)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTerminal, domain.KindOf(err))
}

func TestPhotoExecutorFlakySourceIsRetryable(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer source.Close()

	executor := NewPhotoExecutor(&fakeUploader{}, source.Client())
	oc := &Context{Job: photoJob(source.URL + "/capture"), StartedAt: time.Now(), TempDir: t.TempDir()}

	_, err := executor.Execute(context.Background(), oc)
	require.Error(t, err)
	assert.Equal(t, domain.FailureRetryable, domain.KindOf(err))
}
