package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"clementine/internal/domain"
)

type jobStoreFunc struct {
	create      func(ctx context.Context, job *domain.Job) error
	getByID     func(ctx context.Context, jobID string) (*domain.Job, error)
	getProgress func(ctx context.Context, jobID string) (*domain.JobProgress, error)
}

func (j *jobStoreFunc) Create(ctx context.Context, job *domain.Job) error {
	return j.create(ctx, job)
}

func (j *jobStoreFunc) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return j.getByID(ctx, jobID)
}

func (j *jobStoreFunc) GetProgress(ctx context.Context, jobID string) (*domain.JobProgress, error) {
	return j.getProgress(ctx, jobID)
}

type sessionStoreFunc struct {
	ensure    func(ctx context.Context, sessionID, projectID string) error
	getResult func(ctx context.Context, sessionID string) (*domain.MediaRef, error)
}

func (s *sessionStoreFunc) EnsureSession(ctx context.Context, sessionID, projectID string) error {
	return s.ensure(ctx, sessionID, projectID)
}

func (s *sessionStoreFunc) GetResultMedia(ctx context.Context, sessionID string) (*domain.MediaRef, error) {
	return s.getResult(ctx, sessionID)
}

type enqueueFunc func(ctx context.Context, jobID string) error

func (f enqueueFunc) Enqueue(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

func paramRequest(method, target string, body io.Reader, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestTransformCreateEnqueuesJob(t *testing.T) {
	var created *domain.Job
	var enqueued string
	app := NewApp(
		&jobStoreFunc{create: func(ctx context.Context, job *domain.Job) error {
			created = job
			return nil
		}},
		&sessionStoreFunc{ensure: func(ctx context.Context, sessionID, projectID string) error {
			return nil
		}},
		enqueueFunc(func(ctx context.Context, jobID string) error {
			enqueued = jobID
			return nil
		}),
		zerolog.Nop(),
	)

	body := `{"project_id":"proj-1","outcome_type":"ai.image","config":{"prompt":"a red balloon"}}`
	req := paramRequest("POST", "/v1/sessions/sess-1/transform", strings.NewReader(body), map[string]string{"session_id": "sess-1"})
	rr := httptest.NewRecorder()

	app.TransformCreate(rr, req)

	if rr.Code != 202 {
		t.Fatalf("unexpected status code: got %d, want 202", rr.Code)
	}
	if created == nil {
		t.Fatal("expected a job to be created")
	}
	if created.Status != domain.JobStatusPending {
		t.Fatalf("expected pending job, got %s", created.Status)
	}
	if created.SessionID != "sess-1" || created.ProjectID != "proj-1" {
		t.Fatalf("unexpected job identity: %+v", created)
	}
	if enqueued != created.ID {
		t.Fatalf("enqueued %q, want job %q", enqueued, created.ID)
	}

	var resp transformResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != created.ID || resp.Status != "pending" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestTransformCreateRejectsUnknownOutcomeType(t *testing.T) {
	app := NewApp(
		&jobStoreFunc{create: func(ctx context.Context, job *domain.Job) error {
			t.Fatal("job must not be created")
			return nil
		}},
		&sessionStoreFunc{ensure: func(ctx context.Context, sessionID, projectID string) error {
			return nil
		}},
		enqueueFunc(func(ctx context.Context, jobID string) error { return nil }),
		zerolog.Nop(),
	)

	body := `{"project_id":"proj-1","outcome_type":"ai.hologram","config":{"prompt":"x"}}`
	req := paramRequest("POST", "/v1/sessions/sess-1/transform", strings.NewReader(body), map[string]string{"session_id": "sess-1"})
	rr := httptest.NewRecorder()

	app.TransformCreate(rr, req)

	if rr.Code != 400 {
		t.Fatalf("unexpected status code: got %d, want 400", rr.Code)
	}
}

func TestTransformCreateRejectsMissingRequiredConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"photo without source", `{"project_id":"p","outcome_type":"photo","config":{}}`},
		{"image without prompt", `{"project_id":"p","outcome_type":"ai.image","config":{}}`},
		{"video without prompt", `{"project_id":"p","outcome_type":"ai.video","config":{}}`},
	}
	app := NewApp(
		&jobStoreFunc{create: func(ctx context.Context, job *domain.Job) error {
			t.Fatal("job must not be created")
			return nil
		}},
		&sessionStoreFunc{ensure: func(ctx context.Context, sessionID, projectID string) error {
			return nil
		}},
		enqueueFunc(func(ctx context.Context, jobID string) error { return nil }),
		zerolog.Nop(),
	)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := paramRequest("POST", "/v1/sessions/sess-1/transform", strings.NewReader(tc.body), map[string]string{"session_id": "sess-1"})
			rr := httptest.NewRecorder()

			app.TransformCreate(rr, req)

			if rr.Code != 400 {
				t.Fatalf("unexpected status code: got %d, want 400", rr.Code)
			}
		})
	}
}

func TestJobStatusNotFound(t *testing.T) {
	app := NewApp(
		&jobStoreFunc{getByID: func(ctx context.Context, jobID string) (*domain.Job, error) {
			return nil, domain.ErrNotFound
		}},
		nil,
		nil,
		zerolog.Nop(),
	)

	req := paramRequest("GET", "/v1/jobs/nope", nil, map[string]string{"job_id": "nope"})
	rr := httptest.NewRecorder()

	app.JobStatus(rr, req)

	if rr.Code != 404 {
		t.Fatalf("unexpected status code: got %d, want 404", rr.Code)
	}
}

func TestJobStatusIncludesFailureDetail(t *testing.T) {
	app := NewApp(
		&jobStoreFunc{getByID: func(ctx context.Context, jobID string) (*domain.Job, error) {
			return &domain.Job{
				ID:          jobID,
				SessionID:   "sess-1",
				OutcomeType: domain.OutcomeAIVideo,
				Status:      domain.JobStatusFailed,
				Error: &domain.JobError{
					Kind:    domain.FailureTerminal,
					Message: "Video was filtered by safety policy",
				},
			}, nil
		}},
		nil,
		nil,
		zerolog.Nop(),
	)

	req := paramRequest("GET", "/v1/jobs/job-1", nil, map[string]string{"job_id": "job-1"})
	rr := httptest.NewRecorder()

	app.JobStatus(rr, req)

	if rr.Code != 200 {
		t.Fatalf("unexpected status code: got %d, want 200", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	errDetail, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error detail, got %#v", payload["error"])
	}
	if errDetail["message"] != "Video was filtered by safety policy" {
		t.Fatalf("unexpected error message: %#v", errDetail["message"])
	}
}

func TestJobProgressReturnsLatest(t *testing.T) {
	app := NewApp(
		&jobStoreFunc{getProgress: func(ctx context.Context, jobID string) (*domain.JobProgress, error) {
			return &domain.JobProgress{JobID: jobID, Phase: "generating", Percent: 42}, nil
		}},
		nil,
		nil,
		zerolog.Nop(),
	)

	req := paramRequest("GET", "/v1/jobs/job-1/progress", nil, map[string]string{"job_id": "job-1"})
	rr := httptest.NewRecorder()

	app.JobProgress(rr, req)

	if rr.Code != 200 {
		t.Fatalf("unexpected status code: got %d, want 200", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["phase"] != "generating" || payload["percent"] != float64(42) {
		t.Fatalf("unexpected progress payload: %#v", payload)
	}
}

func TestSessionResultLegacyRecordNormalized(t *testing.T) {
	app := NewApp(
		nil,
		&sessionStoreFunc{getResult: func(ctx context.Context, sessionID string) (*domain.MediaRef, error) {
			raw := []byte(`{"stepId":"create","assetId":"asset-9","url":"https://cdn/x.jpg","createdAt":123}`)
			return domain.DecodeMediaRef(raw)
		}},
		nil,
		zerolog.Nop(),
	)

	req := paramRequest("GET", "/v1/sessions/sess-1/result", nil, map[string]string{"session_id": "sess-1"})
	rr := httptest.NewRecorder()

	app.SessionResult(rr, req)

	if rr.Code != 200 {
		t.Fatalf("unexpected status code: got %d, want 200", rr.Code)
	}
	var ref domain.MediaRef
	if err := json.NewDecoder(rr.Body).Decode(&ref); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ref.MediaAssetID != "asset-9" || ref.DisplayName != "Untitled" {
		t.Fatalf("unexpected normalized ref: %+v", ref)
	}
	if ref.FilePath != nil {
		t.Fatalf("legacy record must not carry filePath, got %q", *ref.FilePath)
	}
}

func TestTransformCreateEnqueueFailureSurfacesError(t *testing.T) {
	app := NewApp(
		&jobStoreFunc{create: func(ctx context.Context, job *domain.Job) error { return nil }},
		&sessionStoreFunc{ensure: func(ctx context.Context, sessionID, projectID string) error {
			return nil
		}},
		enqueueFunc(func(ctx context.Context, jobID string) error {
			return errors.New("queue unavailable")
		}),
		zerolog.Nop(),
	)

	body := `{"project_id":"p","outcome_type":"ai.image","config":{"prompt":"x"}}`
	req := paramRequest("POST", "/v1/sessions/sess-1/transform", strings.NewReader(body), map[string]string{"session_id": "sess-1"})
	rr := httptest.NewRecorder()

	app.TransformCreate(rr, req)

	if rr.Code != 500 {
		t.Fatalf("unexpected status code: got %d, want 500", rr.Code)
	}
}
