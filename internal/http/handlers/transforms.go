package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clementine/internal/domain"
)

type transformRequest struct {
	ProjectID   string               `json:"project_id"`
	OutcomeType string               `json:"outcome_type"`
	Config      domain.OutcomeConfig `json:"config"`
}

type transformResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

var knownOutcomeTypes = map[domain.OutcomeType]bool{
	domain.OutcomePhoto:   true,
	domain.OutcomeAIImage: true,
	domain.OutcomeAIVideo: true,
}

// TransformCreate registers a pending transform job for a session and hands
// it to the task queue. The response returns immediately; callers poll the
// job endpoints for completion.
func (a *App) TransformCreate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "session_id required")
		return
	}
	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ProjectID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "project_id required")
		return
	}
	outcomeType := domain.OutcomeType(req.OutcomeType)
	if !knownOutcomeTypes[outcomeType] {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown outcome type")
		return
	}
	if msg := validateConfig(outcomeType, req.Config); msg != "" {
		a.error(w, http.StatusBadRequest, "bad_request", msg)
		return
	}

	if err := a.Sessions.EnsureSession(r.Context(), sessionID, req.ProjectID); err != nil {
		a.Log.Error().Err(err).Str("session_id", sessionID).Msg("http: ensure session failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to register session")
		return
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ProjectID:   req.ProjectID,
		OutcomeType: outcomeType,
		Config:      req.Config,
		Status:      domain.JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Log.Error().Err(err).Msg("http: job create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	if err := a.Queue.Enqueue(r.Context(), job.ID); err != nil {
		a.Log.Error().Err(err).Str("job_id", job.ID).Msg("http: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}

	a.json(w, http.StatusAccepted, transformResponse{JobID: job.ID, Status: string(job.Status)})
}

// validateConfig rejects requests an executor would immediately finalize as
// terminal; deeper validation stays with the executors.
func validateConfig(t domain.OutcomeType, cfg domain.OutcomeConfig) string {
	switch t {
	case domain.OutcomePhoto:
		if cfg.SourceURL == "" {
			return "config.sourceUrl required for photo outcomes"
		}
	case domain.OutcomeAIImage, domain.OutcomeAIVideo:
		if cfg.Prompt == "" {
			return "config.prompt required"
		}
	}
	return ""
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("http: job load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	resp := map[string]any{
		"id":           job.ID,
		"session_id":   job.SessionID,
		"project_id":   job.ProjectID,
		"outcome_type": job.OutcomeType,
		"status":       job.Status,
		"attempts":     job.Attempts,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.Output != nil {
		resp["output"] = job.Output
	}
	if job.Error != nil {
		resp["error"] = job.Error
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) JobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	progress, err := a.Jobs.GetProgress(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no progress recorded")
			return
		}
		a.Log.Error().Err(err).Str("job_id", jobID).Msg("http: progress load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load progress")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"job_id":     progress.JobID,
		"phase":      progress.Phase,
		"percent":    progress.Percent,
		"updated_at": progress.UpdatedAt,
	})
}

// SessionResult returns the projected result media for a session once a
// transform has succeeded.
func (a *App) SessionResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "session_id required")
		return
	}
	ref, err := a.Sessions.GetResultMedia(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no result for session")
			return
		}
		a.Log.Error().Err(err).Str("session_id", sessionID).Msg("http: result load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load result")
		return
	}
	a.json(w, http.StatusOK, ref)
}
