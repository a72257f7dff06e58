package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"clementine/internal/domain"
	"clementine/internal/infra"
)

// JobStore is the slice of job persistence the HTTP surface needs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
	GetProgress(ctx context.Context, jobID string) (*domain.JobProgress, error)
}

// SessionStore covers session bookkeeping for the transform entrypoint.
type SessionStore interface {
	EnsureSession(ctx context.Context, sessionID, projectID string) error
	GetResultMedia(ctx context.Context, sessionID string) (*domain.MediaRef, error)
}

// Enqueuer hands a created job to the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

type App struct {
	Jobs     JobStore
	Sessions SessionStore
	Queue    Enqueuer
	Log      infra.Logger
}

func NewApp(jobs JobStore, sessions SessionStore, queue Enqueuer, log infra.Logger) *App {
	return &App{Jobs: jobs, Sessions: sessions, Queue: queue, Log: log}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
