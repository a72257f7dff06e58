package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"clementine/internal/http/handlers"
	"clementine/internal/infra"
	"clementine/internal/middleware"
)

func NewRouter(app *handlers.App, logger infra.Logger, allowedOrigins []string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(middleware.Logger(logger))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/sessions/{session_id}", func(r chi.Router) {
		r.Post("/transform", app.TransformCreate)
		r.Get("/result", app.SessionResult)
	})

	r.Route("/v1/jobs/{job_id}", func(r chi.Router) {
		r.Get("/", app.JobStatus)
		r.Get("/progress", app.JobProgress)
	})

	return r
}
