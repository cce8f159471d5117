package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-finder/internal/web/handlers"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	facesHandler := handlers.NewFacesHandler(s.deps.FaceIndexer, s.deps.Faces)
	photosHandler := handlers.NewPhotosHandler(s.deps.PhotoIndexer)
	auditHandler := handlers.NewAuditHandler(s.deps.Scheduler)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(s.config.Server.APIKey))

		// Faces
		r.Post("/faces", facesHandler.Register)
		r.Get("/users/{id}/matches", facesHandler.GetMatches)

		// Photos (live matching)
		r.Post("/photos/{id}/match", photosHandler.Match)

		// Audits
		r.Post("/audit", auditHandler.AuditAll)
		r.Post("/audit/schedule", auditHandler.Schedule)
		r.Get("/audit/jobs", auditHandler.ListJobs)
		r.Get("/audit/jobs/{id}", auditHandler.GetJob)
		r.Delete("/audit/jobs/{id}", auditHandler.StopJob)
		r.Post("/audit/{userId}", auditHandler.AuditUser)
	})
}
