package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/sso-audit/app"
	"github.com/upb/sso-audit/middleware"
	"github.com/upb/sso-audit/utils"
)

const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	auth := deps.AuthMiddleware
	write := []func(http.Handler) http.Handler{auth.RequireAuth, auth.RequireRole(middleware.RoleWrite)}
	if deps.RateLimiter != nil {
		write = append(write, deps.RateLimiter.Handler)
	}
	read := []func(http.Handler) http.Handler{auth.RequireAuth, auth.RequireRole(middleware.RoleRead)}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", deps.HealthHandler.HandleStatus)

		// Ingestion
		r.Group(func(r chi.Router) {
			r.Use(write...)
			r.Post("/events", deps.EventHandler.HandleIngest)
			r.Post("/events/batch", deps.EventHandler.HandleIngestBatch)
			r.Post("/workflows/{id}/complete", deps.WorkflowHandler.HandleCompleteWorkflow)
		})

		// Queries
		r.Group(func(r chi.Router) {
			r.Use(read...)
			r.Get("/events", deps.EventHandler.HandleListEvents)
			r.Get("/events/correlated/{correlation_id}", deps.EventHandler.HandleCorrelatedEvents)
			r.Get("/events/{id}", deps.EventHandler.HandleGetEvent)
			r.Get("/statistics", deps.EventHandler.HandleStatistics)

			r.Get("/workflows/active", deps.WorkflowHandler.HandleActiveWorkflows)
			r.Get("/workflows/{id}", deps.WorkflowHandler.HandleGetWorkflow)
			r.Get("/workflows/{id}/events", deps.WorkflowHandler.HandleWorkflowEvents)

			r.Get("/sessions/{id}", deps.SessionHandler.HandleGetSession)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func allowedOrigins(deps *app.Dependencies) []string {
	if deps.Config != nil && len(deps.Config.Server.AllowedOrigins) > 0 {
		return deps.Config.Server.AllowedOrigins
	}
	return []string{"http://localhost:*"}
}
