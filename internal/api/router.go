package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/good-yellow-bee/lognexus/internal/api/alerts"
	"github.com/good-yellow-bee/lognexus/internal/api/fleet"
	"github.com/good-yellow-bee/lognexus/internal/api/logs"
	"github.com/good-yellow-bee/lognexus/internal/api/middleware"
	"github.com/good-yellow-bee/lognexus/internal/api/stream"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Metrics)

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	logHandler := logs.NewHandler(s.deps.Sink, s.deps.Logs, logs.Config{
		MaxBatchSize: s.config.MaxBatchSize,
		QueryTimeout: s.config.QueryTimeout,
	})
	fleetHandler := fleet.NewHandler(s.deps.Store, s.deps.Publisher)
	alertHandler := alerts.NewHandler(s.deps.Store.Rules(), s.deps.Store.Instances(), s.deps.Alerts)
	streamHandler := stream.NewHandler(s.deps.Hub, s.config.Stream)

	r.Route("/api/v1", func(r chi.Router) {
		// Agent-facing ingestion, rate limited per agent address.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.ingestLimiter, s.ingestKey))
			r.Post("/logs", logHandler.Ingest)
			r.Post("/servers/heartbeat", fleetHandler.Heartbeat)
			r.Post("/jobs/register", fleetHandler.RegisterJob)
			r.Post("/executions", fleetHandler.StartExecution)
			r.Put("/executions/{id}/complete", fleetHandler.CompleteExecution)
			r.Post("/executions/{id}/cancel", fleetHandler.CancelExecution)
		})

		r.Get("/logs", logHandler.Query)
		r.Get("/logs/stats", logHandler.Stats)

		r.Get("/servers", fleetHandler.ListServers)
		r.Route("/servers/{name}", func(r chi.Router) {
			r.Get("/", fleetHandler.GetServer)
			r.Post("/maintenance", fleetHandler.EnterMaintenance)
			r.Delete("/maintenance", fleetHandler.ExitMaintenance)
		})
		r.Get("/jobs", fleetHandler.ListJobs)
		r.Get("/jobs/{id}", fleetHandler.GetJob)
		r.Get("/executions/{id}", fleetHandler.GetExecution)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/summary", alertHandler.Summary)

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", alertHandler.ListRules)
				r.Get("/{id}", alertHandler.GetRule)
				r.Put("/{id}/enabled", alertHandler.SetEnabled)
				r.Post("/{id}/trigger", alertHandler.Trigger)
			})

			r.Route("/instances", func(r chi.Router) {
				r.Get("/", alertHandler.ListInstances)
				r.Get("/active", alertHandler.ActiveInstances)
				r.Get("/{id}", alertHandler.GetInstance)
				r.Post("/{id}/acknowledge", alertHandler.Acknowledge)
				r.Post("/{id}/resolve", alertHandler.Resolve)
				r.Post("/{id}/suppress", alertHandler.Suppress)
			})
		})

		r.Get("/stream", streamHandler.SSE)
		r.Get("/ws", streamHandler.WebSocket)
	})

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
