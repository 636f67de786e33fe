/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in access logs
  2. RealIP:     Client address from proxy headers
  3. AccessLog:  zap request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request totals and latency
  6. CORS:       Cross-origin requests for frontends

  Instrument wraps the router with otelhttp so every request gets a span.

ROUTE GROUPS:
  /api/targets/*     Targets and reactions (writes need an actor)
  /api/accounts/*    Accounts and journals
  /api/policies/*    Policy management
  /api/audit/*       Consistency auditor
  /api/scenarios/*   Demo scenarios

  Opening an account, replacing a policy, loading a scenario and running
  the auditor by hand are admin routes: authenticated, then checked by
  AdminGuard.
  /healthz           Liveness + platform account check
  /metrics           Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nuxni/reaction-engine/reaction"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *ActorResolver, admin *AdminGuard) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", DevAccountHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public reads
		r.Get("/targets", h.ListTargets)
		r.Get("/targets/{type}/{id}", h.GetTarget)
		r.Get("/accounts", h.ListAccounts)
		r.Get("/accounts/{id}", h.GetAccount)
		r.Get("/accounts/{id}/entries", h.GetEntries)
		r.Get("/policies", h.ListPolicies)
		r.Get("/audit/runs", h.ListAuditRuns)
		r.Get("/scenarios", h.ListScenarios)
		r.Get("/scenarios/current", h.GetCurrentScenario)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			// Reactions and target registration act as the caller
			r.Post("/targets", h.CreateTarget(admin))
			r.Post("/targets/{type}/{id}/like", h.React(reaction.Like))
			r.Post("/targets/{type}/{id}/dislike", h.React(reaction.Dislike))
			r.Get("/targets/{type}/{id}/reaction", h.GetReaction)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(admin.Middleware)
				r.Post("/accounts", h.CreateAccount)
				r.Put("/policies/{type}", h.UpdatePolicy)
				r.Post("/audit/run", h.RunAudit)
				r.Post("/scenarios/load", h.LoadScenario)
			})
		})
	})

	return r
}

// Instrument wraps the router with OpenTelemetry HTTP spans.
func Instrument(r http.Handler, service string) http.Handler {
	return otelhttp.NewHandler(r, service,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
