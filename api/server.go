/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, picked up by the request logger
  2. Logger:     Request-scoped zerolog logger in the context, one line
                 per completed request (logging.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the adviser frontend

  Endpoints that bypass the report cache (refresh, warm) are throttled
  with a token bucket (Handler.Recompute) and answer 429 when it is empty.

ROUTE GROUPS:
  /api/clients/*     Client metadata, reports, exports, indicators
  /api/catalog       Metric catalog
  /api/scenarios/*   Demo client ledgers
  /api/admin/*       Cache warming
  /api/health        Database ping

SECURITY NOTE:
  No authentication middleware. Deploy behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/warp/finance-metrics/logging"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, logger zerolog.Logger, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/catalog", h.GetCatalog)

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetClient)
				r.Delete("/", h.DeleteClient)

				r.Get("/metrics", h.GetMetrics)
				r.Get("/metrics.xlsx", h.ExportXLSX)
				r.Get("/metrics.csv", h.ExportCSV)
				r.With(h.throttle).Post("/metrics/refresh", h.RefreshMetrics)

				r.Get("/kpis", h.ListKPIs)
				r.Post("/kpis/{family}", h.SaveKPI)
				r.Post("/opportunity-score", h.OpportunityScore)
			})
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		r.With(h.throttle).Post("/admin/warm", h.WarmCache)
	})

	return r
}
