/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. observe:    slog access log + Prometheus request metrics
  5. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /health                       Liveness + database ping
  /metrics                      Prometheus exposition
  /api/households/*             Roster, obligations, fee status, payments
  /api/obligations/{category}   Obligations of every active household
  /api/policies                 Fee policies
  /api/payments/*               Record payments, bulk generation
  /api/generation/runs          Generation history
  /api/scenarios/*              Demo data

SECURITY NOTE:
  No authentication middleware. Deploy behind the property's admin gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/fee-engine/metrics"
)

// RouterOptions configures cross-cutting concerns of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Recorder // nil disables /metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe(h.logger(), opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/households", func(r chi.Router) {
			r.Get("/", h.ListHouseholds)
			r.Post("/", h.SaveHousehold)
			r.Get("/{id}", h.GetHousehold)
			r.Post("/{id}/residents", h.AddResident)
			r.Post("/{id}/vehicles", h.AddVehicle)
			r.Get("/{id}/obligations/{category}", h.GetObligation)
			r.Get("/{id}/fee-status", h.GetFeeStatus)
			r.Get("/{id}/payments", h.ListPayments)
		})

		r.Get("/obligations/{category}", h.ListObligations)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.SavePolicy)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPayment)
			r.Post("/generate", h.GeneratePayments)
			r.Post("/generate-yearly", h.GenerateYearlyPayments)
		})

		r.Route("/generation", func(r chi.Router) {
			r.Get("/runs", h.ListGenerationRuns)
			r.Post("/run-now", h.RunSchedulerNow)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// observe logs every request and feeds the route-level metrics.
func observe(log *slog.Logger, rec *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			if rec != nil {
				rec.ObserveHTTP(r.Method, route, status, elapsed)
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
