/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, copied into history and audit
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for a frontend

ROUTE GROUPS:
  /api/payments/*       Payment workflow
  /api/work-records/*   Evaluation, payability, wage preview
  /api/workers/*        Salary revisions
  /api/audit            Audit trail
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness
  /metrics              Prometheus metrics

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *Metrics // nil disables /metrics
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
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Name"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Delete("/{id}", h.DeletePayment)
			r.Post("/{id}/line-items", h.AddLineItem)
			r.Delete("/{id}/line-items/{itemID}", h.RemoveLineItem)
			r.Post("/{id}/submit", h.SubmitPayment)
			r.Post("/{id}/approve", h.ApprovePayment)
			r.Post("/{id}/pay", h.RecordPayment)
			r.Post("/{id}/cancel", h.CancelPayment)
			r.Post("/{id}/documents", h.AddDocument)
			r.Get("/{id}/history", h.GetHistory)
		})

		r.Route("/work-records", func(r chi.Router) {
			r.Get("/", h.ListWorkRecords)
			r.Get("/{id}", h.GetWorkRecord)
			r.Delete("/{id}", h.DeleteWorkRecord)
			r.Post("/{id}/evaluate", h.EvaluateWorkRecord)
			r.Get("/{id}/preview", h.PreviewWorkRecord)
		})

		r.Post("/workers/{id}/salary", h.ReviseSalary)

		r.Get("/audit", h.ListAudit)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	return r
}
