/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address behind the gateway
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. RequestLogger: zap line + latency histogram per request
  5. CORS:          Cross-origin requests for the back-office frontend
  6. Authenticate:  AuthContext from gateway headers (/api only)

ROUTE GROUPS:
  /api/sales/*       Sales and their cancellation
  /api/purchases/*   Purchases and their cancellation
  /api/documents/*   Entry lookup by document number
  /api/accounts/*    Accounts, journals, reconciliation
  /api/items/*       Items and stock
  /api/scenarios/*   Demo data loaders
  /health            Liveness
  /metrics           Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Auth and logging middleware
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        HTTPMetrics
	// Gatherer backs /metrics; the endpoint is omitted when nil.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.Log, opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderTenantID, HeaderUserID, HeaderRole},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate)

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.RecordSale)
			r.Post("/{documentNumber}/cancel", h.CancelSale)
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.RecordPurchase)
			r.Post("/{documentNumber}/cancel", h.CancelPurchase)
		})

		r.Get("/documents/{documentNumber}", h.GetDocument)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/entries", h.GetAccountEntries)
			r.Get("/{id}/reconcile", h.ReconcileAccount)
			r.Post("/{id}/rebuild", h.RebuildAccount)
		})

		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
