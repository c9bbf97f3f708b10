/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/signup           Account creation (no auth)
  /api/me/*             Member operations (X-User-ID)
  /api/admin/*          Admin operations (X-User-ID + admin role)
  /api/health           Liveness probe

SECURITY NOTE:
  Identity is taken from trusted headers, not verified credentials.
  A gateway terminating real authentication must sit in front of this
  service in any shared deployment.

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

	"github.com/kedimoney/ledger-engine/ledger"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-User-Role"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/signup", h.Signup)

		// Member routes
		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.Me)
			r.Get("/referral-code", h.ReferralCode)
			r.Get("/balance", h.Balance)
			r.Get("/transactions", h.ListTransactions)
			r.Post("/transactions", h.SubmitTransaction)
			r.Get("/stakes", h.ListStakes)
			r.Post("/stakes", h.OpenStake)
			r.Get("/withdrawals", h.ListWithdrawals)
			r.Post("/withdrawals", h.RequestWithdrawal)
			r.Get("/messages", h.ListMessages)
			r.Post("/messages/{id}/read", h.MarkMessageRead)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/users", h.ListUsers)
			r.Post("/users/{id}/approve", h.DecideUser(ledger.OutcomeApprove))
			r.Post("/users/{id}/reject", h.DecideUser(ledger.OutcomeReject))

			r.Get("/transactions/pending", h.ListPendingTransactions)
			r.Post("/transactions/{id}/approve", h.DecideTransaction(ledger.OutcomeApprove))
			r.Post("/transactions/{id}/reject", h.DecideTransaction(ledger.OutcomeReject))

			r.Get("/withdrawals/pending", h.ListPendingWithdrawals)
			r.Post("/withdrawals/{id}/approve", h.DecideWithdrawal(ledger.OutcomeApprove))
			r.Post("/withdrawals/{id}/reject", h.DecideWithdrawal(ledger.OutcomeReject))

			r.Get("/solvency", h.Solvency)
		})
	})

	return r
}
