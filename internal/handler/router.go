package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/holidayd/internal/metrics"
	custommiddleware "github.com/mmeshcher/holidayd/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса holidayd.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/quote", h.Quote)
			r.Post("/spend", h.Spend)
			r.Post("/purchase", h.Purchase)
		})

		r.Get("/earnings", h.GetEarnings)
		r.Post("/claims", h.CreateClaim)

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.RequireAdmin)

			r.Post("/tokens/credit", h.Credit)
			r.Post("/tokens/distribute", h.Distribute)
			r.Get("/ledger/audit/{userID}", h.Audit)

			r.Post("/claims/{id}/approve", h.ApproveClaim)
			r.Post("/claims/{id}/reject", h.RejectClaim)

			r.Post("/sweeps", h.RunAllSweeps)
			r.Post("/sweeps/{kind}/{mode}", h.RunSweep)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
