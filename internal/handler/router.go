package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/marketplace-orders/internal/middleware"
	"github.com/mmeshcher/marketplace-orders/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/api/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/from-quote/{quoteID}", h.CreateOrderFromQuote)
			r.With(custommiddleware.RequireRole(model.RoleAdmin)).Get("/disputed", h.ListDisputedOrders)

			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Patch("/status", h.UpdateOrderStatus)

				r.Get("/milestones", h.ListMilestones)
				r.Post("/milestones", h.AddMilestone)
				r.Route("/milestones/{milestoneID}", func(r chi.Router) {
					r.Put("/", h.UpdateMilestone)
					r.Post("/complete", h.CompleteMilestone)
					r.Post("/approve", h.ApproveMilestone)
					r.Post("/revision", h.RequestRevision)
					r.Post("/deliverables", h.UploadDeliverable)
					r.Get("/deliverables", h.ListDeliverables)
					r.Post("/payments", h.RecordPayment)
				})

				r.Post("/dispute", h.RaiseDispute)
				r.With(custommiddleware.RequireRole(model.RoleAdmin)).Post("/dispute/resolve", h.ResolveDispute)
				r.Post("/review", h.LeaveReview)
			})
		})

		r.Get("/api/providers/{providerID}/stats", h.ProviderStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound), Code: "not_found"})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed), Code: "method_not_allowed"})
	})

	return r
}
