package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all computation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/computations", func(r chi.Router) {
		r.Post("/rsi", h.HandleRequestRSI)
		r.Post("/position-size", h.HandleRequestPositionSize)
		r.Post("/performance", h.HandleRequestPerformance)

		r.Get("/pending", h.HandleGetPending)
		r.Get("/{id}", h.HandleGetRequest)
		r.Get("/{id}/inputs/{slot}", h.HandleGetInput)
	})
}
