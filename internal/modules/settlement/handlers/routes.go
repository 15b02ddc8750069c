package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all settlement routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategies", func(r chi.Router) {
		r.Get("/", h.HandleListStrategies)
		r.Post("/settle", h.HandleSettle)
		r.Get("/{owner}", h.HandleGetStrategy)
	})
}
