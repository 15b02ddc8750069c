package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers registry, address and account routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/registry", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Post("/", h.HandleInit)
	})

	r.Route("/addresses", func(r chi.Router) {
		r.Get("/registry", h.HandleRegistryAddress)
		r.Get("/strategies/{owner}", h.HandleStrategyAddress)
	})

	r.Get("/accounts/{address}", h.HandleGetAccount)
}
