package ui

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the pages on r, which is expected to be mounted at
// /ui.
func MountRoutes(r chi.Router, h *Handler) {
	r.Use(h.EnsureCSRFToken, h.RequireCSRF)
	r.Get("/", h.Home)
	r.Post("/queries", h.Submit)
	r.Get("/queries/{id}", h.Detail)
	r.Post("/queries/{id}/answer", h.Answer)
	r.Post("/queries/{id}/chart", h.SwitchChart)
	r.Post("/queries/{id}/cancel", h.Cancel)
}
