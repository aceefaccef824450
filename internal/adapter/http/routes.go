package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the flow API, the health endpoint and, when ws is
// non-nil, the WebSocket endpoint on the given chi router. submit wraps flow
// creation only.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc, submit ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SecurityHeaders)

		r.Route("/flows", func(r chi.Router) {
			r.With(submit...).Post("/", h.StartFlow)
			r.Get("/", h.ListFlows)
			r.Get("/{id}", h.GetFlow)
			r.Get("/{id}/status", h.FlowStatus)
			r.Get("/{id}/result", h.FlowResult)
		})

		r.Get("/pg/sessions", h.ListPGSessions)
	})
}
