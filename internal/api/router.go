package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mioring/internal/mioservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *mioservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Entities and the catalog.
	r.Get("/entities", h.ListEntities)
	r.Post("/entities", h.Upload)
	r.Post("/entities/text", h.RegisterText)
	r.Post("/entities/{id}/pin", h.Pin)
	r.Delete("/entities/{id}/pin", h.Unpin)
	r.Get("/search", h.Search)

	// Operations.
	r.Post("/operations", h.Initiate)
	r.Get("/operations/kinds", h.Describe)
	r.Get("/kinds/{kind}/operations", h.Offered)
	r.Post("/force", h.Force)

	// Specters.
	r.Get("/specters/{id}/content", h.Content)
	r.Post("/specters/{id}/elevate", h.Elevate)

	r.Get("/view", h.View)

	// Cascades.
	r.Post("/archive", h.Archive)
	r.Post("/delete", h.Delete)
	r.Post("/purge", h.Purge)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
