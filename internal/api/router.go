package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Services bundles what the API needs.
type Services struct {
	Documents DocumentService
	Registry  RegistryService
	Router    RouteService
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(svc Services, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Routing.
	r.Post("/route", h.Route)
	r.Get("/route/stats", h.RouteStats)

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.Publish)
	r.Get("/documents/*", h.GetDocument)
	r.Delete("/documents/*", h.DeleteDocument)

	// Registry management.
	r.Post("/registry/queue", h.QueueUpdate)
	r.Post("/registry/process", h.ProcessQueue)
	r.Get("/registry/stats", h.RegistryStats)

	// Index queries.
	r.Get("/search", h.Search)
	r.Get("/dependents", h.Dependents)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
