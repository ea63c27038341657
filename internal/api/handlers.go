package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/docservice"
	"github.com/starford/scriptorium/internal/index"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/queue"
	"github.com/starford/scriptorium/internal/router"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	docs     DocumentService
	registry RegistryService
	router   RouteService
}

// NewHandler creates a new Handler.
func NewHandler(svc Services) *Handler {
	return &Handler{docs: svc.Documents, registry: svc.Registry, router: svc.Router}
}

// documentPath extracts the document path from the URL (everything after /documents/).
// Supports encoded slashes (e.g. research%2Fmarket.md).
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrInvalidUpdate), errors.Is(err, apperr.ErrInvalidDocument):
		writeFailure(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrLockUnavailable):
		w.Header().Set("Retry-After", "1")
		writeFailure(w, http.StatusServiceUnavailable, "registry busy, retry later")
	case errors.Is(err, docservice.ErrIndexDisabled):
		writeFailure(w, http.StatusNotImplemented, err.Error())
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "internal error")
	}
}

// Route handles POST /api/route.
//
//	@Summary		Resolve the storage path for a document
//	@Tags			routing
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RouteRequest	true	"Document to route"
//	@Success		200		{object}	RouteResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/route [post]
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Filename == "" {
		writeFailure(w, http.StatusBadRequest, "filename is required")
		return
	}
	p, err := h.router.Route(r.Context(), router.Document{
		Filename: req.Filename,
		Content:  req.Content,
		Category: req.Category,
		Agent:    req.Agent,
	})
	if err != nil {
		writeError(w, "route", err)
		return
	}
	writeJSON(w, http.StatusOK, RouteResponse{Path: p})
}

// RouteStats handles GET /api/route/stats.
//
//	@Summary		Routing statistics and recent decisions
//	@Tags			routing
//	@Produce		json
//	@Success		200	{object}	router.Stats
//	@Security		BearerAuth
//	@Router			/route/stats [get]
func (h *Handler) RouteStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Stats())
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List registered documents, optionally filtered by term
//	@Tags			documents
//	@Produce		json
//	@Param			q	query		string	false	"Case-insensitive key/summary filter"
//	@Success		200	{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	var (
		docs []*models.Document
		err  error
	)
	if term := r.URL.Query().Get("q"); term != "" {
		docs, err = h.registry.FindDocument(term)
	} else {
		docs, err = h.registry.Documents()
	}
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)})
}

// Publish handles POST /api/documents.
//
//	@Summary		Route, write and register a document
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PublishRequest	true	"Document to publish"
//	@Success		201		{object}	PublishResult
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Filename == "" || req.Content == "" {
		writeFailure(w, http.StatusBadRequest, "filename and content are required")
		return
	}
	res, err := h.docs.Publish(r.Context(), req)
	if err != nil {
		writeError(w, "publish", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Get a registered document by either representation path
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	p := documentPath(r)
	if p == "" {
		writeFailure(w, http.StatusBadRequest, "path is required")
		return
	}
	doc, err := h.docs.Get(r.Context(), p)
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/*.
//
//	@Summary		Delete a document and its registry entry
//	@Tags			documents
//	@Param			path	path	string	true	"Document path"
//	@Success		200		{object}	registry.DrainResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	p := documentPath(r)
	if p == "" {
		writeFailure(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := h.docs.Remove(r.Context(), p)
	if err != nil {
		writeError(w, "delete document", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// QueueUpdate handles POST /api/registry/queue.
//
//	@Summary		Queue a registry update and drain the queue
//	@Tags			registry
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	registry.DrainResult
//	@Failure		400	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/registry/queue [post]
func (h *Handler) QueueUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "failed to read body")
		return
	}
	p, err := queue.ParseUpdate(body)
	if err != nil {
		writeError(w, "queue update", err)
		return
	}
	res, err := h.registry.QueueUpdate(r.Context(), p)
	if err != nil {
		writeError(w, "queue update", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ProcessQueue handles POST /api/registry/process.
//
//	@Summary		Drain pending registry updates
//	@Tags			registry
//	@Produce		json
//	@Success		200	{object}	registry.DrainResult
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/registry/process [post]
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	res, err := h.registry.ProcessQueue(r.Context())
	if err != nil {
		writeError(w, "process queue", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RegistryStats handles GET /api/registry/stats.
//
//	@Summary		Registry statistics
//	@Tags			registry
//	@Produce		json
//	@Success		200	{object}	registry.Statistics
//	@Security		BearerAuth
//	@Router			/registry/stats [get]
func (h *Handler) RegistryStats(w http.ResponseWriter, _ *http.Request) {
	st, err := h.registry.GetStatistics()
	if err != nil {
		writeError(w, "registry stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across registered documents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeFailure(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.docs.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Dependents handles GET /api/dependents.
//
//	@Summary		Documents that depend on a key
//	@Tags			search
//	@Produce		json
//	@Param			key	query		string	true	"Document key"
//	@Success		200	{object}	DependentsResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dependents [get]
func (h *Handler) Dependents(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeFailure(w, http.StatusBadRequest, "query parameter 'key' is required")
		return
	}
	deps, err := h.docs.Dependents(r.Context(), key)
	if err != nil {
		writeError(w, "dependents", err)
		return
	}
	writeJSON(w, http.StatusOK, DependentsResponse{Key: key, Dependents: deps})
}
