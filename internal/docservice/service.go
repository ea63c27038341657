// Package docservice implements the producer-facing publish flow: route a
// document, write it to the store, then record it in the registry.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/index"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/parser"
	"github.com/starford/scriptorium/internal/queue"
	"github.com/starford/scriptorium/internal/registry"
	"github.com/starford/scriptorium/internal/router"
	"github.com/starford/scriptorium/internal/storage"
)

// ErrIndexDisabled is returned by search operations when no index is wired.
var ErrIndexDisabled = errors.New("search index disabled")

// Router resolves document paths.
type Router interface {
	Route(ctx context.Context, doc router.Document) (string, error)
}

// Registry records documents.
type Registry interface {
	QueueUpdates(ctx context.Context, ps ...queue.Payload) (*registry.DrainResult, error)
	Lookup(path string) (*models.Document, error)
	Documents() ([]*models.Document, error)
}

// Index answers full-text and dependency queries.
type Index interface {
	Search(query string, limit int) ([]index.SearchResult, error)
	Dependents(key string) ([]string, error)
}

// PublishRequest is one document handed over by a producer.
type PublishRequest struct {
	Filename     string   `json:"filename"`
	Content      string   `json:"content"`
	Compact      string   `json:"compact,omitempty"`
	Category     string   `json:"category,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// PublishResult reports where a document went and its registry entry.
type PublishResult struct {
	Path     string                `json:"path"`
	Compact  string                `json:"compact_path,omitempty"`
	Document *models.Document      `json:"document"`
	Drain    *registry.DrainResult `json:"drain"`
}

// DocumentDetail is a registry entry with its verbose content.
type DocumentDetail struct {
	*models.Document
	Content string `json:"content"`
}

// Service coordinates routing, storage and the registry.
type Service struct {
	router   Router
	registry Registry
	store    storage.Provider
	index    Index
}

// NewService creates a Service. idx may be nil.
func NewService(rt Router, reg Registry, store storage.Provider, idx Index) *Service {
	return &Service{router: rt, registry: reg, store: store, index: idx}
}

// Publish routes req, writes the verbose content (and compact content when
// given, as a sibling .json) and records both in the registry. Dependencies
// default to the document's wikilinks.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, fmt.Errorf("docservice: filename is required: %w", apperr.ErrInvalidDocument)
	}
	target, err := s.router.Route(ctx, router.Document{
		Filename: req.Filename,
		Content:  req.Content,
		Category: req.Category,
		Agent:    req.Agent,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(target, []byte(req.Content)); err != nil {
		return nil, fmt.Errorf("docservice: write %s: %w", target, err)
	}

	deps := req.Dependencies
	if deps == nil {
		deps = linkedKeys(req.Content)
	}
	updates := []queue.Payload{queue.Create{
		Path:         target,
		Summary:      req.Summary,
		Agent:        req.Agent,
		Dependencies: deps,
	}}

	res := &PublishResult{Path: target}
	if req.Compact != "" {
		res.Compact = CompactPath(target)
		if err := s.store.Write(res.Compact, []byte(req.Compact)); err != nil {
			return nil, fmt.Errorf("docservice: write %s: %w", res.Compact, err)
		}
		updates = append(updates, queue.Convert{Path: target, JSONPath: res.Compact, Agent: req.Agent})
	}

	drain, err := s.registry.QueueUpdates(ctx, updates...)
	if err != nil {
		return nil, err
	}
	res.Drain = drain
	if res.Document, err = s.registry.Lookup(target); err != nil {
		return nil, err
	}
	return res, nil
}

// Get returns the registry entry owning p with its verbose content.
func (s *Service) Get(_ context.Context, p string) (*DocumentDetail, error) {
	doc, err := s.registry.Lookup(p)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(doc.Representations.Verbose)
	if errors.Is(err, fs.ErrNotExist) {
		return &DocumentDetail{Document: doc}, nil
	}
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{Document: doc, Content: string(data)}, nil
}

// Remove deletes both representations from the store and the registry.
func (s *Service) Remove(ctx context.Context, p string) (*registry.DrainResult, error) {
	doc, err := s.registry.Lookup(p)
	if err != nil {
		return nil, err
	}
	for _, f := range []string{doc.Representations.Verbose, doc.Representations.Compact} {
		if f == "" {
			continue
		}
		if err := s.store.Delete(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("docservice: delete %s: %w", f, err)
		}
	}
	return s.registry.QueueUpdates(ctx, queue.Delete{Path: doc.Representations.Verbose})
}

// Scan queues a create for every Markdown file under the store root that
// the registry does not hold yet, and drains once. It returns the number
// of files queued.
func (s *Service) Scan(ctx context.Context) (int, *registry.DrainResult, error) {
	metas, err := s.store.List("", ".md")
	if err != nil {
		return 0, nil, err
	}
	docs, err := s.registry.Documents()
	if err != nil {
		return 0, nil, err
	}
	known := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		known[d.Representations.Verbose] = struct{}{}
	}

	var updates []queue.Payload
	for _, m := range metas {
		if _, ok := known[m.Path]; ok {
			continue
		}
		updates = append(updates, queue.Create{Path: m.Path})
	}
	if len(updates) == 0 {
		return 0, nil, nil
	}
	drain, err := s.registry.QueueUpdates(ctx, updates...)
	if err != nil {
		return 0, nil, err
	}
	return len(updates), drain, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.index == nil {
		return nil, ErrIndexDisabled
	}
	return s.index.Search(query, limit)
}

// Dependents returns the ids of documents depending on key.
func (s *Service) Dependents(_ context.Context, key string) ([]string, error) {
	if s.index == nil {
		return nil, ErrIndexDisabled
	}
	deps, err := s.index.Dependents(key)
	return nonNilSlice(deps), err
}

// CompactPath returns the compact sibling of a verbose path.
func CompactPath(verbose string) string {
	return strings.TrimSuffix(verbose, path.Ext(verbose)) + ".json"
}

// linkedKeys turns [[wikilinks]] into dependency keys.
func linkedKeys(content string) []string {
	res, err := parser.Parse([]byte(content))
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(res.Links))
	for _, l := range res.Links {
		l = strings.TrimSuffix(l, path.Ext(l))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
