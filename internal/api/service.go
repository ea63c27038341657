package api

import (
	"context"

	"github.com/starford/scriptorium/internal/docservice"
	"github.com/starford/scriptorium/internal/index"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/queue"
	"github.com/starford/scriptorium/internal/registry"
	"github.com/starford/scriptorium/internal/router"
)

// DocumentService is the publish and lookup surface used by the handlers.
type DocumentService interface {
	Publish(ctx context.Context, req docservice.PublishRequest) (*docservice.PublishResult, error)
	Get(ctx context.Context, path string) (*docservice.DocumentDetail, error)
	Remove(ctx context.Context, path string) (*registry.DrainResult, error)
	Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
	Dependents(ctx context.Context, key string) ([]string, error)
}

// RegistryService is the registry management surface.
type RegistryService interface {
	QueueUpdate(ctx context.Context, p queue.Payload) (*registry.DrainResult, error)
	ProcessQueue(ctx context.Context) (*registry.DrainResult, error)
	FindDocument(term string) ([]*models.Document, error)
	Documents() ([]*models.Document, error)
	GetStatistics() (*registry.Statistics, error)
}

// RouteService resolves paths and reports routing statistics.
type RouteService interface {
	Route(ctx context.Context, doc router.Document) (string, error)
	Stats() router.Stats
}

var (
	_ DocumentService = (*docservice.Service)(nil)
	_ RegistryService = (*registry.Manager)(nil)
	_ RouteService    = (*router.Router)(nil)
)
