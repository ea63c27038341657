package api

import (
	"github.com/starford/scriptorium/internal/docservice"
	"github.com/starford/scriptorium/internal/index"
	"github.com/starford/scriptorium/internal/models"
)

// RouteRequest is the request body for resolving a document path.
type RouteRequest struct {
	Filename string `json:"filename" example:"market-analysis.md" validate:"required"`
	Content  string `json:"content,omitempty" example:"# Market Analysis"`
	Category string `json:"category,omitempty" example:"business-strategy"`
	Agent    string `json:"agent,omitempty" example:"business-analyst"`
}

// RouteResponse carries the resolved path.
type RouteResponse struct {
	Path string `json:"path" example:"business-strategy/research/market-analysis.md" validate:"required"`
}

// PublishRequest is the request body for publishing a document.
type PublishRequest = docservice.PublishRequest

// PublishResult is the publish response (aliased from the domain layer).
type PublishResult = docservice.PublishResult

// DocumentDetail is a registry entry with content (aliased from the domain layer).
type DocumentDetail = docservice.DocumentDetail

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []*models.Document `json:"documents" validate:"required"`
	Total     int                `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// DependentsResponse lists documents depending on a key.
type DependentsResponse struct {
	Key        string   `json:"key" example:"api-design" validate:"required"`
	Dependents []string `json:"dependents" validate:"required"`
}
