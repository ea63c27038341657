// Package models defines the domain types for scriptorium.
package models

import "time"

// Representations holds the storage paths of a document's two forms.
// Paths are relative to the document store root.
type Representations struct {
	Verbose string `json:"verbose_path"`
	Compact string `json:"compact_path,omitempty"`
}

// TokenCounts is the coarse cost proxy of each representation.
type TokenCounts struct {
	Verbose int `json:"verbose"`
	Compact int `json:"compact"`
}

// Document is one registry entry.
type Document struct {
	Category        string          `json:"category"`
	Subcategory     string          `json:"subcategory,omitempty"`
	Key             string          `json:"key"`
	Representations Representations `json:"representations"`
	TokenCounts     TokenCounts     `json:"token_counts"`
	Summary         string          `json:"summary"`
	OwningAgent     string          `json:"owning_agent,omitempty"`
	Dependencies    []string        `json:"dependencies"`
	Checksum        string          `json:"checksum,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ModifiedAt      time.Time       `json:"modified_at"`
}

// HasCompact reports whether a compact representation is registered.
func (d *Document) HasCompact() bool {
	return d.Representations.Compact != ""
}

// Matches reports whether path names either representation of d.
func (d *Document) Matches(path string) bool {
	return path != "" && (d.Representations.Verbose == path || d.Representations.Compact == path)
}

// Registry is the persisted map of every known document grouped by category.
type Registry struct {
	Version       int                             `json:"version"`
	LastUpdated   time.Time                       `json:"last_updated"`
	DocumentCount int                             `json:"document_count"`
	Documents     map[string]map[string]*Document `json:"documents"`
}

// NewRegistry returns an empty registry at version 0.
func NewRegistry() *Registry {
	return &Registry{Documents: make(map[string]map[string]*Document)}
}

// FileMetadata is a lightweight representation of a stored file.
type FileMetadata struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
