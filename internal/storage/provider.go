// Package storage defines the document store file-system abstraction.
package storage

import "github.com/starford/scriptorium/internal/models"

// Provider is the interface for document store file operations.
// All paths are relative to the store root.
type Provider interface {
	// List returns metadata for every file under dir whose name ends in one of exts
	// (all files when exts is empty).
	List(dir string, exts ...string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent folders.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// IsDir reports whether dir exists and is a folder.
	IsDir(dir string) (bool, error)
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error
}
