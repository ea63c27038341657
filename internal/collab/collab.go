// Package collab provides the default implementations of the router's
// external collaborators: existence checks against the registry, folder
// synthesis on the document store, and sprint lookup from a project state
// file.
package collab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/router"
)

// DocumentFinder looks up registered documents by file name.
type DocumentFinder interface {
	FindByFilename(filename, category string) (*models.Document, error)
}

// RegistryLifecycle reports a document as existing when the registry
// already holds a verbose file of the same name.
type RegistryLifecycle struct {
	Finder DocumentFinder
}

// CheckExisting implements router.Lifecycle.
func (l RegistryLifecycle) CheckExisting(_ context.Context, doc router.Document) (string, bool, error) {
	found, err := l.Finder.FindByFilename(doc.Filename, doc.Category)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return found.Representations.Verbose, true, nil
}

// FolderMaker creates store folders.
type FolderMaker interface {
	MkdirAll(dir string) error
}

// StoreFolderCreator creates the suggested folder on the store, or a
// folder under UncategorizedFolder named after the document when there is
// no suggestion.
type StoreFolderCreator struct {
	Store FolderMaker
}

// CreateFolderStructure implements router.FolderCreator.
func (c StoreFolderCreator) CreateFolderStructure(_ context.Context, doc router.Document, suggested string) (string, error) {
	folder := strings.Trim(path.Clean("/"+suggested), "/")
	if folder == "" {
		folder = path.Join(router.UncategorizedFolder, Slug(doc.Filename))
	}
	if err := c.Store.MkdirAll(folder); err != nil {
		return "", fmt.Errorf("collab: create folder %s: %w", folder, err)
	}
	return folder, nil
}

// Slug derives a folder name from a file name's first keywords.
func Slug(filename string) string {
	tokens := router.Tokenize(filename)
	if len(tokens) == 0 {
		return "misc"
	}
	if len(tokens) > 2 {
		tokens = tokens[:2]
	}
	return strings.Join(tokens, "-")
}

// FileProjectState reads the current sprint from a YAML file with a
// current_sprint key.
type FileProjectState struct {
	Path string
}

type projectFile struct {
	CurrentSprint string `yaml:"current_sprint"`
}

// CurrentSprint implements router.ProjectState.
func (p FileProjectState) CurrentSprint(context.Context) (string, error) {
	if p.Path == "" {
		return "", fmt.Errorf("collab: project state: %w", apperr.ErrNotFound)
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return "", fmt.Errorf("collab: project state: %w", err)
	}
	var f projectFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("collab: project state: %w", err)
	}
	if strings.TrimSpace(f.CurrentSprint) == "" {
		return "", fmt.Errorf("collab: project state: current_sprint: %w", apperr.ErrNotFound)
	}
	return strings.TrimSpace(f.CurrentSprint), nil
}
