package collab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/router"
	"github.com/starford/scriptorium/internal/storage"
)

type finderFunc func(filename, category string) (*models.Document, error)

func (f finderFunc) FindByFilename(filename, category string) (*models.Document, error) {
	return f(filename, category)
}

func TestRegistryLifecycle(t *testing.T) {
	l := RegistryLifecycle{Finder: finderFunc(func(filename, _ string) (*models.Document, error) {
		if filename == "known.md" {
			return &models.Document{Representations: models.Representations{Verbose: "a/known.md"}}, nil
		}
		return nil, apperr.ErrNotFound
	})}

	p, ok, err := l.CheckExisting(context.Background(), router.Document{Filename: "known.md"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a/known.md", p)

	_, ok, err = l.CheckExisting(context.Background(), router.Document{Filename: "new.md"})
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("corrupt registry")
	l.Finder = finderFunc(func(string, string) (*models.Document, error) { return nil, boom })
	_, _, err = l.CheckExisting(context.Background(), router.Document{Filename: "x.md"})
	assert.ErrorIs(t, err, boom)
}

func TestStoreFolderCreator(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFS(root)
	require.NoError(t, err)
	c := StoreFolderCreator{Store: store}

	got, err := c.CreateFolderStructure(context.Background(), router.Document{Filename: "x.md"}, "architecture/platform")
	require.NoError(t, err)
	assert.Equal(t, "architecture/platform", got)
	assert.DirExists(t, filepath.Join(root, "architecture", "platform"))

	got, err = c.CreateFolderStructure(context.Background(), router.Document{Filename: "Vendor Review Notes.md"}, "")
	require.NoError(t, err)
	assert.Equal(t, "uncategorized/vendor-review", got)
	assert.DirExists(t, filepath.Join(root, "uncategorized", "vendor-review"))

	got, err = c.CreateFolderStructure(context.Background(), router.Document{Filename: "1.md"}, "../")
	require.NoError(t, err)
	assert.Equal(t, "uncategorized/misc", got)
}

func TestFileProjectState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte("current_sprint: sprint-12\n"), 0o644))

	got, err := FileProjectState{Path: path}.CurrentSprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sprint-12", got)

	_, err = FileProjectState{Path: filepath.Join(dir, "missing.yaml")}.CurrentSprint(context.Background())
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("name: demo\n"), 0o644))
	_, err = FileProjectState{Path: path}.CurrentSprint(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = FileProjectState{}.CurrentSprint(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
