// Package testutil provides shared test helpers for setting up stores,
// registries, routers and search indexes.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/scriptorium/internal/collab"
	"github.com/starford/scriptorium/internal/docservice"
	"github.com/starford/scriptorium/internal/index"
	"github.com/starford/scriptorium/internal/lock"
	"github.com/starford/scriptorium/internal/registry"
	"github.com/starford/scriptorium/internal/router"
	"github.com/starford/scriptorium/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "scriptorium-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary document store.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Env is a fully wired stack on temporary files.
type Env struct {
	Root     string
	StateDir string
	Store    *storage.FS
	DB       *index.DB
	Manager  *registry.Manager
	Router   *router.Router
	Service  *docservice.Service
}

// NewEnv wires a store, registry, index, router and docservice the way the
// application does, using temporary directories.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	root, store := TestStore(t)
	state := t.TempDir()
	db := TestDB(t)
	logger := Logger()

	mgr := registry.NewManager(registry.Paths{
		Registry: filepath.Join(state, "registry.json"),
	}, store,
		registry.WithLogger(logger),
		registry.WithIndexer(index.NewSyncer(db, store, logger)),
		registry.WithLockRetries(20),
		registry.WithLockOptions(lock.WithBackoff(5*time.Millisecond)),
	)
	rt := router.New(store,
		router.WithRules(router.DefaultRules()),
		router.WithLearnedStore(router.OpenLearned(filepath.Join(state, "learned.yaml"), logger)),
		router.WithLifecycle(collab.RegistryLifecycle{Finder: mgr}),
		router.WithFolderCreator(collab.StoreFolderCreator{Store: store}),
		router.WithProjectState(collab.FileProjectState{Path: filepath.Join(state, "project.yaml")}),
		router.WithLogger(logger),
	)
	return &Env{
		Root:     root,
		StateDir: state,
		Store:    store,
		DB:       db,
		Manager:  mgr,
		Router:   rt,
		Service:  docservice.NewService(rt, mgr, store, db),
	}
}
