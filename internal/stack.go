package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/scriptorium/internal/collab"
	"github.com/starford/scriptorium/internal/docservice"
	"github.com/starford/scriptorium/internal/index"
	"github.com/starford/scriptorium/internal/lock"
	"github.com/starford/scriptorium/internal/registry"
	"github.com/starford/scriptorium/internal/router"
	"github.com/starford/scriptorium/internal/storage"
)

// Stack is the wired set of components shared by every entry point.
type Stack struct {
	Config  *Config
	Logger  *slog.Logger
	Store   *storage.FS
	DB      *index.DB
	Manager *registry.Manager
	Router  *router.Router
	Service *docservice.Service
}

// NewStack opens the store, registry, optional search index and router
// described by cfg. Extra router options are appended last.
func NewStack(cfg *Config, logger *slog.Logger, routerOpts ...router.Option) (*Stack, error) {
	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Registry.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	s := &Stack{Config: cfg, Logger: logger, Store: store}

	mgrOpts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithLockRetries(cfg.Registry.LockRetries),
		registry.WithLockOptions(
			lock.WithTimeout(cfg.Registry.LockTimeout),
			lock.WithBackoff(cfg.Registry.LockBackoff),
		),
	}
	if cfg.SQLite.Enabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		s.DB = db
		mgrOpts = append(mgrOpts, registry.WithIndexer(index.NewSyncer(db, store, logger)))
	}

	s.Manager = registry.NewManager(registry.Paths{
		Registry: cfg.Registry.Path,
		Queue:    cfg.Registry.QueuePath,
		Lock:     cfg.Registry.LockPath,
	}, store, mgrOpts...)

	opts := []router.Option{
		router.WithRulesPath(cfg.Router.RulesPath),
		router.WithLearnedStore(router.OpenLearned(cfg.Router.LearnedPath, logger)),
		router.WithLifecycle(collab.RegistryLifecycle{Finder: s.Manager}),
		router.WithFolderCreator(collab.StoreFolderCreator{Store: store}),
		router.WithLogger(logger),
		router.WithHistorySize(cfg.Router.HistorySize),
		router.WithVerbose(cfg.Router.Verbose),
	}
	if cfg.Router.ProjectStatePath != "" {
		opts = append(opts, router.WithProjectState(collab.FileProjectState{Path: cfg.Router.ProjectStatePath}))
	}
	s.Router = router.New(store, append(opts, routerOpts...)...)

	if s.DB != nil {
		s.Service = docservice.NewService(s.Router, s.Manager, store, s.DB)
	} else {
		s.Service = docservice.NewService(s.Router, s.Manager, store, nil)
	}
	return s, nil
}

// Close releases the search index.
func (s *Stack) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
