// Package registry maintains the versioned metadata registry of every routed
// document. Mutations are appended to a queue and replayed under a file lock;
// each successful drain bumps the version and persists the whole registry.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/lock"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/queue"
	"github.com/starford/scriptorium/internal/storage"
)

// DefaultLockRetries is the retry budget used when none is configured.
const DefaultLockRetries = 50

// Indexer receives the registry after every successful drain.
type Indexer interface {
	SyncRegistry(reg *models.Registry) error
}

// Paths locates the manager's files.
type Paths struct {
	Registry string
	Queue    string
	Lock     string
}

// Manager is the registry façade: it owns the lock and the queue and applies
// queued mutations.
type Manager struct {
	paths      Paths
	files      Reader
	queue      *queue.Queue
	lock       *lock.Lock
	mu         sync.Mutex // serializes lock spans within this process
	maxRetries int
	indexer    Indexer
	logger     *slog.Logger
	now        func() time.Time
	lockOpts   []lock.Option
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithIndexer sets the post-drain indexer.
func WithIndexer(idx Indexer) Option {
	return func(m *Manager) { m.indexer = idx }
}

// WithClock injects the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLockRetries sets how many times acquisition is retried.
func WithLockRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithLockOptions passes options through to the underlying lock.
func WithLockOptions(opts ...lock.Option) Option {
	return func(m *Manager) { m.lockOpts = append(m.lockOpts, opts...) }
}

// NewManager creates a Manager. files is the document store used to measure
// token counts.
func NewManager(paths Paths, files Reader, opts ...Option) *Manager {
	m := &Manager{
		paths:      paths,
		files:      files,
		maxRetries: DefaultLockRetries,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.paths.Lock == "" {
		m.paths.Lock = m.paths.Registry + ".lock"
	}
	if m.paths.Queue == "" {
		m.paths.Queue = strings.TrimSuffix(m.paths.Registry, filepath.Ext(m.paths.Registry)) + ".queue.jsonl"
	}
	m.queue = queue.New(m.paths.Queue, m.logger)
	m.lock = lock.New(m.paths.Lock, append([]lock.Option{lock.WithLogger(m.logger)}, m.lockOpts...)...)
	return m
}

// Paths returns the resolved file locations.
func (m *Manager) Paths() Paths { return m.paths }

// DrainResult reports one ProcessQueue cycle.
type DrainResult struct {
	Applied       int `json:"applied"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	Version       int `json:"version"`
	DocumentCount int `json:"document_count"`
}

// Init creates an empty registry file unless one exists. It reports whether
// a new file was written.
func (m *Manager) Init(ctx context.Context) (bool, error) {
	if err := m.acquire(ctx); err != nil {
		return false, err
	}
	defer m.release()

	if _, err := os.Stat(m.paths.Registry); err == nil {
		return false, nil
	}
	reg := models.NewRegistry()
	reg.LastUpdated = m.now().UTC()
	if err := m.save(reg); err != nil {
		return false, err
	}
	m.logger.Info("registry: initialized", slog.String("path", m.paths.Registry))
	return true, nil
}

// Load reads the persisted registry. A missing file yields an empty registry.
func (m *Manager) Load() (*models.Registry, error) {
	data, err := os.ReadFile(m.paths.Registry)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %v: %w", m.paths.Registry, err, apperr.ErrPersistence)
	}
	reg := models.NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("registry: decode %s: %v: %w", m.paths.Registry, err, apperr.ErrPersistence)
	}
	if reg.Documents == nil {
		reg.Documents = make(map[string]map[string]*models.Document)
	}
	return reg, nil
}

// QueueUpdate appends p to the queue under the lock and then drains the
// queue. A lock failure while appending means nothing was queued; a failure
// while draining leaves the update durably queued for the next drain.
func (m *Manager) QueueUpdate(ctx context.Context, p queue.Payload) (*DrainResult, error) {
	return m.QueueUpdates(ctx, p)
}

// QueueUpdates appends every payload under a single lock hold and drains
// once. Payloads are validated up front so a bad one queues nothing.
func (m *Manager) QueueUpdates(ctx context.Context, ps ...queue.Payload) (*DrainResult, error) {
	for _, p := range ps {
		if p == nil {
			return nil, fmt.Errorf("registry: nil update: %w", apperr.ErrInvalidUpdate)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("registry: %s: %v: %w", p.Action(), err, apperr.ErrInvalidUpdate)
		}
	}
	if len(ps) > 0 {
		if err := m.acquire(ctx); err != nil {
			return nil, fmt.Errorf("registry: queue %s: %w", ps[0].Action(), err)
		}
		for _, p := range ps {
			rec, err := m.queue.Append(p)
			if err != nil {
				m.release()
				return nil, err
			}
			m.logger.Debug("registry: queued update", slog.String("action", string(rec.Action())))
		}
		m.release()
	}
	return m.ProcessQueue(ctx)
}

// ProcessQueue drains the queue: reload the registry, replay every record
// in file order, bump the version, persist, truncate the queue. The lock is
// always released. A record that fails to apply is logged and does not
// undo earlier records of the same cycle. The version is bumped only when at
// least one record parsed; a queue holding nothing but malformed lines is
// cleared without a bump.
func (m *Manager) ProcessQueue(ctx context.Context) (*DrainResult, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, fmt.Errorf("registry: process queue: %w", err)
	}
	defer m.release()

	reg, err := m.Load()
	if err != nil {
		return nil, err
	}
	records, skipped, err := m.queue.ReadAll()
	if err != nil {
		return nil, err
	}

	res := &DrainResult{Skipped: skipped, Version: reg.Version, DocumentCount: reg.DocumentCount}
	if len(records) == 0 {
		if skipped > 0 {
			if err := m.queue.Truncate(); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	store := NewStore(reg, m.files, m.now, m.logger)
	for _, rec := range records {
		if err := store.Apply(rec); err != nil {
			res.Failed++
			m.logger.Warn("registry: update failed",
				slog.String("action", string(rec.Action())),
				slog.String("error", err.Error()))
			continue
		}
		res.Applied++
	}

	reg.Version++
	store.Recount()
	reg.LastUpdated = m.now().UTC()
	if err := m.save(reg); err != nil {
		return nil, err
	}
	if err := m.queue.Truncate(); err != nil {
		return nil, err
	}

	res.Version = reg.Version
	res.DocumentCount = reg.DocumentCount
	m.logger.Info("registry: queue processed",
		slog.Int("version", reg.Version),
		slog.Int("applied", res.Applied),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int("documents", reg.DocumentCount))

	if m.indexer != nil {
		if err := m.indexer.SyncRegistry(reg); err != nil {
			m.logger.Warn("registry: index sync failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// Pending returns the number of queued, not yet drained records.
func (m *Manager) Pending() (int, error) {
	return m.queue.Pending()
}

// FindDocument returns documents whose key or summary contains term,
// case-insensitively, ordered by category then key.
func (m *Manager) FindDocument(term string) ([]*models.Document, error) {
	reg, err := m.Load()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	var out []*models.Document
	for _, doc := range sortedDocuments(reg) {
		if strings.Contains(strings.ToLower(doc.Key), needle) ||
			strings.Contains(strings.ToLower(doc.Summary), needle) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Lookup returns the document owning path through either representation.
func (m *Manager) Lookup(p string) (*models.Document, error) {
	reg, err := m.Load()
	if err != nil {
		return nil, err
	}
	if doc := NewStore(reg, nil, m.now, m.logger).FindByPath(p); doc != nil {
		return doc, nil
	}
	return nil, fmt.Errorf("registry: %s: %w", p, apperr.ErrNotFound)
}

// FindByFilename returns the first document (by category, key) whose verbose
// file name equals filename, restricted to category when non-empty.
func (m *Manager) FindByFilename(filename, category string) (*models.Document, error) {
	reg, err := m.Load()
	if err != nil {
		return nil, err
	}
	for _, doc := range sortedDocuments(reg) {
		if category != "" && doc.Category != category {
			continue
		}
		if path.Base(doc.Representations.Verbose) == filename {
			return doc, nil
		}
	}
	return nil, apperr.ErrNotFound
}

// Documents returns every registered document ordered by category then key.
func (m *Manager) Documents() ([]*models.Document, error) {
	reg, err := m.Load()
	if err != nil {
		return nil, err
	}
	return sortedDocuments(reg), nil
}

func (m *Manager) save(reg *models.Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %v: %w", err, apperr.ErrPersistence)
	}
	if err := storage.WriteFileAtomic(m.paths.Registry, append(data, '\n')); err != nil {
		return fmt.Errorf("registry: save: %v: %w", err, apperr.ErrPersistence)
	}
	return nil
}

// acquire takes the in-process mutex and then the file lock. Goroutines
// sharing a Manager queue on the mutex instead of backing off on the file.
func (m *Manager) acquire(ctx context.Context) error {
	m.mu.Lock()
	if err := m.lock.Acquire(ctx, m.maxRetries); err != nil {
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) release() {
	defer m.mu.Unlock()
	if err := m.lock.Release(); err != nil {
		m.logger.Error("registry: release lock failed", slog.String("error", err.Error()))
	}
}
