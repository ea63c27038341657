package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/lock"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/queue"
	"github.com/starford/scriptorium/internal/storage"
)

type env struct {
	store *storage.FS
	mgr   *Manager
	dir   string
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	store, err := storage.NewFS(docs)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{
		WithLogger(logger),
		WithLockRetries(2),
		WithLockOptions(lock.WithBackoff(time.Millisecond)),
	}
	mgr := NewManager(Paths{
		Registry: filepath.Join(dir, "state", "registry.json"),
		Queue:    filepath.Join(dir, "state", "queue.jsonl"),
		Lock:     filepath.Join(dir, "state", "registry.lock"),
	}, store, append(base, opts...)...)
	return &env{store: store, mgr: mgr, dir: dir}
}

func (e *env) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, e.store.Write(path, []byte(content)))
}

func sumBuckets(reg *models.Registry) int {
	n := 0
	for _, b := range reg.Documents {
		n += len(b)
	}
	return n
}

func TestCreateThenConvert(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "implementation/api-design.md", "# API Design\n\n"+strings.Repeat("endpoint details ", 40))
	e.write(t, "implementation/api-design.json", `{"title":"API Design"}`)

	res, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "implementation/api-design.md", Agent: "architect"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 1, res.Applied)

	created, err := e.mgr.Lookup("implementation/api-design.md")
	require.NoError(t, err)
	verbose := created.TokenCounts.Verbose
	require.Positive(t, verbose)
	assert.Zero(t, created.TokenCounts.Compact)
	assert.Equal(t, "API Design", created.Summary)
	assert.Equal(t, "architect", created.OwningAgent)

	res, err = e.mgr.QueueUpdate(ctx, queue.Convert{JSONPath: "implementation/api-design.json"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)

	reg, err := e.mgr.Load()
	require.NoError(t, err)
	require.Equal(t, 1, reg.DocumentCount)
	doc := reg.Documents["implementation"]["api-design"]
	require.NotNil(t, doc)
	assert.Equal(t, "implementation/api-design.md", doc.Representations.Verbose)
	assert.Equal(t, "implementation/api-design.json", doc.Representations.Compact)
	assert.Positive(t, doc.TokenCounts.Compact)
	assert.Equal(t, verbose, doc.TokenCounts.Verbose)
}

func TestProcessQueue_EmptyQueueKeepsVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "notes/a.md", "a")
	_, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "notes/a.md"})
	require.NoError(t, err)

	res, err := e.mgr.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Zero(t, res.Applied)

	reg, err := e.mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Version)
}

func TestProcessQueue_AppliesAllQueuedOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	paths := []string{"research/one.md", "research/two.md", "planning/three.md", "four.md"}
	for _, p := range paths {
		e.write(t, p, "# "+p)
		_, err := e.mgr.queue.Append(queue.Create{Path: p})
		require.NoError(t, err)
	}
	_, err := e.mgr.queue.Append(queue.Dependency{Path: "research/two.md", Dependencies: []string{"one"}})
	require.NoError(t, err)

	res, err := e.mgr.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Applied)
	assert.Equal(t, 1, res.Version)

	reg, err := e.mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, reg.DocumentCount)
	assert.Equal(t, sumBuckets(reg), reg.DocumentCount)
	assert.Contains(t, reg.Documents, DefaultCategory)
	assert.Equal(t, []string{"one"}, reg.Documents["research"]["two"].Dependencies)

	n, err := e.mgr.Pending()
	require.NoError(t, err)
	assert.Zero(t, n, "queue must be empty after drain")

	// A second drain replays nothing.
	res, err = e.mgr.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
}

func TestProcessQueue_SkipsMalformedAndContinues(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a/x.md", "x")
	_, err := e.mgr.queue.Append(queue.Create{Path: "a/x.md"})
	require.NoError(t, err)
	f, err := os.OpenFile(e.mgr.Paths().Queue, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("garbage line\n")
	require.NoError(t, f.Close())
	_, err = e.mgr.queue.Append(queue.Update{Path: "missing/doc.md"})
	require.NoError(t, err)

	res, err := e.mgr.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.DocumentCount)
}

func TestProcessQueue_OnlyMalformedClearsQueueWithoutBump(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(e.mgr.Paths().Queue), 0o755))
	require.NoError(t, os.WriteFile(e.mgr.Paths().Queue, []byte("{oops\n"), 0o644))

	res, err := e.mgr.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Version)
	assert.Equal(t, 1, res.Skipped)
	n, _ := e.mgr.Pending()
	assert.Zero(t, n)
}

func TestCreateIsIdempotentPerPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "research/market.md", "short")
	_, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "research/market.md"})
	require.NoError(t, err)

	e.write(t, "research/market.md", strings.Repeat("longer content ", 10))
	_, err = e.mgr.QueueUpdate(ctx, queue.Create{Path: "research/market.md", Summary: "Market sizing"})
	require.NoError(t, err)

	docs, err := e.mgr.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Market sizing", docs[0].Summary)
	assert.Equal(t, Tokens(len(strings.Repeat("longer content ", 10))), docs[0].TokenCounts.Verbose)
}

func TestKeysAreUniqueWithinCategory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "notes/plan.md", "a")
	e.write(t, "notes/plan.txt", "b")
	_, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "notes/plan.md"})
	require.NoError(t, err)
	_, err = e.mgr.QueueUpdate(ctx, queue.Create{Path: "notes/plan.txt"})
	require.NoError(t, err)

	reg, err := e.mgr.Load()
	require.NoError(t, err)
	assert.Contains(t, reg.Documents["notes"], "plan")
	assert.Contains(t, reg.Documents["notes"], "plan-2")
}

func TestUpdateRemeasuresTouchedRepresentation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "specs/api.md", "1234")
	e.write(t, "specs/api.json", "12")
	_, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "specs/api.md"})
	require.NoError(t, err)
	_, err = e.mgr.QueueUpdate(ctx, queue.Convert{JSONPath: "specs/api.json"})
	require.NoError(t, err)

	e.write(t, "specs/api.json", strings.Repeat("x", 40))
	_, err = e.mgr.QueueUpdate(ctx, queue.Update{Path: "specs/api.json", Summary: "compacted"})
	require.NoError(t, err)

	doc, err := e.mgr.Lookup("specs/api.json")
	require.NoError(t, err)
	assert.Equal(t, 10, doc.TokenCounts.Compact)
	assert.Equal(t, 1, doc.TokenCounts.Verbose)
	assert.Equal(t, "compacted", doc.Summary)
}

func TestConvertWithoutCreateMakesStub(t *testing.T) {
	e := newEnv(t)
	e.write(t, "analysis/risk.json", `{"risk":"low"}`)
	_, err := e.mgr.QueueUpdate(context.Background(), queue.Convert{JSONPath: "analysis/risk.json"})
	require.NoError(t, err)

	doc, err := e.mgr.Lookup("analysis/risk.json")
	require.NoError(t, err)
	assert.Equal(t, "analysis/risk.md", doc.Representations.Verbose)
	assert.Zero(t, doc.TokenCounts.Verbose)
	assert.Positive(t, doc.TokenCounts.Compact)
	assert.Equal(t, "risk", doc.Key)
}

func TestDeleteByEitherRepresentation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "a/one.md", "1")
	e.write(t, "a/one.json", "1")
	e.write(t, "a/two.md", "2")
	for _, p := range []queue.Payload{
		queue.Create{Path: "a/one.md"},
		queue.Convert{JSONPath: "a/one.json"},
		queue.Create{Path: "a/two.md"},
	} {
		_, err := e.mgr.QueueUpdate(ctx, p)
		require.NoError(t, err)
	}

	_, err := e.mgr.QueueUpdate(ctx, queue.Delete{Path: "a/one.json"})
	require.NoError(t, err)
	reg, _ := e.mgr.Load()
	assert.Equal(t, 1, reg.DocumentCount)

	_, err = e.mgr.QueueUpdate(ctx, queue.Delete{Path: "a/two.md"})
	require.NoError(t, err)
	reg, _ = e.mgr.Load()
	assert.Zero(t, reg.DocumentCount)
	assert.NotContains(t, reg.Documents, "a", "empty buckets are dropped")
	assert.Equal(t, 5, reg.Version)
}

func TestDependencyStripsSelfAndDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "design/api.md", "x")
	_, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "design/api.md"})
	require.NoError(t, err)

	_, err = e.mgr.QueueUpdate(ctx, queue.Dependency{
		Category:     "design",
		Key:          "api",
		Dependencies: []string{"overview", "api", "schema", "overview"},
	})
	require.NoError(t, err)

	doc, err := e.mgr.Lookup("design/api.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"overview", "schema"}, doc.Dependencies)
}

func TestFindDocumentCaseInsensitive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "business/market-analysis.md", "# Market Analysis")
	e.write(t, "ops/runbook.md", "# Runbook")
	_, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "business/market-analysis.md"})
	require.NoError(t, err)
	_, err = e.mgr.QueueUpdate(ctx, queue.Create{Path: "ops/runbook.md", Summary: "On-call MARKET escalation"})
	require.NoError(t, err)

	found, err := e.mgr.FindDocument("market")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "business", found[0].Category)
	assert.Equal(t, "ops", found[1].Category)

	found, err = e.mgr.FindDocument("nothing-like-this")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestGetStatistics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "a/one.md", strings.Repeat("v", 400))
	e.write(t, "a/one.json", strings.Repeat("c", 100))
	e.write(t, "b/two.md", strings.Repeat("v", 400))
	for _, p := range []queue.Payload{
		queue.Create{Path: "a/one.md"},
		queue.Convert{JSONPath: "a/one.json"},
		queue.Create{Path: "b/two.md"},
	} {
		_, err := e.mgr.QueueUpdate(ctx, p)
		require.NoError(t, err)
	}

	st, err := e.mgr.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalDocuments)
	assert.Equal(t, 1, st.WithCompact)
	assert.InDelta(t, 0.5, st.Coverage, 1e-9)
	assert.Equal(t, 200, st.VerboseTokens)
	assert.Equal(t, 25, st.CompactTokens)
	assert.InDelta(t, 87.5, st.TokenReduction, 1e-9)
	require.Len(t, st.Categories, 2)
	assert.Equal(t, "a", st.Categories[0].Name)
	assert.Equal(t, 1, st.Categories[0].WithCompact)
}

func TestReduction(t *testing.T) {
	assert.Zero(t, Reduction(0, 10))
	assert.Zero(t, Reduction(10, 0))
	assert.InDelta(t, 75.0, Reduction(100, 25), 1e-9)
}

func TestLockUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "a/x.md", "x")

	holder := lock.New(e.mgr.Paths().Lock, lock.WithHolderID("other-process"))
	require.NoError(t, holder.Acquire(ctx, 0))

	_, err := e.mgr.QueueUpdate(ctx, queue.Create{Path: "a/x.md"})
	require.ErrorIs(t, err, apperr.ErrLockUnavailable)
	n, _ := e.mgr.Pending()
	assert.Zero(t, n, "append under a held lock queues nothing")

	_, err = e.mgr.queue.Append(queue.Create{Path: "a/x.md"})
	require.NoError(t, err)
	_, err = e.mgr.ProcessQueue(ctx)
	require.ErrorIs(t, err, apperr.ErrLockUnavailable)
	n, _ = e.mgr.Pending()
	assert.Equal(t, 1, n, "update stays queued for the next drain")

	require.NoError(t, holder.Release())
	res, err := e.mgr.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DocumentCount)
}

func TestConcurrentDrainsReclaimStaleLock(t *testing.T) {
	e := newEnv(t, WithLockRetries(500))
	ctx := context.Background()
	e.write(t, "ops/a.md", "a")
	e.write(t, "ops/b.md", "b")
	_, err := e.mgr.queue.Append(queue.Create{Path: "ops/a.md"})
	require.NoError(t, err)
	_, err = e.mgr.queue.Append(queue.Create{Path: "ops/b.md"})
	require.NoError(t, err)

	stale := lock.Sentinel{
		HolderID:   "crashed",
		AcquiredAt: time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	data, _ := json.Marshal(stale)
	require.NoError(t, os.WriteFile(e.mgr.Paths().Lock, data, 0o644))

	other := NewManager(e.mgr.Paths(), e.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithLockRetries(500),
		WithLockOptions(lock.WithBackoff(time.Millisecond)))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, m := range []*Manager{e.mgr, other} {
		wg.Add(1)
		go func(i int, m *Manager) {
			defer wg.Done()
			_, errs[i] = m.ProcessQueue(ctx)
		}(i, m)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	reg, err := e.mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Version, "only the drain that saw records bumps the version")
	assert.Equal(t, 2, reg.DocumentCount)
	assert.Len(t, reg.Documents["ops"], 2)
	_, err = os.Stat(e.mgr.Paths().Lock)
	assert.True(t, os.IsNotExist(err))
}

func TestSharedManagerConcurrentQueueUpdates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const workers = 8
	for i := 0; i < workers; i++ {
		e.write(t, "ops/doc-"+strconv.Itoa(i)+".md", "content")
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.mgr.QueueUpdate(ctx, queue.Create{Path: "ops/doc-" + strconv.Itoa(i) + ".md"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err, "goroutines sharing a manager must not exhaust the file lock")
	}

	reg, err := e.mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, workers, reg.DocumentCount)
	assert.GreaterOrEqual(t, reg.Version, 1)
	assert.LessOrEqual(t, reg.Version, workers)
	n, err := e.mgr.Pending()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(e.mgr.Paths().Lock)
	assert.True(t, os.IsNotExist(err))
}

func TestPersistenceFailureKeepsQueue(t *testing.T) {
	e := newEnv(t)
	blocker := filepath.Join(e.dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))

	mgr := NewManager(Paths{
		Registry: filepath.Join(blocker, "registry.json"),
		Queue:    filepath.Join(e.dir, "q.jsonl"),
		Lock:     filepath.Join(e.dir, "r.lock"),
	}, e.store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	e.write(t, "a/x.md", "x")
	_, err := mgr.QueueUpdate(context.Background(), queue.Create{Path: "a/x.md"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPersistence), "got %v", err)

	n, _ := mgr.Pending()
	assert.Equal(t, 1, n)
	_, err = os.Stat(filepath.Join(e.dir, "r.lock"))
	assert.True(t, os.IsNotExist(err), "lock released after failure")
}

type recordingIndexer struct {
	calls   int
	lastVer int
}

func (r *recordingIndexer) SyncRegistry(reg *models.Registry) error {
	r.calls++
	r.lastVer = reg.Version
	return errors.New("index offline")
}

func TestIndexerFailureDoesNotFailDrain(t *testing.T) {
	idx := &recordingIndexer{}
	e := newEnv(t, WithIndexer(idx))
	e.write(t, "a/x.md", "x")
	_, err := e.mgr.QueueUpdate(context.Background(), queue.Create{Path: "a/x.md"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, 1, idx.lastVer)
}

func TestInit(t *testing.T) {
	e := newEnv(t)
	created, err := e.mgr.Init(context.Background())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.mgr.Init(context.Background())
	require.NoError(t, err)
	assert.False(t, created)

	reg, err := e.mgr.Load()
	require.NoError(t, err)
	assert.Zero(t, reg.Version)
	assert.NotNil(t, reg.Documents)
}

func TestFindByFilename(t *testing.T) {
	e := newEnv(t)
	e.write(t, "business-strategy/research/market-analysis.md", "m")
	_, err := e.mgr.QueueUpdate(context.Background(), queue.Create{Path: "business-strategy/research/market-analysis.md"})
	require.NoError(t, err)

	doc, err := e.mgr.FindByFilename("market-analysis.md", "")
	require.NoError(t, err)
	assert.Equal(t, "research/market-analysis", doc.Key)
	assert.Equal(t, "research", doc.Subcategory)

	_, err = e.mgr.FindByFilename("market-analysis.md", "orchestration")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
