package internal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/scriptorium/internal/docservice"
	"github.com/starford/scriptorium/internal/router"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "docs")
	cfg.Registry.Path = filepath.Join(dir, "state", "registry.json")
	cfg.Registry.LockBackoff = 5 * time.Millisecond
	cfg.Router.LearnedPath = filepath.Join(dir, "state", "learned.yaml")
	cfg.Router.ProjectStatePath = filepath.Join(dir, "state", "project.yaml")
	cfg.SQLite.Path = filepath.Join(dir, "state", "index.db")
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStack_PublishEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(filepath.Dir(cfg.Router.ProjectStatePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Router.ProjectStatePath, []byte("current_sprint: sprint-07\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stack, err := NewStack(cfg, discard())
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	t.Cleanup(func() { stack.Close() })
	ctx := context.Background()

	if created, err := stack.Manager.Init(ctx); err != nil || !created {
		t.Fatalf("Init = %v, %v; want created", created, err)
	}

	res, err := stack.Service.Publish(ctx, docservice.PublishRequest{Filename: "sprint-plan.md", Content: "# Sprint 7"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if want := "orchestration/sprints/sprint-07/sprint-plan.md"; res.Path != want {
		t.Errorf("path = %q, want %q", res.Path, want)
	}

	results, err := stack.Service.Search(ctx, "Sprint", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("search results = %d, want 1", len(results))
	}
}

func TestNewStack_IndexDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Path = ""

	stack, err := NewStack(cfg, discard(), router.WithDryRun())
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	if stack.DB != nil {
		t.Error("DB should be nil when the index is disabled")
	}
	if err := stack.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := stack.Service.Search(context.Background(), "x", 5); err != docservice.ErrIndexDisabled {
		t.Errorf("Search err = %v, want ErrIndexDisabled", err)
	}
}
