package index

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/scriptorium/internal/models"
)

type mapReader map[string]string

func (m mapReader) Read(path string) ([]byte, error) {
	s, ok := m[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(s), nil
}

func registryWith(docs ...*models.Document) *models.Registry {
	reg := models.NewRegistry()
	for _, d := range docs {
		if reg.Documents[d.Category] == nil {
			reg.Documents[d.Category] = map[string]*models.Document{}
		}
		reg.Documents[d.Category][d.Key] = d
		reg.DocumentCount++
	}
	return reg
}

func TestSyncRegistry(t *testing.T) {
	db := testDB(t)
	files := mapReader{
		"design/api.md":  "---\ntags: [rest]\n---\n# API\n\nEndpoints for zanzibar.",
		"ops/runbook.md": "# Runbook",
	}
	s := NewSyncer(db, files, slog.New(slog.NewTextHandler(io.Discard, nil)))

	api := &models.Document{Category: "design", Key: "api", Checksum: "c1", Dependencies: []string{"schema"},
		Representations: models.Representations{Verbose: "design/api.md"}}
	runbook := &models.Document{Category: "ops", Key: "runbook", Checksum: "c2",
		Representations: models.Representations{Verbose: "ops/runbook.md"}}

	if err := s.SyncRegistry(registryWith(api, runbook)); err != nil {
		t.Fatalf("SyncRegistry: %v", err)
	}
	results, err := db.Search("zanzibar", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "design/api" {
		t.Fatalf("search = %+v, want design/api", results)
	}
	if deps, _ := db.Dependents("schema"); len(deps) != 1 {
		t.Errorf("dependents(schema) = %v, want 1", deps)
	}

	// Unchanged checksum still refreshes dependencies; removed documents go.
	api.Dependencies = []string{"glossary"}
	if err := s.SyncRegistry(registryWith(api)); err != nil {
		t.Fatalf("SyncRegistry: %v", err)
	}
	sums, _ := db.AllChecksums()
	if _, ok := sums["ops/runbook"]; ok {
		t.Error("stale document not removed")
	}
	if deps, _ := db.Dependents("glossary"); len(deps) != 1 {
		t.Errorf("dependents(glossary) = %v, want 1", deps)
	}
	if deps, _ := db.Dependents("schema"); len(deps) != 0 {
		t.Errorf("dependents(schema) = %v, want none", deps)
	}
}

func TestSyncRegistry_UnreadableFileIndexesMetadata(t *testing.T) {
	db := testDB(t)
	s := NewSyncer(db, mapReader{}, nil)
	doc := &models.Document{Category: "a", Key: "ghost", Summary: "phantom summary",
		Representations: models.Representations{Verbose: "a/ghost.md"}}
	if err := s.SyncRegistry(registryWith(doc)); err != nil {
		t.Fatalf("SyncRegistry: %v", err)
	}
	results, _ := db.Search("phantom", 10)
	if len(results) != 1 {
		t.Errorf("search = %+v, want 1 hit", results)
	}
}
