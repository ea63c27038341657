package index

import (
	"os"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "scriptorium-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func row(category, key, checksum string) DocumentRow {
	return DocumentRow{
		Category:    category,
		Key:         key,
		VerbosePath: category + "/" + key + ".md",
		Checksum:    checksum,
		ModifiedAt:  time.Now(),
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`).Scan(&count); err != nil {
		t.Fatalf("documents table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM dependencies`).Scan(&count); err != nil {
		t.Fatalf("dependencies table missing: %v", err)
	}
}

func TestUpsertAndChecksums(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertDocument(row("design", "api", "abc123"), "body", []string{"schema"}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	sums, err := db.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if got := sums["design/api"]; got != "abc123" {
		t.Errorf("checksum = %q, want %q", got, "abc123")
	}
}

func TestDependents(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("design", "api", "1"), "", []string{"schema"})
	_ = db.UpsertDocument(row("ops", "runbook", "2"), "", []string{"schema", "api"})

	deps, err := db.Dependents("schema")
	if err != nil {
		t.Fatalf("Dependents: %v", err)
	}
	if len(deps) != 2 || deps[0] != "design/api" || deps[1] != "ops/runbook" {
		t.Errorf("dependents = %v, want [design/api ops/runbook]", deps)
	}

	out, err := db.Dependencies("ops/runbook")
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(out) != 2 || out[0] != "schema" || out[1] != "api" {
		t.Errorf("dependencies = %v, want [schema api]", out)
	}
}

func TestDeleteDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("a", "gone", "x"), "body", []string{"target"})

	if err := db.DeleteDocument("a/gone"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	sums, _ := db.AllChecksums()
	if _, ok := sums["a/gone"]; ok {
		t.Error("deleted document still indexed")
	}
	deps, _ := db.Dependents("target")
	if len(deps) != 0 {
		t.Errorf("expected 0 dependents after delete, got %d", len(deps))
	}
}

func TestUpsertReplacesDependencies(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(row("a", "doc", "1"), "", []string{"x"})
	_ = db.UpsertDocument(row("a", "doc", "2"), "", []string{"y"})

	if deps, _ := db.Dependents("x"); len(deps) != 0 {
		t.Error("old dependency should be removed on upsert")
	}
	if deps, _ := db.Dependents("y"); len(deps) != 1 {
		t.Error("new dependency should exist")
	}
	sums, _ := db.AllChecksums()
	if sums["a/doc"] != "2" {
		t.Errorf("checksum = %q, want %q", sums["a/doc"], "2")
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	d := row("research", "market", "1")
	d.Summary = "Market sizing"
	_ = db.UpsertDocument(d, "uniqueword appears here", nil)

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "research/market" {
		t.Fatalf("search results = %+v, want 1 hit for research/market", results)
	}
	if results[0].Path != "research/market.md" || results[0].Summary != "Market sizing" {
		t.Errorf("result = %+v", results[0])
	}
}
