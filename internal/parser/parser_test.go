package parser

import (
	"strings"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: API Design\ntags:\n  - api\n  - Backend\n---\n# API Design\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "API Design" {
		t.Errorf("title = %q, want %q", r.Title, "API Design")
	}
	if len(r.Tags) != 2 || r.Tags[0] != "api" || r.Tags[1] != "backend" {
		t.Errorf("tags = %v, want [api backend]", r.Tags)
	}
	if r.Body != "# API Design\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
	if r.Summary != "API Design" {
		t.Errorf("summary = %q", r.Summary)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	r, err := Parse([]byte("# Just a heading\nSome text.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	r, err := Parse([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractPurpose(t *testing.T) {
	body := "# Market Analysis\n\n## Purpose\n\nAssess competitor pricing\nacross regions.\n\n## Findings\nnone"
	got := extractPurpose(body)
	if got != "Assess competitor pricing across regions." {
		t.Errorf("purpose = %q", got)
	}
	if got := extractPurpose("## Overview\nHigh level view.\n"); got != "High level view." {
		t.Errorf("overview purpose = %q", got)
	}
	if got := extractPurpose("no headings here"); got != "" {
		t.Errorf("expected empty purpose, got %q", got)
	}
}

func TestExtractTags_AllSources(t *testing.T) {
	fm := map[string]any{"tags": []any{"alpha"}}
	body := "tags: Beta, gamma\nSome text #delta and #alpha again."
	tags := extractTags(body, fm)
	want := []string{"alpha", "beta", "gamma", "delta"}
	if strings.Join(tags, ",") != strings.Join(want, ",") {
		t.Errorf("tags = %v, want %v", tags, want)
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	links := extractLinks("See [[overview]] and [[api-design|the API]].\nAlso [[overview]] again.")
	if len(links) != 2 || links[0] != "overview" || links[1] != "api-design" {
		t.Errorf("links = %v", links)
	}
}

func TestDeriveSummary_Precedence(t *testing.T) {
	fm := map[string]any{"summary": "From frontmatter"}
	if got := deriveSummary(fm, "text", "Title"); got != "From frontmatter" {
		t.Errorf("summary = %q", got)
	}
	if got := deriveSummary(nil, "first line\nsecond line\n\nnext", ""); got != "first line second line" {
		t.Errorf("summary = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", SummaryMaxLen+10)
	got := Truncate(long, SummaryMaxLen)
	if len([]rune(got)) != SummaryMaxLen || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate len = %d (%q)", len(got), got[len(got)-5:])
	}
	if Truncate("short", 10) != "short" {
		t.Error("short strings must be unchanged")
	}
}
