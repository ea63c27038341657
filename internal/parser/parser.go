// Package parser extracts frontmatter, titles, summaries and classification
// signals (purpose, tags, wikilinks) from Markdown documents.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SummaryMaxLen bounds generated summaries.
const SummaryMaxLen = 200

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	tagLineRe  = regexp.MustCompile(`(?im)^\s*tags\s*:\s*(.+)$`)
	purposeRe  = regexp.MustCompile(`(?i)^#{1,6}\s*(purpose|overview)\b`)
)

// Result holds the output of parsing a Markdown document.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Title       string
	Summary     string
	Purpose     string
	Links       []string
	Tags        []string
}

// Parse extracts frontmatter, body, title, summary and signals from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	title := deriveTitle(fm, body)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       title,
		Summary:     deriveSummary(fm, body, title),
		Purpose:     extractPurpose(body),
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: whole document is body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractTags collects tags from the frontmatter "tags" field, a plain
// "tags: a, b" line in the body, and inline #tags. Tags are lowercased.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'[]`))
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if fm != nil {
		switch v := fm["tags"].(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				add(s)
			}
		}
	}

	for _, m := range tagLineRe.FindAllStringSubmatch(body, -1) {
		for _, s := range strings.Split(m[1], ",") {
			add(s)
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	return out
}

// extractPurpose returns the first paragraph under a "Purpose" or "Overview" heading.
func extractPurpose(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if !purposeRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		return firstParagraph(lines[i+1:])
	}
	return ""
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// deriveSummary prefers a frontmatter "summary" or "description", then the
// title, then the first body paragraph.
func deriveSummary(fm map[string]interface{}, body, title string) string {
	for _, k := range []string{"summary", "description"} {
		if s, ok := fm[k].(string); ok && strings.TrimSpace(s) != "" {
			return Truncate(strings.TrimSpace(s), SummaryMaxLen)
		}
	}
	if title != "" {
		return Truncate(title, SummaryMaxLen)
	}
	return Truncate(firstParagraph(strings.Split(body, "\n")), SummaryMaxLen)
}

func firstParagraph(lines []string) string {
	var parts []string
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(t, "#") {
			if len(parts) > 0 {
				break
			}
			continue
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
