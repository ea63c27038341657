package router

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
)

// Glob is a compiled filename pattern. Matching is anchored and
// case-insensitive.
type Glob struct {
	pattern string
	re      *regexp.Regexp
}

// CompileGlob converts a glob into an anchored regular expression:
// '*' matches any run of characters, '?' exactly one, everything else
// is literal.
func CompileGlob(pattern string) (*Glob, error) {
	if pattern == "" {
		return nil, fmt.Errorf("router: empty glob")
	}
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("router: compile glob %q: %w", pattern, err)
	}
	return &Glob{pattern: pattern, re: re}, nil
}

// Match reports whether name matches the glob.
func (g *Glob) Match(name string) bool { return g.re.MatchString(name) }

func (g *Glob) String() string { return g.pattern }

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "for": {}, "to": {},
	"in": {}, "on": {}, "with": {}, "by": {}, "md": {}, "json": {},
	"doc": {}, "docs": {}, "document": {}, "final": {}, "draft": {}, "new": {},
}

// Tokenize splits a file name into lowercased keyword tokens. The extension,
// stopwords, single characters and purely numeric tokens are dropped.
func Tokenize(name string) []string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	fields := strings.FieldsFunc(strings.ToLower(base), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || isNumeric(f) {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// countOccurrences counts non-overlapping occurrences of keyword in text.
// Both are expected lowercased.
func countOccurrences(text, keyword string) int {
	if keyword == "" || text == "" {
		return 0
	}
	return strings.Count(text, keyword)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
