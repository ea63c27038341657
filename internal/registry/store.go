package registry

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/checksum"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/parser"
	"github.com/starford/scriptorium/internal/queue"
)

// BytesPerToken is the fixed divisor of the token cost proxy.
const BytesPerToken = 4

// DefaultCategory holds documents whose path has no folder and no hint.
const DefaultCategory = "general"

// Reader is the read side of the document store used for measurement.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Tokens converts a byte length into the token cost proxy, rounding up so
// that any non-empty file costs at least one token.
func Tokens(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + BytesPerToken - 1) / BytesPerToken
}

// Store applies queued mutations to an in-memory Registry.
type Store struct {
	reg    *models.Registry
	files  Reader
	now    func() time.Time
	logger *slog.Logger
}

// NewStore wraps reg. files is used to measure representations.
func NewStore(reg *models.Registry, files Reader, now func() time.Time, logger *slog.Logger) *Store {
	if reg.Documents == nil {
		reg.Documents = make(map[string]map[string]*models.Document)
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{reg: reg, files: files, now: now, logger: logger}
}

// Registry returns the wrapped registry.
func (s *Store) Registry() *models.Registry { return s.reg }

// Apply replays one record against the registry.
func (s *Store) Apply(rec queue.Record) error {
	switch p := rec.Payload.(type) {
	case queue.Create:
		return s.applyCreate(p)
	case queue.Convert:
		return s.applyConvert(p)
	case queue.Update:
		return s.applyUpdate(p)
	case queue.Delete:
		return s.applyDelete(p)
	case queue.Dependency:
		return s.applyDependency(p)
	default:
		return fmt.Errorf("registry: unsupported action %q: %w", rec.Action(), apperr.ErrInvalidUpdate)
	}
}

// Recount sets DocumentCount to the sum of bucket sizes and drops empty buckets.
func (s *Store) Recount() int {
	n := 0
	for cat, bucket := range s.reg.Documents {
		if len(bucket) == 0 {
			delete(s.reg.Documents, cat)
			continue
		}
		n += len(bucket)
	}
	s.reg.DocumentCount = n
	return n
}

// FindByPath returns the document owning path through either representation.
func (s *Store) FindByPath(p string) *models.Document {
	p = normalize(p)
	for _, bucket := range s.reg.Documents {
		for _, doc := range bucket {
			if doc.Matches(p) {
				return doc
			}
		}
	}
	return nil
}

// FindByKey returns the document registered under category/key.
func (s *Store) FindByKey(category, key string) *models.Document {
	return s.reg.Documents[category][key]
}

// Documents returns every document ordered by category then key.
func (s *Store) Documents() []*models.Document {
	return sortedDocuments(s.reg)
}

func (s *Store) applyCreate(p queue.Create) error {
	vpath := normalize(p.Path)
	now := s.now().UTC()

	if doc := s.FindByPath(vpath); doc != nil {
		// Re-creating a registered path refreshes it in place.
		s.measureVerbose(doc)
		if p.Summary != "" {
			doc.Summary = parser.Truncate(p.Summary, parser.SummaryMaxLen)
		}
		if p.Agent != "" {
			doc.OwningAgent = p.Agent
		}
		if p.Subcategory != "" {
			doc.Subcategory = p.Subcategory
		}
		if p.Dependencies != nil {
			doc.Dependencies = orderedSet(p.Dependencies, doc.Key)
		}
		doc.ModifiedAt = now
		return nil
	}

	category := p.Category
	if category == "" {
		category = categoryOf(vpath)
	}
	key := s.uniqueKey(category, DeriveKey(category, vpath))
	doc := &models.Document{
		Category:    category,
		Subcategory: p.Subcategory,
		Key:         key,
		Representations: models.Representations{
			Verbose: vpath,
		},
		OwningAgent: p.Agent,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	if doc.Subcategory == "" {
		doc.Subcategory = subcategoryOf(category, vpath)
	}
	data := s.measureVerbose(doc)
	doc.Summary = parser.Truncate(p.Summary, parser.SummaryMaxLen)
	if doc.Summary == "" {
		doc.Summary = autoSummary(data, key)
	}
	doc.Dependencies = orderedSet(p.Dependencies, key)
	s.insert(doc)
	return nil
}

func (s *Store) applyConvert(p queue.Convert) error {
	cpath := normalize(p.JSONPath)
	now := s.now().UTC()

	doc := s.locateForConvert(p, cpath)
	if doc == nil {
		vpath := normalize(p.Path)
		if vpath == "" {
			vpath = siblingVerbose(cpath)
		}
		category := p.Category
		if category == "" {
			category = categoryOf(vpath)
		}
		key := s.uniqueKey(category, DeriveKey(category, vpath))
		doc = &models.Document{
			Category:        category,
			Subcategory:     subcategoryOf(category, vpath),
			Key:             key,
			Representations: models.Representations{Verbose: vpath},
			OwningAgent:     p.Agent,
			CreatedAt:       now,
		}
		data := s.measureVerbose(doc)
		doc.Summary = autoSummary(data, key)
		doc.Dependencies = []string{}
		s.insert(doc)
		s.logger.Debug("registry: convert created stub document",
			slog.String("category", category), slog.String("key", key))
	}

	doc.Representations.Compact = cpath
	s.measureCompact(doc)
	doc.ModifiedAt = now
	return nil
}

func (s *Store) locateForConvert(p queue.Convert, cpath string) *models.Document {
	if p.Path != "" {
		if doc := s.FindByPath(p.Path); doc != nil {
			return doc
		}
	}
	if doc := s.FindByPath(cpath); doc != nil {
		return doc
	}
	category := p.Category
	if category == "" {
		category = categoryOf(cpath)
	}
	if doc := s.FindByKey(category, DeriveKey(category, cpath)); doc != nil {
		return doc
	}
	return s.FindByPath(siblingVerbose(cpath))
}

func (s *Store) applyUpdate(p queue.Update) error {
	target := normalize(p.Path)
	doc := s.FindByPath(target)
	if doc == nil {
		return fmt.Errorf("registry: update %s: %w", target, apperr.ErrNotFound)
	}
	if doc.Representations.Compact == target {
		s.measureCompact(doc)
	} else {
		s.measureVerbose(doc)
	}
	if p.Summary != "" {
		doc.Summary = parser.Truncate(p.Summary, parser.SummaryMaxLen)
	}
	doc.ModifiedAt = s.now().UTC()
	return nil
}

func (s *Store) applyDelete(p queue.Delete) error {
	target := normalize(p.Path)
	doc := s.FindByPath(target)
	if doc == nil {
		return fmt.Errorf("registry: delete %s: %w", target, apperr.ErrNotFound)
	}
	bucket := s.reg.Documents[doc.Category]
	delete(bucket, doc.Key)
	if len(bucket) == 0 {
		delete(s.reg.Documents, doc.Category)
	}
	return nil
}

func (s *Store) applyDependency(p queue.Dependency) error {
	var doc *models.Document
	if p.Path != "" {
		doc = s.FindByPath(p.Path)
	} else {
		doc = s.FindByKey(p.Category, p.Key)
	}
	if doc == nil {
		return fmt.Errorf("registry: dependency target %s%s: %w", p.Path, p.Key, apperr.ErrNotFound)
	}
	doc.Dependencies = orderedSet(p.Dependencies, doc.Key)
	doc.ModifiedAt = s.now().UTC()
	return nil
}

func (s *Store) insert(doc *models.Document) {
	bucket, ok := s.reg.Documents[doc.Category]
	if !ok {
		bucket = make(map[string]*models.Document)
		s.reg.Documents[doc.Category] = bucket
	}
	bucket[doc.Key] = doc
}

func (s *Store) uniqueKey(category, key string) string {
	bucket := s.reg.Documents[category]
	if _, taken := bucket[key]; !taken {
		return key
	}
	for i := 2; ; i++ {
		candidate := key + "-" + strconv.Itoa(i)
		if _, taken := bucket[candidate]; !taken {
			return candidate
		}
	}
}

// measureVerbose re-measures the verbose representation and returns its
// content (nil when unreadable).
func (s *Store) measureVerbose(doc *models.Document) []byte {
	data, ok := s.read(doc.Representations.Verbose)
	if !ok {
		doc.TokenCounts.Verbose = 0
		return nil
	}
	doc.TokenCounts.Verbose = Tokens(len(data))
	doc.Checksum = checksum.Sum(data)
	return data
}

func (s *Store) measureCompact(doc *models.Document) {
	data, ok := s.read(doc.Representations.Compact)
	if !ok {
		doc.TokenCounts.Compact = 0
		return
	}
	doc.TokenCounts.Compact = Tokens(len(data))
}

func (s *Store) read(p string) ([]byte, bool) {
	if p == "" || s.files == nil {
		return nil, false
	}
	data, err := s.files.Read(p)
	if err != nil {
		s.logger.Warn("registry: cannot measure representation",
			slog.String("path", p), slog.String("error", err.Error()))
		return nil, false
	}
	return data, true
}

// DeriveKey computes a document key from its path: the path relative to its
// category folder, without extension.
func DeriveKey(category, p string) string {
	p = normalize(p)
	if category != "" && strings.HasPrefix(p, category+"/") {
		p = strings.TrimPrefix(p, category+"/")
	}
	p = strings.TrimSuffix(p, path.Ext(p))
	if p == "" {
		return "untitled"
	}
	return p
}

func categoryOf(p string) string {
	if i := strings.Index(p, "/"); i > 0 {
		return p[:i]
	}
	return DefaultCategory
}

// subcategoryOf returns the folder between the category and the file name.
func subcategoryOf(category, p string) string {
	rest := strings.TrimPrefix(p, category+"/")
	if rest == p {
		return ""
	}
	if i := strings.Index(rest, "/"); i > 0 {
		return rest[:i]
	}
	return ""
}

func siblingVerbose(compact string) string {
	return strings.TrimSuffix(compact, path.Ext(compact)) + ".md"
}

func normalize(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(path.Clean(p), "./")
}

// orderedSet dedupes deps preserving first occurrence and drops self.
func orderedSet(deps []string, self string) []string {
	out := make([]string, 0, len(deps))
	seen := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		d = strings.TrimSpace(d)
		if d == "" || d == self {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func autoSummary(data []byte, key string) string {
	if len(data) > 0 {
		if res, err := parser.Parse(data); err == nil && res.Summary != "" {
			return res.Summary
		}
	}
	return "Document " + key
}

func sortedDocuments(reg *models.Registry) []*models.Document {
	var out []*models.Document
	for _, bucket := range reg.Documents {
		for _, doc := range bucket {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	return out
}
