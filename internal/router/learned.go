package router

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/starford/scriptorium/internal/storage"
)

// LearnedPattern associates a folder with filename keywords seen when a
// declared pattern routed there.
type LearnedPattern struct {
	Folder     string   `yaml:"folder" json:"folder"`
	Keywords   []string `yaml:"keywords" json:"keywords"`
	UsageCount int      `yaml:"usage_count" json:"usage_count"`
}

type learnedFile struct {
	Patterns []LearnedPattern `yaml:"patterns"`
}

// LearnedStore is the persisted table of learned patterns. An empty path
// keeps the table in memory only.
type LearnedStore struct {
	mu       sync.Mutex
	path     string
	patterns []LearnedPattern
	logger   *slog.Logger
}

// OpenLearned loads the store at path. Unreadable files start empty with a
// warning.
func OpenLearned(path string, logger *slog.Logger) *LearnedStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LearnedStore{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		logger.Warn("router: learned patterns unreadable, starting empty",
			slog.String("path", path), slog.String("error", err.Error()))
	}
	return s
}

// Reload re-reads the backing file.
func (s *LearnedStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = nil
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var f learnedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	s.patterns = f.Patterns
	return nil
}

// Match returns the learned pattern sharing the most keywords with tokens.
// Ties go to the higher usage count, then to the folder name.
func (s *LearnedStore) Match(tokens []string) (LearnedPattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		want[t] = struct{}{}
	}
	best, bestHits := -1, 0
	for i, p := range s.patterns {
		hits := 0
		for _, kw := range p.Keywords {
			if _, ok := want[kw]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		if best < 0 || hits > bestHits ||
			(hits == bestHits && p.UsageCount > s.patterns[best].UsageCount) ||
			(hits == bestHits && p.UsageCount == s.patterns[best].UsageCount && p.Folder < s.patterns[best].Folder) {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return LearnedPattern{}, false
	}
	return clonePattern(s.patterns[best]), true
}

// Record notes that folder was chosen for a file with the given tokens:
// a new pattern starts at usage 1, an existing one gains the new keywords
// and one usage.
func (s *LearnedStore) Record(folder string, tokens []string) error {
	if folder == "" || len(tokens) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.index(folder); i >= 0 {
		p := &s.patterns[i]
		p.UsageCount++
		p.Keywords = mergeKeywords(p.Keywords, tokens)
	} else {
		s.patterns = append(s.patterns, LearnedPattern{
			Folder:     folder,
			Keywords:   mergeKeywords(nil, tokens),
			UsageCount: 1,
		})
	}
	return s.saveLocked()
}

// Touch increments the usage count of the pattern for folder.
func (s *LearnedStore) Touch(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(folder)
	if i < 0 {
		return nil
	}
	s.patterns[i].UsageCount++
	return s.saveLocked()
}

// Patterns returns a copy of every pattern ordered by folder.
func (s *LearnedStore) Patterns() []LearnedPattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LearnedPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, clonePattern(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Folder < out[j].Folder })
	return out
}

// Len returns the number of learned patterns.
func (s *LearnedStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns)
}

func (s *LearnedStore) index(folder string) int {
	for i, p := range s.patterns {
		if p.Folder == folder {
			return i
		}
	}
	return -1
}

func (s *LearnedStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(learnedFile{Patterns: s.patterns})
	if err != nil {
		return fmt.Errorf("router: encode learned patterns: %w", err)
	}
	if err := storage.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("router: save learned patterns: %w", err)
	}
	return nil
}

func mergeKeywords(have, add []string) []string {
	seen := make(map[string]struct{}, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, list := range [][]string{have, add} {
		for _, k := range list {
			if _, dup := seen[k]; dup || k == "" {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func clonePattern(p LearnedPattern) LearnedPattern {
	p.Keywords = append([]string(nil), p.Keywords...)
	return p
}
