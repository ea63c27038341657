// Package router resolves where an incoming document belongs in the store.
// Resolution runs four tiers in fixed order (known documents, filename
// patterns, content classification, dynamic folder creation), after an
// existence check that keeps already-placed documents where they are.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/starford/scriptorium/internal/apperr"
)

// Document is what a producer asks to route.
type Document struct {
	Filename string `json:"filename"`
	Content  string `json:"content,omitempty"`
	Category string `json:"category,omitempty"`
	Agent    string `json:"agent,omitempty"`
}

// Lifecycle reports whether a document is already placed.
type Lifecycle interface {
	CheckExisting(ctx context.Context, doc Document) (path string, ok bool, err error)
}

// FolderCreator synthesizes a folder for documents no other tier placed.
// It must always return a usable folder (store-relative).
type FolderCreator interface {
	CreateFolderStructure(ctx context.Context, doc Document, suggested string) (string, error)
}

// ProjectState supplies the current sprint.
type ProjectState interface {
	CurrentSprint(ctx context.Context) (string, error)
}

// DirProber reports whether a store folder exists.
type DirProber interface {
	IsDir(dir string) (bool, error)
}

// Router resolves document paths.
type Router struct {
	mu         sync.RWMutex
	rules      *Rules
	classifier *Classifier

	rulesPath string
	learned   *LearnedStore
	dirs      DirProber
	lifecycle Lifecycle
	folders   FolderCreator
	project   ProjectState
	logger    *slog.Logger
	now       func() time.Time
	verbose   bool
	dryRun    bool

	historySize int
	stats       *tracker
}

// Option configures a Router.
type Option func(*Router)

// WithRules uses r instead of loading a rules file.
func WithRules(r *Rules) Option {
	return func(rt *Router) { rt.rules = r }
}

// WithRulesPath sets the YAML rules file consulted by New and Reload.
func WithRulesPath(p string) Option {
	return func(rt *Router) { rt.rulesPath = p }
}

// WithLearnedStore sets the learned-pattern store.
func WithLearnedStore(s *LearnedStore) Option {
	return func(rt *Router) { rt.learned = s }
}

// WithLifecycle sets the existence-check collaborator.
func WithLifecycle(l Lifecycle) Option {
	return func(rt *Router) { rt.lifecycle = l }
}

// WithFolderCreator sets the terminal fallback collaborator.
func WithFolderCreator(f FolderCreator) Option {
	return func(rt *Router) { rt.folders = f }
}

// WithProjectState sets the sprint source.
func WithProjectState(p ProjectState) Option {
	return func(rt *Router) { rt.project = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Router) { rt.logger = l }
}

// WithClock injects the time source used to time decisions.
func WithClock(now func() time.Time) Option {
	return func(rt *Router) { rt.now = now }
}

// WithHistorySize bounds the retained decision history.
func WithHistorySize(n int) Option {
	return func(rt *Router) { rt.historySize = n }
}

// WithVerbose logs every decision at Info instead of Debug.
func WithVerbose(v bool) Option {
	return func(rt *Router) { rt.verbose = v }
}

// WithDryRun disables side effects: no folder creation and no learned
// pattern updates.
func WithDryRun() Option {
	return func(rt *Router) { rt.dryRun = true }
}

// DefaultHistorySize is the number of decisions retained for statistics.
const DefaultHistorySize = 100

// New builds a Router. dirs is probed to accept Tier-3 suggestions.
func New(dirs DirProber, opts ...Option) *Router {
	rt := &Router{
		dirs:        dirs,
		logger:      slog.Default(),
		now:         time.Now,
		historySize: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.rules == nil {
		rt.rules = LoadRules(rt.rulesPath, rt.logger)
	}
	if rt.learned == nil {
		rt.learned = OpenLearned("", rt.logger)
	}
	rt.classifier = NewClassifier(rt.rules)
	rt.stats = newTracker(rt.historySize)
	return rt
}

// Rules returns the active rule set.
func (rt *Router) Rules() *Rules {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.rules
}

// Learned returns the learned-pattern store.
func (rt *Router) Learned() *LearnedStore { return rt.learned }

// Reload re-reads the rules file and the learned patterns. Rules fall back
// to defaults when the file is unusable.
func (rt *Router) Reload() {
	rules := LoadRules(rt.rulesPath, rt.logger)
	rt.mu.Lock()
	rt.rules = rules
	rt.classifier = NewClassifier(rules)
	rt.mu.Unlock()
	if err := rt.learned.Reload(); err != nil {
		rt.logger.Warn("router: reload learned patterns failed", slog.String("error", err.Error()))
	}
	rt.logger.Info("router: rules reloaded",
		slog.String("path", rt.rulesPath),
		slog.Int("categories", len(rules.Categories)))
}

// Route returns the store-relative path for doc. Classification ambiguity
// never fails: the dynamic tier always resolves. Errors come only from
// invalid input or a failing collaborator.
func (rt *Router) Route(ctx context.Context, doc Document) (string, error) {
	start := rt.now()
	dec := Decision{Filename: doc.Filename, At: start}

	resolved, err := rt.route(ctx, doc, &dec)
	dec.Duration = rt.now().Sub(start)
	dec.Path = resolved
	if err != nil {
		dec.Error = err.Error()
	}
	rt.record(dec)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

func (rt *Router) route(ctx context.Context, doc Document, dec *Decision) (string, error) {
	filename := path.Base(strings.ReplaceAll(strings.TrimSpace(doc.Filename), "\\", "/"))
	if filename == "" || filename == "." || filename == ".." || filename == "/" {
		return "", fmt.Errorf("router: filename is required: %w", apperr.ErrInvalidDocument)
	}
	doc.Filename = filename

	rt.mu.RLock()
	rules, classifier := rt.rules, rt.classifier
	rt.mu.RUnlock()

	if rt.lifecycle != nil {
		dec.evaluated(TierExisting)
		existing, ok, err := rt.lifecycle.CheckExisting(ctx, doc)
		if err != nil {
			return "", fmt.Errorf("router: check existing: %w", err)
		}
		if ok && existing != "" {
			dec.ResultTier = TierExisting
			return existing, nil
		}
	}

	dec.evaluated(TierKnown)
	if k, ok := rules.Known(filename, doc.Category); ok {
		folder := k.Folder
		if strings.Contains(folder, SprintPlaceholder) {
			folder = substituteSprint(folder, rt.sprint(ctx, rules))
		}
		dec.ResultTier = TierKnown
		return path.Join(folder, filename), nil
	}

	dec.evaluated(TierPattern)
	tokens := Tokenize(filename)
	for _, cat := range rules.Categories {
		if !cat.Match(filename) {
			continue
		}
		sprint := ""
		if cat.SprintAware {
			sprint = rt.sprint(ctx, rules)
		}
		folder := cat.FolderFor(cat.SubcategoryFor(filename), sprint)
		if !cat.SprintAware && !rt.dryRun {
			if err := rt.learned.Record(folder, tokens); err != nil {
				rt.logger.Warn("router: learn pattern failed",
					slog.String("folder", folder), slog.String("error", err.Error()))
			}
		}
		dec.ResultTier = TierPattern
		return path.Join(folder, filename), nil
	}
	if lp, ok := rt.learned.Match(tokens); ok {
		if !rt.dryRun {
			if err := rt.learned.Touch(lp.Folder); err != nil {
				rt.logger.Warn("router: update learned pattern failed",
					slog.String("folder", lp.Folder), slog.String("error", err.Error()))
			}
		}
		dec.ResultTier = TierPattern
		dec.Learned = true
		return path.Join(lp.Folder, filename), nil
	}

	dec.evaluated(TierClassification)
	suggested := ""
	if cls, ok := classifier.Classify(SignalsFor(doc)); ok {
		sprint := ""
		if cls.Category.SprintAware {
			sprint = rt.sprint(ctx, rules)
		}
		suggested = cls.Category.FolderFor(cls.Subcategory, sprint)
		if rt.folderExists(suggested) {
			dec.ResultTier = TierClassification
			return path.Join(suggested, filename), nil
		}
	}

	dec.evaluated(TierDynamic)
	dec.ResultTier = TierDynamic
	if rt.folders == nil || rt.dryRun {
		return path.Join(fallbackFolder(suggested), filename), nil
	}
	folder, err := rt.folders.CreateFolderStructure(ctx, doc, suggested)
	if err != nil {
		return "", fmt.Errorf("router: create folder structure: %w", err)
	}
	return path.Join(fallbackFolder(folder), filename), nil
}

// UncategorizedFolder is the last-resort folder.
const UncategorizedFolder = "uncategorized"

func fallbackFolder(folder string) string {
	if strings.TrimSpace(folder) == "" {
		return UncategorizedFolder
	}
	return folder
}

// folderExists treats probe errors as absence.
func (rt *Router) folderExists(folder string) bool {
	if rt.dirs == nil || folder == "" {
		return false
	}
	ok, err := rt.dirs.IsDir(folder)
	if err != nil {
		rt.logger.Debug("router: folder probe failed",
			slog.String("folder", folder), slog.String("error", err.Error()))
		return false
	}
	return ok
}

func (rt *Router) sprint(ctx context.Context, rules *Rules) string {
	if rt.project != nil {
		s, err := rt.project.CurrentSprint(ctx)
		if err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		if err != nil {
			rt.logger.Debug("router: project state unavailable", slog.String("error", err.Error()))
		}
	}
	return rules.DefaultSprint
}

func (rt *Router) record(dec Decision) {
	rt.stats.add(dec)
	level := slog.LevelDebug
	if rt.verbose {
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("filename", dec.Filename),
		slog.String("tier", string(dec.ResultTier)),
		slog.String("path", dec.Path),
		slog.Duration("duration", dec.Duration),
	}
	if dec.Learned {
		attrs = append(attrs, slog.Bool("learned", true))
	}
	if dec.Error != "" {
		rt.logger.LogAttrs(context.Background(), slog.LevelError, "router: routing failed",
			append(attrs, slog.String("error", dec.Error))...)
		return
	}
	rt.logger.LogAttrs(context.Background(), level, "router: routed", attrs...)
}
