package router

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// SprintPlaceholder is replaced by the current sprint in sprint-aware paths.
const SprintPlaceholder = "{sprint}"

// DefaultSprint is used when no project state is available.
const DefaultSprint = "sprint-current"

// KnownDocument maps an exact file name to a fixed folder. When Category is
// set the entry only applies to documents carrying that category hint.
type KnownDocument struct {
	Filename string `yaml:"filename"`
	Category string `yaml:"category,omitempty"`
	Folder   string `yaml:"folder"`
}

// Subcategory is a named folder below a category, chosen by keyword.
type Subcategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Category is one entry of the ordered routing taxonomy.
type Category struct {
	Name               string        `yaml:"name"`
	Folder             string        `yaml:"folder,omitempty"`
	Patterns           []string      `yaml:"patterns"`
	SprintAware        bool          `yaml:"sprint_aware,omitempty"`
	SprintFolder       string        `yaml:"sprint_folder,omitempty"`
	DefaultSubcategory string        `yaml:"default_subcategory,omitempty"`
	Subcategories      []Subcategory `yaml:"subcategories,omitempty"`
	Keywords           []string      `yaml:"keywords"`
	Agents             []string      `yaml:"agents,omitempty"`

	globs []*Glob
}

// Weights tune content classification.
type Weights struct {
	Filename float64 `yaml:"filename"`
	Content  float64 `yaml:"content"`
	Tag      float64 `yaml:"tag"`
	Purpose  float64 `yaml:"purpose"`
	Agent    float64 `yaml:"agent"`
	Hint     float64 `yaml:"hint"`
	// ContentCap bounds how many occurrences of one keyword count.
	ContentCap int `yaml:"content_cap"`
}

// Rules is the loaded routing configuration. It is immutable once compiled;
// Router.Reload swaps in a new value.
type Rules struct {
	DefaultSprint  string          `yaml:"default_sprint"`
	KnownDocuments []KnownDocument `yaml:"known_documents"`
	Categories     []*Category     `yaml:"categories"`
	Weights        Weights         `yaml:"weights"`
}

// Validate checks the rule set.
func (r *Rules) Validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.Categories, validation.Required),
	); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(r.Categories))
	for i, c := range r.Categories {
		if c == nil {
			return fmt.Errorf("categories[%d]: empty entry", i)
		}
		if err := validation.ValidateStruct(c,
			validation.Field(&c.Name, validation.Required),
			validation.Field(&c.SprintFolder, validation.Required.When(c.SprintAware)),
		); err != nil {
			return fmt.Errorf("categories[%d]: %w", i, err)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("categories[%d]: duplicate category %q", i, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for i := range r.KnownDocuments {
		k := &r.KnownDocuments[i]
		if err := validation.ValidateStruct(k,
			validation.Field(&k.Filename, validation.Required),
			validation.Field(&k.Folder, validation.Required),
		); err != nil {
			return fmt.Errorf("known_documents[%d]: %w", i, err)
		}
	}
	return nil
}

// compile validates the rules, fills defaults and compiles every glob.
func (r *Rules) compile() error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.DefaultSprint == "" {
		r.DefaultSprint = DefaultSprint
	}
	def := defaultWeights()
	if r.Weights == (Weights{}) {
		r.Weights = def
	} else if r.Weights.ContentCap <= 0 {
		r.Weights.ContentCap = def.ContentCap
	}
	for _, c := range r.Categories {
		c.globs = c.globs[:0]
		for _, p := range c.Patterns {
			g, err := CompileGlob(p)
			if err != nil {
				return fmt.Errorf("category %s: %w", c.Name, err)
			}
			c.globs = append(c.globs, g)
		}
	}
	return nil
}

// Category returns the named category, or nil.
func (r *Rules) Category(name string) *Category {
	for _, c := range r.Categories {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// Known returns the known-document entry for filename. An entry scoped to
// the given category wins over an unscoped one.
func (r *Rules) Known(filename, category string) (KnownDocument, bool) {
	var fallback *KnownDocument
	for i := range r.KnownDocuments {
		k := &r.KnownDocuments[i]
		if !strings.EqualFold(k.Filename, filename) {
			continue
		}
		if k.Category == "" {
			if fallback == nil {
				fallback = k
			}
			continue
		}
		if category != "" && strings.EqualFold(k.Category, category) {
			return *k, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return KnownDocument{}, false
}

// Root returns the category's top-level folder.
func (c *Category) Root() string {
	if c.Folder != "" {
		return c.Folder
	}
	return c.Name
}

// Match reports whether filename matches one of the category's patterns.
func (c *Category) Match(filename string) bool {
	for _, g := range c.globs {
		if g.Match(filename) {
			return true
		}
	}
	return false
}

// SubcategoryFor picks the first subcategory with a keyword contained in
// the lowercased filename, else the default subcategory.
func (c *Category) SubcategoryFor(filename string) string {
	lower := strings.ToLower(filename)
	for _, s := range c.Subcategories {
		for _, kw := range s.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return s.Name
			}
		}
	}
	return c.DefaultSubcategory
}

// FolderFor returns the folder for a document of this category: the sprint
// folder when sprint-aware, otherwise root[/subcategory].
func (c *Category) FolderFor(subcategory, sprint string) string {
	if c.SprintAware {
		return substituteSprint(c.SprintFolder, sprint)
	}
	if subcategory == "" {
		return c.Root()
	}
	return path.Join(c.Root(), subcategory)
}

func substituteSprint(folder, sprint string) string {
	return strings.ReplaceAll(folder, SprintPlaceholder, sprint)
}

// ParseRules decodes and compiles a YAML rule set.
func ParseRules(data []byte) (*Rules, error) {
	r := &Rules{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("router: parse rules: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, fmt.Errorf("router: rules: %w", err)
	}
	return r, nil
}

// LoadRules reads the rule file at path. A missing or malformed file falls
// back to DefaultRules with a warning; it never fails.
func LoadRules(p string, logger *slog.Logger) *Rules {
	if logger == nil {
		logger = slog.Default()
	}
	if p == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("router: rules file missing, using defaults", slog.String("path", p))
		} else {
			logger.Warn("router: read rules failed, using defaults",
				slog.String("path", p), slog.String("error", err.Error()))
		}
		return DefaultRules()
	}
	r, err := ParseRules(data)
	if err != nil {
		logger.Warn("router: invalid rules, using defaults",
			slog.String("path", p), slog.String("error", err.Error()))
		return DefaultRules()
	}
	return r
}

// MarshalRules renders r as YAML.
func MarshalRules(r *Rules) ([]byte, error) {
	return yaml.Marshal(r)
}

func defaultWeights() Weights {
	return Weights{
		Filename:   3,
		Content:    1,
		Tag:        2,
		Purpose:    2,
		Agent:      5,
		Hint:       10,
		ContentCap: 5,
	}
}

// DefaultRules returns the built-in taxonomy.
func DefaultRules() *Rules {
	r := &Rules{
		DefaultSprint: DefaultSprint,
		Weights:       defaultWeights(),
		KnownDocuments: []KnownDocument{
			{Filename: "README.md", Folder: "documentation"},
			{Filename: "CHANGELOG.md", Folder: "documentation/reference"},
			{Filename: "project-brief.md", Folder: "business-strategy"},
			{Filename: "architecture.md", Folder: "architecture/system"},
			{Filename: "requirements.md", Folder: "requirements/functional"},
			{Filename: "sprint-plan.md", Folder: "orchestration/sprints/" + SprintPlaceholder},
			{Filename: "plan.md", Category: "testing", Folder: "testing/plans"},
			{Filename: "plan.md", Category: "operations", Folder: "operations/deployment"},
		},
		Categories: []*Category{
			{
				Name:         "orchestration",
				Patterns:     []string{"sprint-*.md", "*-sprint-*.md", "*-retrospective.md", "*-standup.md"},
				SprintAware:  true,
				SprintFolder: "orchestration/sprints/" + SprintPlaceholder,
				Keywords:     []string{"sprint", "backlog", "velocity", "milestone", "standup", "retrospective", "handoff"},
				Agents:       []string{"orchestrator", "scrum-master", "project-manager"},
			},
			{
				Name:               "business-strategy",
				Patterns:           []string{"*-analysis.md", "*-strategy.md", "*-business-case.md", "market-*.md"},
				DefaultSubcategory: "analysis",
				Subcategories: []Subcategory{
					{Name: "research", Keywords: []string{"market", "competitor", "competitive", "customer", "survey"}},
					{Name: "financial", Keywords: []string{"revenue", "cost", "pricing", "budget", "roi", "financial"}},
					{Name: "planning", Keywords: []string{"strategy", "roadmap", "vision", "okr"}},
				},
				Keywords: []string{"market", "revenue", "customer", "competitor", "strategy", "pricing", "stakeholder", "business"},
				Agents:   []string{"business-analyst", "product-manager", "strategist"},
			},
			{
				Name:               "requirements",
				Patterns:           []string{"*-requirements.md", "*-prd.md", "*-user-stories.md"},
				DefaultSubcategory: "functional",
				Subcategories: []Subcategory{
					{Name: "functional", Keywords: []string{"feature", "functional", "user-stor", "story"}},
					{Name: "non-functional", Keywords: []string{"performance", "security", "scalability", "availability"}},
				},
				Keywords: []string{"requirement", "shall", "must", "acceptance", "user story", "persona"},
				Agents:   []string{"requirements-analyst", "product-owner"},
			},
			{
				Name:               "architecture",
				Patterns:           []string{"*-architecture.md", "*-design.md", "adr-*.md", "*-adr.md"},
				DefaultSubcategory: "system",
				Subcategories: []Subcategory{
					{Name: "decisions", Keywords: []string{"adr", "decision"}},
					{Name: "data", Keywords: []string{"schema", "data", "database"}},
					{Name: "system", Keywords: []string{"system", "architecture", "component"}},
				},
				Keywords: []string{"architecture", "component", "service", "interface", "scalability", "topology", "schema"},
				Agents:   []string{"architect", "system-architect"},
			},
			{
				Name:     "implementation",
				Patterns: []string{"*-implementation.md", "*-api.md", "impl-*.md"},
				Subcategories: []Subcategory{
					{Name: "api", Keywords: []string{"api", "endpoint"}},
					{Name: "frontend", Keywords: []string{"frontend", "ui", "view"}},
					{Name: "backend", Keywords: []string{"backend", "server", "worker"}},
				},
				Keywords: []string{"code", "function", "endpoint", "implementation", "module", "refactor", "handler"},
				Agents:   []string{"developer", "backend-developer", "frontend-developer"},
			},
			{
				Name:               "testing",
				Patterns:           []string{"*-test-plan.md", "test-*.md", "*-qa.md", "*-test-report.md"},
				DefaultSubcategory: "plans",
				Subcategories: []Subcategory{
					{Name: "reports", Keywords: []string{"report", "result", "coverage"}},
					{Name: "plans", Keywords: []string{"plan", "strategy"}},
				},
				Keywords: []string{"test", "coverage", "assertion", "regression", "qa", "fixture"},
				Agents:   []string{"qa-engineer", "tester"},
			},
			{
				Name:     "operations",
				Patterns: []string{"*-runbook.md", "*-deployment.md", "*-incident*.md", "*-postmortem.md"},
				Subcategories: []Subcategory{
					{Name: "incidents", Keywords: []string{"incident", "postmortem", "outage"}},
					{Name: "deployment", Keywords: []string{"deploy", "release", "rollout"}},
					{Name: "monitoring", Keywords: []string{"monitoring", "alert", "metric"}},
				},
				Keywords: []string{"deploy", "infrastructure", "monitoring", "incident", "pipeline", "runbook"},
				Agents:   []string{"devops-engineer", "sre"},
			},
			{
				Name:               "documentation",
				Patterns:           []string{"*-guide.md", "*-tutorial.md", "*-reference.md"},
				DefaultSubcategory: "guides",
				Subcategories: []Subcategory{
					{Name: "reference", Keywords: []string{"reference", "glossary"}},
					{Name: "guides", Keywords: []string{"guide", "tutorial", "howto"}},
				},
				Keywords: []string{"guide", "tutorial", "how to", "reference", "overview", "glossary"},
				Agents:   []string{"technical-writer"},
			},
		},
	}
	if err := r.compile(); err != nil {
		panic("router: built-in rules: " + err.Error())
	}
	return r
}
