package router

import (
	"strings"

	"github.com/starford/scriptorium/internal/parser"
)

// Signals are the inputs to content classification.
type Signals struct {
	Tokens  []string
	Content string
	Tags    []string
	Purpose string
	Agent   string
	Hint    string
}

// SignalsFor extracts classification signals from a document. Purpose and
// tags come from the parsed Markdown; a parse failure leaves them empty.
func SignalsFor(doc Document) Signals {
	s := Signals{
		Tokens:  Tokenize(doc.Filename),
		Content: strings.ToLower(doc.Content),
		Agent:   strings.ToLower(strings.TrimSpace(doc.Agent)),
		Hint:    strings.TrimSpace(doc.Category),
	}
	if doc.Content != "" {
		if res, err := parser.Parse([]byte(doc.Content)); err == nil {
			s.Tags = res.Tags
			s.Purpose = strings.ToLower(res.Purpose)
		}
	}
	return s
}

// Classification is the best-scoring category for a set of signals.
type Classification struct {
	Category    *Category
	Subcategory string
	Score       float64
}

// Classifier scores signals against the ordered category dictionaries.
type Classifier struct {
	rules *Rules
}

// NewClassifier returns a classifier over rules.
func NewClassifier(rules *Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the highest-scoring category. Categories are scored in
// declaration order and a later category must score strictly higher to
// win. It reports false when nothing scored.
func (c *Classifier) Classify(s Signals) (Classification, bool) {
	var best Classification
	for _, cat := range c.rules.Categories {
		score := c.Score(cat, s)
		if score > best.Score {
			best = Classification{Category: cat, Score: score}
		}
	}
	if best.Category == nil {
		return Classification{}, false
	}
	best.Subcategory = c.subcategory(best.Category, s)
	return best, true
}

// Score computes the aggregate score of one category.
func (c *Classifier) Score(cat *Category, s Signals) float64 {
	w := c.rules.Weights
	var score float64
	for _, kw := range cat.Keywords {
		kw = strings.ToLower(kw)
		score += w.Filename * float64(tokenHits(s.Tokens, kw))
		score += w.Content * float64(capped(countOccurrences(s.Content, kw), w.ContentCap))
		score += w.Purpose * float64(capped(countOccurrences(s.Purpose, kw), w.ContentCap))
		for _, tag := range s.Tags {
			if tag == kw {
				score += w.Tag
			}
		}
	}
	if s.Agent != "" {
		for _, a := range cat.Agents {
			if strings.EqualFold(a, s.Agent) {
				score += w.Agent
				break
			}
		}
	}
	if s.Hint != "" && strings.EqualFold(s.Hint, cat.Name) {
		score += w.Hint
	}
	return score
}

// subcategory scores the category's subcategories the same way, falling
// back to the default subcategory when none scores.
func (c *Classifier) subcategory(cat *Category, s Signals) string {
	w := c.rules.Weights
	best, bestScore := cat.DefaultSubcategory, 0.0
	for _, sub := range cat.Subcategories {
		var score float64
		for _, kw := range sub.Keywords {
			kw = strings.ToLower(kw)
			score += w.Filename * float64(tokenHits(s.Tokens, kw))
			score += w.Content * float64(capped(countOccurrences(s.Content, kw), w.ContentCap))
		}
		if score > bestScore {
			best, bestScore = sub.Name, score
		}
	}
	return best
}

// tokenHits counts tokens equal to kw or, for multi-character keywords,
// tokens that start with kw.
func tokenHits(tokens []string, kw string) int {
	n := 0
	for _, t := range tokens {
		if t == kw || (len(kw) > 3 && strings.HasPrefix(t, kw)) {
			n++
		}
	}
	return n
}

func capped(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
