package router

import (
	"sync"
	"time"
)

// Tier names a routing strategy.
type Tier string

const (
	TierExisting       Tier = "existing"
	TierKnown          Tier = "known-document"
	TierPattern        Tier = "pattern"
	TierClassification Tier = "classification"
	TierDynamic        Tier = "dynamic"
)

// Decision records one Route call.
type Decision struct {
	Filename       string        `json:"filename"`
	TiersEvaluated []Tier        `json:"tiers_evaluated"`
	ResultTier     Tier          `json:"result_tier,omitempty"`
	Path           string        `json:"resolved_path,omitempty"`
	Learned        bool          `json:"learned,omitempty"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
	At             time.Time     `json:"at"`
}

func (d *Decision) evaluated(t Tier) {
	d.TiersEvaluated = append(d.TiersEvaluated, t)
}

// Stats summarises routing activity since the router was built.
type Stats struct {
	Total           int           `json:"total"`
	Errors          int           `json:"errors"`
	ByTier          map[Tier]int  `json:"by_tier"`
	Learned         int           `json:"learned_matches"`
	MeanDuration    time.Duration `json:"mean_duration"`
	LearnedPatterns int           `json:"learned_patterns"`
	Recent          []Decision    `json:"recent"`
}

// tracker keeps cumulative counters and a ring of recent decisions.
type tracker struct {
	mu      sync.Mutex
	ring    []Decision
	next    int
	full    bool
	total   int
	errors  int
	learned int
	elapsed time.Duration
	byTier  map[Tier]int
}

func newTracker(size int) *tracker {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &tracker{ring: make([]Decision, size), byTier: make(map[Tier]int)}
}

func (t *tracker) add(d Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = d
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	t.total++
	t.elapsed += d.Duration
	if d.Error != "" {
		t.errors++
		return
	}
	t.byTier[d.ResultTier]++
	if d.Learned {
		t.learned++
	}
}

// recent returns retained decisions, newest first.
func (t *tracker) recent() []Decision {
	n := t.next
	if t.full {
		n = len(t.ring)
	}
	out := make([]Decision, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}

func (t *tracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Stats{
		Total:   t.total,
		Errors:  t.errors,
		Learned: t.learned,
		ByTier:  make(map[Tier]int, len(t.byTier)),
		Recent:  t.recent(),
	}
	for k, v := range t.byTier {
		st.ByTier[k] = v
	}
	if t.total > 0 {
		st.MeanDuration = t.elapsed / time.Duration(t.total)
	}
	return st
}

// Stats returns routing statistics and the recent decision history.
func (rt *Router) Stats() Stats {
	st := rt.stats.snapshot()
	st.LearnedPatterns = rt.learned.Len()
	return st
}

// History returns up to n recent decisions, newest first.
func (rt *Router) History(n int) []Decision {
	recent := rt.stats.snapshot().Recent
	if n > 0 && n < len(recent) {
		recent = recent[:n]
	}
	return recent
}
