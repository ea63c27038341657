package registry

import (
	"sort"
	"time"
)

// CategoryStats aggregates one category bucket.
type CategoryStats struct {
	Name          string `json:"name"`
	Documents     int    `json:"documents"`
	WithCompact   int    `json:"with_compact"`
	VerboseTokens int    `json:"verbose_tokens"`
	CompactTokens int    `json:"compact_tokens"`
}

// Statistics summarises the registry.
type Statistics struct {
	Version        int             `json:"version"`
	LastUpdated    time.Time       `json:"last_updated"`
	TotalDocuments int             `json:"total_documents"`
	WithCompact    int             `json:"with_compact"`
	Coverage       float64         `json:"coverage"`
	VerboseTokens  int             `json:"verbose_tokens"`
	CompactTokens  int             `json:"compact_tokens"`
	TokenReduction float64         `json:"token_reduction_percent"`
	PendingUpdates int             `json:"pending_updates"`
	Categories     []CategoryStats `json:"categories"`
}

// GetStatistics aggregates counts, token sums, compact coverage and token
// reduction over the persisted registry.
func (m *Manager) GetStatistics() (*Statistics, error) {
	reg, err := m.Load()
	if err != nil {
		return nil, err
	}
	st := &Statistics{
		Version:     reg.Version,
		LastUpdated: reg.LastUpdated,
		Categories:  []CategoryStats{},
	}
	for name, bucket := range reg.Documents {
		cs := CategoryStats{Name: name}
		for _, doc := range bucket {
			cs.Documents++
			cs.VerboseTokens += doc.TokenCounts.Verbose
			if doc.HasCompact() {
				cs.WithCompact++
				cs.CompactTokens += doc.TokenCounts.Compact
			}
		}
		st.TotalDocuments += cs.Documents
		st.WithCompact += cs.WithCompact
		st.VerboseTokens += cs.VerboseTokens
		st.CompactTokens += cs.CompactTokens
		st.Categories = append(st.Categories, cs)
	}
	sort.Slice(st.Categories, func(i, j int) bool { return st.Categories[i].Name < st.Categories[j].Name })

	if st.TotalDocuments > 0 {
		st.Coverage = float64(st.WithCompact) / float64(st.TotalDocuments)
	}
	st.TokenReduction = Reduction(st.VerboseTokens, st.CompactTokens)

	if n, err := m.queue.Pending(); err == nil {
		st.PendingUpdates = n
	}
	return st, nil
}

// Reduction returns (1 - compact/verbose) * 100, or 0 unless both are positive.
func Reduction(verbose, compact int) float64 {
	if verbose <= 0 || compact <= 0 {
		return 0
	}
	return (1 - float64(compact)/float64(verbose)) * 100
}
