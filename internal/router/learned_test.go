package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearnedStore_RecordAndMatch(t *testing.T) {
	s := OpenLearned("", quietLogger())
	require.NoError(t, s.Record("research", []string{"market", "analysis"}))
	require.NoError(t, s.Record("finance", []string{"revenue", "analysis"}))
	require.NoError(t, s.Record("finance", []string{"forecast"}))

	p, ok := s.Match([]string{"revenue", "forecast"})
	require.True(t, ok)
	assert.Equal(t, "finance", p.Folder)
	assert.Equal(t, 2, p.UsageCount)

	// One hit each: the more used pattern wins.
	p, ok = s.Match([]string{"analysis"})
	require.True(t, ok)
	assert.Equal(t, "finance", p.Folder)

	_, ok = s.Match([]string{"unrelated"})
	assert.False(t, ok)
}

func TestLearnedStore_MatchReturnsCopy(t *testing.T) {
	s := OpenLearned("", quietLogger())
	require.NoError(t, s.Record("research", []string{"market"}))
	p, _ := s.Match([]string{"market"})
	p.Keywords[0] = "mutated"
	again, ok := s.Match([]string{"market"})
	require.True(t, ok)
	assert.Equal(t, []string{"market"}, again.Keywords)
}

func TestLearnedStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "learned.yaml")
	s := OpenLearned(path, quietLogger())
	require.NoError(t, s.Record("research", []string{"market"}))
	require.NoError(t, s.Touch("research"))
	require.NoError(t, s.Touch("missing"))

	reopened := OpenLearned(path, quietLogger())
	require.Equal(t, 1, reopened.Len())
	assert.Equal(t, 2, reopened.Patterns()[0].UsageCount)
}

func TestLearnedStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learned.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns: [:"), 0o644))
	s := OpenLearned(path, quietLogger())
	assert.Zero(t, s.Len())
}
