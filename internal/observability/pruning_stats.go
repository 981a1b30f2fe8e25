package observability

import (
	"sort"
	"sync"
)

// PredicateStats counts how one column and operator pair performed against
// row group statistics.
type PredicateStats struct {
	Column   string
	Operator string

	// Evaluated is the number of row groups the predicate was checked against
	Evaluated int64

	// Skipped is the number of row groups the predicate ruled out
	Skipped int64
}

// PruningStats tracks predicate pruning effectiveness across scans.
// It is safe for concurrent use.
type PruningStats struct {
	mu      sync.Mutex
	entries map[[2]string]*PredicateStats
}

// NewPruningStats creates an empty tracker.
func NewPruningStats() *PruningStats {
	return &PruningStats{entries: make(map[[2]string]*PredicateStats)}
}

// RecordPredicate records one evaluation of a predicate on column with
// operator against a row group.
func (s *PruningStats) RecordPredicate(column, operator string, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{column, operator}
	st, ok := s.entries[key]
	if !ok {
		st = &PredicateStats{Column: column, Operator: operator}
		s.entries[key] = st
	}
	st.Evaluated++
	if skipped {
		st.Skipped++
	}
}

// Top returns copies of the n entries that skipped the most row groups.
// Ties are ordered by column then operator.
func (s *PruningStats) Top(n int) []PredicateStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.entries) == 0 {
		return []PredicateStats{}
	}
	out := make([]PredicateStats, 0, len(s.entries))
	for _, st := range s.entries {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Skipped != out[j].Skipped {
			return out[i].Skipped > out[j].Skipped
		}
		if out[i].Column != out[j].Column {
			return out[i].Column < out[j].Column
		}
		return out[i].Operator < out[j].Operator
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}
