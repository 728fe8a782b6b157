package aggregate

import (
	"github.com/taxodash/server/internal/dataset"
)

// Summary describes the distribution of group counts in a one-column Table.
type Summary struct {
	Min             int      `json:"min"`
	Max             int      `json:"max"`
	CategoriesAtMin []string `json:"categories_at_min"`
	CategoriesAtMax []string `json:"categories_at_max"`
	UniqueCount     int      `json:"unique_count"`
	TotalCount      int      `json:"total_count"`
}

// Summarize reports the extremal group counts of t together with every group
// that reaches them. Groups are named by their first key.
func Summarize(t *Table) (*Summary, error) {
	if len(t.Rows) == 0 {
		return nil, ErrEmptyAggregate
	}
	s := &Summary{
		Min:         t.Rows[0].Count,
		Max:         t.Rows[0].Count,
		UniqueCount: len(t.Rows),
	}
	for _, r := range t.Rows {
		s.TotalCount += r.Count
		if r.Count < s.Min {
			s.Min = r.Count
		}
		if r.Count > s.Max {
			s.Max = r.Count
		}
	}
	for _, r := range t.Rows {
		name := r.Keys[0]
		if r.Count == s.Min {
			s.CategoriesAtMin = append(s.CategoriesAtMin, name)
		}
		if r.Count == s.Max {
			s.CategoriesAtMax = append(s.CategoriesAtMax, name)
		}
	}
	return s, nil
}

// SummarizeColumn is Summarize over the value counts of column.
func SummarizeColumn(view *dataset.View, column string) (*Summary, error) {
	t, err := ValueCounts(view, column)
	if err != nil {
		return nil, err
	}
	return Summarize(t)
}
