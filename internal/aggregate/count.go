// Package aggregate computes grouped counts, fractions and summary statistics
// over dataset views. Every function is pure: it reads its inputs and returns
// a new result.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/taxodash/server/internal/dataset"
)

// ErrEmptyAggregate is returned when no rows remain after dropping nulls.
var ErrEmptyAggregate = errors.New("aggregate: no rows to aggregate")

// Row is one group of a Table.
type Row struct {
	Keys     []string `json:"keys"`
	Count    int      `json:"count"`
	Fraction float64  `json:"fraction,omitempty"`
}

// Table is a grouped count, optionally carrying per-row fractions.
type Table struct {
	GroupBy []string `json:"group_by"`
	Rows    []Row    `json:"rows"`
}

// Total returns the sum of all counts.
func (t *Table) Total() int {
	n := 0
	for _, r := range t.Rows {
		n += r.Count
	}
	return n
}

func (t *Table) column(name string) (int, error) {
	for i, c := range t.GroupBy {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("aggregate: %q is not a grouping column of %v", name, t.GroupBy)
}

// CountBy counts the rows of view per distinct combination of columns. Rows
// with a null in any grouping column are skipped. Groups are ordered by their
// keys, numeric columns numerically.
func CountBy(view *dataset.View, columns ...string) (*Table, error) {
	if len(columns) == 0 {
		return nil, errors.New("aggregate: no grouping columns")
	}
	cols := make([]*dataset.Column, len(columns))
	kinds := make([]dataset.Kind, len(columns))
	for i, name := range columns {
		c, err := view.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
		kinds[i] = c.Kind()
	}

	index := make(map[string]int)
	var rows []Row
	keys := make([]string, len(cols))
	view.Each(func(row int) {
		for i, c := range cols {
			v, ok := c.Value(row)
			if !ok {
				return
			}
			keys[i] = v
		}
		id := strings.Join(keys, "\x00")
		if j, ok := index[id]; ok {
			rows[j].Count++
			return
		}
		index[id] = len(rows)
		rows = append(rows, Row{Keys: append([]string(nil), keys...), Count: 1})
	})
	if len(rows) == 0 {
		return nil, ErrEmptyAggregate
	}

	sort.Slice(rows, func(i, j int) bool {
		return lessKeys(kinds, rows[i].Keys, rows[j].Keys)
	})
	return &Table{GroupBy: append([]string(nil), columns...), Rows: rows}, nil
}

// lessKeys compares key tuples column by column, in the same order
// View.UniqueValues lists the values of each column.
func lessKeys(kinds []dataset.Kind, a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return kinds[i].Less(a[i], b[i])
		}
	}
	return false
}

// FractionWithin sets each row's fraction to its count divided by the total
// count of all rows sharing its normalizeBy key. The fractions of every
// normalizeBy key sum to 1.
func FractionWithin(t *Table, normalizeBy string) (*Table, error) {
	idx, err := t.column(normalizeBy)
	if err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, ErrEmptyAggregate
	}

	totals := make(map[string]int)
	for _, r := range t.Rows {
		totals[r.Keys[idx]] += r.Count
	}
	out := &Table{GroupBy: append([]string(nil), t.GroupBy...), Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		r.Keys = append([]string(nil), r.Keys...)
		if total := totals[r.Keys[idx]]; total > 0 {
			r.Fraction = float64(r.Count) / float64(total)
		}
		out.Rows[i] = r
	}
	return out, nil
}

// RankBy selects the metric TopN orders by.
type RankBy int

const (
	RankByCount RankBy = iota
	RankByFraction
)

// ParseRankBy accepts "count" or "fraction".
func ParseRankBy(s string) (RankBy, error) {
	switch strings.ToLower(s) {
	case "", "count":
		return RankByCount, nil
	case "fraction":
		return RankByFraction, nil
	}
	return RankByCount, fmt.Errorf("aggregate: unknown rank column %q", s)
}

// TopN returns the n rows with the largest rank metric. Ties keep their order
// in t. n <= 0 keeps every row, sorted.
func TopN(t *Table, rankBy RankBy, n int) *Table {
	rows := append([]Row(nil), t.Rows...)
	metric := func(r Row) float64 {
		if rankBy == RankByFraction {
			return r.Fraction
		}
		return float64(r.Count)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return metric(rows[i]) > metric(rows[j])
	})
	if n > 0 && n < len(rows) {
		rows = rows[:n]
	}
	return &Table{GroupBy: append([]string(nil), t.GroupBy...), Rows: rows}
}

// ValueCounts counts the values of one column, most frequent first. Ties are
// ordered by value.
func ValueCounts(view *dataset.View, column string) (*Table, error) {
	t, err := CountBy(view, column)
	if err != nil {
		return nil, err
	}
	return TopN(t, RankByCount, 0), nil
}

// CumulativePercent returns the running share of the total count, in percent,
// following the row order of t. The last element is 100.
func CumulativePercent(t *Table) []float64 {
	total := t.Total()
	out := make([]float64, len(t.Rows))
	if total == 0 {
		return out
	}
	run := 0
	for i, r := range t.Rows {
		run += r.Count
		out[i] = 100 * float64(run) / float64(total)
	}
	return out
}
