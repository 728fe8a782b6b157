package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"
	"github.com/taxodash/server/internal/dataset"
)

// ErrNotNumeric is returned when a numeric statistic is requested over a
// categorical column.
var ErrNotNumeric = errors.New("aggregate: column is not numeric")

// Box holds the box-plot statistics of one category.
type Box struct {
	Category     string  `json:"category"`
	N            int     `json:"n"`
	Min          float64 `json:"min"`
	Q1           float64 `json:"q1"`
	Median       float64 `json:"median"`
	Q3           float64 `json:"q3"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	LowerWhisker float64 `json:"lower_whisker"`
	UpperWhisker float64 `json:"upper_whisker"`
	Outliers     int     `json:"outliers"`
}

func numericColumn(view *dataset.View, name string) (*dataset.Column, error) {
	c, err := view.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind() != dataset.KindNumeric {
		return nil, fmt.Errorf("%w: %s", ErrNotNumeric, name)
	}
	return c, nil
}

// BoxStats groups the finite values of valueCol by categoryCol and returns one
// Box per category, ordered by category.
func BoxStats(view *dataset.View, categoryCol, valueCol string) ([]Box, error) {
	cat, err := view.Column(categoryCol)
	if err != nil {
		return nil, err
	}
	val, err := numericColumn(view, valueCol)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]float64)
	view.Each(func(row int) {
		k, ok := cat.Value(row)
		if !ok {
			return
		}
		x, ok := val.Float(row)
		if !ok || math.IsNaN(x) || math.IsInf(x, 0) {
			return
		}
		groups[k] = append(groups[k], x)
	})
	if len(groups) == 0 {
		return nil, ErrEmptyAggregate
	}

	names := make([]string, 0, len(groups))
	for k := range groups {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]Box, 0, len(names))
	for _, k := range names {
		out = append(out, boxOf(k, groups[k]))
	}
	return out, nil
}

func boxOf(category string, xs []float64) Box {
	s := stats.Sample{Xs: xs}
	s.Sort()

	b := Box{
		Category: category,
		N:        len(xs),
		Q1:       s.Quantile(0.25),
		Median:   s.Quantile(0.5),
		Q3:       s.Quantile(0.75),
		Mean:     s.Mean(),
	}
	b.Min, b.Max = s.Bounds()

	iqr := b.Q3 - b.Q1
	lo, hi := b.Q1-1.5*iqr, b.Q3+1.5*iqr
	b.LowerWhisker, b.UpperWhisker = b.Max, b.Min
	for _, x := range s.Xs {
		if x < lo || x > hi {
			b.Outliers++
			continue
		}
		if x < b.LowerWhisker {
			b.LowerWhisker = x
		}
		if x > b.UpperWhisker {
			b.UpperWhisker = x
		}
	}
	return b
}

// Histogram is a binned numeric distribution.
type Histogram struct {
	Column string `json:"column"`
	// Edges has len(Counts)+1 entries; bin i spans [Edges[i], Edges[i+1]) and
	// the last bin also holds its upper edge.
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
	// Values is Counts, or Counts as a percentage of Total when Percent is set.
	Values            []float64 `json:"values"`
	Percent           bool      `json:"percent"`
	CumulativePercent []float64 `json:"cumulative_percent"`
	Total             int       `json:"total"`
}

// NewHistogram bins the finite values of column into bins equal-width bins
// spanning the observed range.
func NewHistogram(view *dataset.View, column string, bins int, percent bool) (*Histogram, error) {
	if bins < 1 {
		return nil, fmt.Errorf("aggregate: histogram needs at least one bin, got %d", bins)
	}
	c, err := numericColumn(view, column)
	if err != nil {
		return nil, err
	}

	var xs []float64
	view.Each(func(row int) {
		x, ok := c.Float(row)
		if ok && !math.IsNaN(x) && !math.IsInf(x, 0) {
			xs = append(xs, x)
		}
	})
	if len(xs) == 0 {
		return nil, ErrEmptyAggregate
	}

	lo, hi := stats.Bounds(xs)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	lh := stats.NewLinearHist(lo, hi, bins)
	for _, x := range xs {
		lh.Add(x)
	}
	// Values equal to hi land past the last bin; fold them back in.
	_, raw, high := lh.Counts()

	h := &Histogram{
		Column:            column,
		Edges:             make([]float64, bins+1),
		Counts:            make([]int, bins),
		Values:            make([]float64, bins),
		Percent:           percent,
		CumulativePercent: make([]float64, bins),
		Total:             len(xs),
	}
	for i := 0; i <= bins; i++ {
		h.Edges[i] = lh.BinToValue(float64(i))
	}
	h.Edges[bins] = hi
	for i, n := range raw {
		h.Counts[i] = int(n)
	}
	h.Counts[bins-1] += int(high)

	run := 0
	for i, n := range h.Counts {
		run += n
		h.Values[i] = float64(n)
		if percent {
			h.Values[i] = 100 * float64(n) / float64(h.Total)
		}
		h.CumulativePercent[i] = 100 * float64(run) / float64(h.Total)
	}
	return h, nil
}
