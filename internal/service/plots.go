package service

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"log"
	"math"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/taxodash/server/internal/aggregate"
	"github.com/taxodash/server/internal/cache"
	"github.com/taxodash/server/internal/dataset"
	"github.com/taxodash/server/internal/render"
	"github.com/taxodash/server/internal/selection"
	"github.com/taxodash/server/pkg/colormap"
)

// Embedding names accepted by EmbeddingPlot.
const (
	EmbeddingUMAP = "umap"
	EmbeddingTSNA = "tsna"
)

// embeddingColumns resolves an embedding name to its coordinate columns.
func embeddingColumns(name string) (string, string, error) {
	switch name {
	case "", EmbeddingUMAP:
		return dataset.ColUMAP1, dataset.ColUMAP2, nil
	case EmbeddingTSNA, "tsne":
		return dataset.ColTSNA1, dataset.ColTSNA2, nil
	}
	return "", "", fmt.Errorf("%w: embedding %q", ErrInvalidArgument, name)
}

// rowHash mixes a seed and a row index into a stable pseudo-random key.
func rowHash(seed uint64, row int) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], seed)
	binary.LittleEndian.PutUint64(b[8:], uint64(row))
	return xxh3.Hash(b[:])
}

// shuffleRows returns rows in an order fixed by seed.
func shuffleRows(rows []int, seed uint64) []int {
	out := append([]int(nil), rows...)
	keys := make(map[int]uint64, len(out))
	for _, r := range out {
		keys[r] = rowHash(seed, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := keys[out[i]], keys[out[j]]
		if ki != kj {
			return ki < kj
		}
		return out[i] < out[j]
	})
	return out
}

// deterministicSample keeps at most max rows of view. The kept rows depend only
// on seed and row ids, and keep their original order.
func deterministicSample(view *dataset.View, max int, seed uint64) *dataset.View {
	if max <= 0 || view.Len() <= max {
		return view
	}
	ranked := shuffleRows(view.Rows(), seed)
	keep := make(map[int]struct{}, max)
	for _, r := range ranked[:max] {
		keep[r] = struct{}{}
	}
	return view.Select(func(row int) bool {
		_, ok := keep[row]
		return ok
	})
}

// coords reads the two coordinate columns of view.
type coords struct {
	x, y *dataset.Column
}

func (s *DashboardService) coordsFor(view *dataset.View, xCol, yCol string) (coords, *dataset.View, error) {
	x, err := view.Column(xCol)
	if err != nil {
		return coords{}, nil, err
	}
	y, err := view.Column(yCol)
	if err != nil {
		return coords{}, nil, err
	}
	if x.Kind() != dataset.KindNumeric || y.Kind() != dataset.KindNumeric {
		return coords{}, nil, fmt.Errorf("%w: embedding columns %s/%s", ErrInvalidArgument, xCol, yCol)
	}
	rows, err := view.NonNull(xCol, yCol)
	if err != nil {
		return coords{}, nil, err
	}
	return coords{x: x, y: y}, deterministicSample(rows, s.maxPoints, 0), nil
}

func (c coords) point(row int, col color.Color, m render.Marker) render.Point {
	x, _ := c.x.Float(row)
	y, _ := c.y.Float(row)
	return render.Point{X: x, Y: y, Color: col, Marker: m}
}

// categoricalLayer colours view by column with the 20-colour palette. Rows with
// a null category get a black cross when withNulls is set and are skipped
// otherwise.
func (s *DashboardService) categoricalLayer(c coords, view *dataset.View, column string, withNulls bool) ([]render.Point, []render.LegendEntry, error) {
	col, err := view.Column(column)
	if err != nil {
		return nil, nil, err
	}
	categories, err := view.UniqueValues(column)
	if err != nil {
		return nil, nil, err
	}
	index := make(map[string]int, len(categories))
	for i, v := range categories {
		index[v] = i
	}

	points := make([]render.Point, 0, view.Len())
	var nulls []render.Point
	view.Each(func(row int) {
		v, ok := col.Value(row)
		if !ok {
			if withNulls {
				nulls = append(nulls, c.point(row, colormap.Black, render.MarkerCross))
			}
			return
		}
		points = append(points, c.point(row, colormap.Tab20.AtIndex(index[v]), render.MarkerDot))
	})
	points = append(points, nulls...)

	var legend []render.LegendEntry
	if len(categories) <= s.maxLegend {
		for i, v := range categories {
			legend = append(legend, render.LegendEntry{Label: v, Color: colormap.Tab20.AtIndex(i)})
		}
		if len(nulls) > 0 {
			legend = append(legend, render.LegendEntry{Label: "NA", Color: colormap.Black})
		}
	}
	return points, legend, nil
}

func (s *DashboardService) cachedPlot(key string, draw func() ([]byte, error)) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.GetPlot(key); ok {
			return data, nil
		}
	}
	data, err := draw()
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetPlot(key, data); err != nil {
			log.Printf("[Cache] Failed to cache plot %s: %v", key, err)
		}
	}
	return data, nil
}

func selectionFilters(sel selection.Selections) map[string][]string {
	filters := make(map[string][]string)
	for _, l := range selection.Levels {
		if v := sel.Get(l); len(v) > 0 {
			filters[l.Column()] = v
		}
	}
	return filters
}

// EmbeddingPlot draws the embedding with the context's selection highlighted.
// Rows outside the active selection are drawn light grey underneath the
// selected categories. Without an active level the plot is coloured by
// supercluster and rows without one are drawn as black crosses.
func (s *DashboardService) EmbeddingPlot(st *selection.State, embedding string) ([]byte, error) {
	xCol, yCol, err := embeddingColumns(embedding)
	if err != nil {
		return nil, err
	}
	sel := s.manager.Selections(st)
	key := cache.PlotKey(s.namespace, "embedding", selectionFilters(sel), xCol)

	return s.cachedPlot(key, func() ([]byte, error) {
		c, view, err := s.coordsFor(s.view, xCol, yCol)
		if err != nil {
			return nil, err
		}
		part, err := selection.Split(view, sel)
		if err != nil {
			return nil, err
		}

		if !part.Active() {
			points, legend, err := s.categoricalLayer(c, view, dataset.ColSupercluster, true)
			if errors.Is(err, dataset.ErrColumnMissing) {
				points, legend = nil, nil
				view.Each(func(row int) {
					points = append(points, c.point(row, colormap.LightGrey, render.MarkerDot))
				})
			} else if err != nil {
				return nil, err
			}
			return s.renderer.Scatter(points, legend)
		}

		if part.SelectedEmpty() {
			return nil, ErrNoSelectedRows
		}
		points := make([]render.Point, 0, view.Len())
		part.Other.Each(func(row int) {
			points = append(points, c.point(row, colormap.LightGrey, render.MarkerDot))
		})
		selected, legend, err := s.categoricalLayer(c, part.Selected, part.Level.Column(), false)
		if err != nil {
			return nil, err
		}
		points = append(points, selected...)
		if legend != nil && !part.Other.Empty() {
			legend = append(legend, render.LegendEntry{Label: "other", Color: colormap.LightGrey})
		}
		return s.renderer.Scatter(points, legend)
	})
}

// ColorByFeature draws the UMAP coloured by any column. Categorical columns use
// the 20-colour palette; numeric columns are scaled onto cmap (viridis when
// empty).
func (s *DashboardService) ColorByFeature(column, cmap string) ([]byte, error) {
	col, err := s.table.Column(column)
	if err != nil {
		return nil, err
	}
	if cmap == "" {
		cmap = "viridis"
	}
	scale, err := colormap.ByName(cmap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	key := cache.PlotKey(s.namespace, "feature", nil, column, cmap)

	return s.cachedPlot(key, func() ([]byte, error) {
		c, view, err := s.coordsFor(s.view, dataset.ColUMAP1, dataset.ColUMAP2)
		if err != nil {
			return nil, err
		}
		if col.Kind() == dataset.KindCategorical {
			points, legend, err := s.categoricalLayer(c, view, column, true)
			if err != nil {
				return nil, err
			}
			return s.renderer.Scatter(points, legend)
		}

		lo, hi, ok := numericRange(view, col)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no finite values", aggregate.ErrEmptyAggregate, column)
		}
		points := make([]render.Point, 0, view.Len())
		var nulls []render.Point
		view.Each(func(row int) {
			v, ok := col.Float(row)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				nulls = append(nulls, c.point(row, colormap.LightGrey, render.MarkerDot))
				return
			}
			t := 0.5
			if hi > lo {
				t = (v - lo) / (hi - lo)
			}
			points = append(points, c.point(row, scale.At(t), render.MarkerDot))
		})
		legend := []render.LegendEntry{
			{Label: strconv.FormatFloat(lo, 'g', 4, 64), Color: scale.At(0)},
			{Label: strconv.FormatFloat(hi, 'g', 4, 64), Color: scale.At(1)},
		}
		return s.renderer.Scatter(append(nulls, points...), legend)
	})
}

func numericRange(view *dataset.View, col *dataset.Column) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	view.Each(func(row int) {
		v, valid := col.Float(row)
		if !valid || math.IsNaN(v) || math.IsInf(v, 0) {
			return
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		ok = true
	})
	return lo, hi, ok
}

// LegendItem is one legend row of a categorical colouring.
type LegendItem struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// FeatureLegend lists the colours ColorByFeature assigns to the categories of
// a column. The list is empty when it would exceed the legend limit.
func (s *DashboardService) FeatureLegend(column string) ([]LegendItem, error) {
	col, err := s.table.Column(column)
	if err != nil {
		return nil, err
	}
	if col.Kind() != dataset.KindCategorical {
		return nil, fmt.Errorf("%w: %s is not categorical", ErrInvalidArgument, column)
	}
	view, err := s.view.NonNull(dataset.ColUMAP1, dataset.ColUMAP2)
	if err != nil {
		return nil, err
	}
	categories, err := view.UniqueValues(column)
	if err != nil {
		return nil, err
	}
	items := []LegendItem{}
	if len(categories) > s.maxLegend {
		return items, nil
	}
	for i, v := range categories {
		items = append(items, LegendItem{Label: v, Color: colormap.Hex(colormap.Tab20.AtIndex(i))})
	}
	return items, nil
}

// SamplesPlot draws the UMAP coloured by sample, in an order shuffled by seed
// so that no sample systematically covers the others.
func (s *DashboardService) SamplesPlot(seed uint64) ([]byte, error) {
	key := cache.PlotKey(s.namespace, "samples", nil, strconv.FormatUint(seed, 10))

	return s.cachedPlot(key, func() ([]byte, error) {
		c, view, err := s.coordsFor(s.view, dataset.ColUMAP1, dataset.ColUMAP2)
		if err != nil {
			return nil, err
		}
		points, legend, err := s.categoricalLayer(c, view, dataset.ColSample, false)
		if err != nil {
			return nil, err
		}
		order := make([]int, len(points))
		for i := range order {
			order[i] = i
		}
		order = shuffleRows(order, seed)
		shuffled := make([]render.Point, len(points))
		for i, j := range order {
			shuffled[i] = points[j]
		}
		return s.renderer.Scatter(shuffled, legend)
	})
}

// EmptyPlot returns the transparent placeholder shown when a plot is
// unavailable.
func (s *DashboardService) EmptyPlot() ([]byte, error) {
	return s.renderer.EmptyPlot()
}
