package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/taxodash/server/internal/aggregate"
	"github.com/taxodash/server/internal/cache"
	"github.com/taxodash/server/internal/dataset"
	"github.com/taxodash/server/internal/selection"
)

// Artifact names of the cached aggregates.
const (
	ArtifactLabelFractions = "superclusters_per_sample"
	prefixLevelCounts      = "counts_per_"
	prefixSampleCounts     = "sample_counts:"
	prefixValueCounts      = "value_counts:"
	prefixHistogram        = "histogram:"
)

// Histogram and top-N limits of the summary views.
const (
	MinBins     = 5
	MaxBins     = 100
	DefaultBins = 30
	MinTopN     = 5
	MaxTopN     = 50
	DefaultTopN = 20
)

// DefaultWarmArtifacts are computed at startup when no list is configured.
var DefaultWarmArtifacts = []string{
	ArtifactLabelFractions,
	prefixLevelCounts + dataset.ColSupercluster,
	prefixLevelCounts + dataset.ColCluster,
	prefixLevelCounts + dataset.ColSubcluster,
}

// LabelFractions returns, for every sample, the fraction of its cells in each
// supercluster.
func (s *DashboardService) LabelFractions(ctx context.Context) (*aggregate.Table, error) {
	return cache.GetOrComputeJSON(ctx, s.aggregates, ArtifactLabelFractions, func(context.Context) (*aggregate.Table, error) {
		counts, err := aggregate.CountBy(s.view, dataset.ColSample, dataset.ColSupercluster)
		if err != nil {
			return nil, err
		}
		return aggregate.FractionWithin(counts, dataset.ColSample)
	})
}

// LevelCounts returns the number of cells per category of a level.
func (s *DashboardService) LevelCounts(ctx context.Context, level selection.Level) (*aggregate.Table, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: level %s", ErrInvalidArgument, level)
	}
	col := level.Column()
	return cache.GetOrComputeJSON(ctx, s.aggregates, prefixLevelCounts+col, func(context.Context) (*aggregate.Table, error) {
		return aggregate.CountBy(s.view, col)
	})
}

// CategorySampleCounts returns the number of cells of one category per sample.
func (s *DashboardService) CategorySampleCounts(ctx context.Context, level selection.Level, category string) (*aggregate.Table, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: level %s", ErrInvalidArgument, level)
	}
	if category == "" {
		return nil, fmt.Errorf("%w: empty category", ErrInvalidArgument)
	}
	col := level.Column()
	key := prefixSampleCounts + col + "=" + category
	return cache.GetOrComputeJSON(ctx, s.aggregates, key, func(context.Context) (*aggregate.Table, error) {
		rows, err := s.view.Filter(col, []string{category})
		if err != nil {
			return nil, err
		}
		return aggregate.CountBy(rows, dataset.ColSample)
	})
}

// ClampBins limits a histogram bin count to the supported range; 0 selects the
// default.
func ClampBins(bins int) int {
	switch {
	case bins == 0:
		return DefaultBins
	case bins < MinBins:
		return MinBins
	case bins > MaxBins:
		return MaxBins
	}
	return bins
}

// ClampTopN limits a top-N size to the supported range; 0 selects the default.
func ClampTopN(n int) int {
	switch {
	case n == 0:
		return DefaultTopN
	case n < MinTopN:
		return MinTopN
	case n > MaxTopN:
		return MaxTopN
	}
	return n
}

// NumericHistogram returns the binned distribution of a numeric column.
func (s *DashboardService) NumericHistogram(ctx context.Context, column string, bins int, percent bool) (*aggregate.Histogram, error) {
	bins = ClampBins(bins)
	key := fmt.Sprintf("%s%s:%d:%t", prefixHistogram, column, bins, percent)
	return cache.GetOrComputeJSON(ctx, s.aggregates, key, func(context.Context) (*aggregate.Histogram, error) {
		return aggregate.NewHistogram(s.view, column, bins, percent)
	})
}

// ValueCounts returns the value counts of a column, most frequent first.
func (s *DashboardService) ValueCounts(ctx context.Context, column string) (*aggregate.Table, error) {
	return cache.GetOrComputeJSON(ctx, s.aggregates, prefixValueCounts+column, func(context.Context) (*aggregate.Table, error) {
		return aggregate.ValueCounts(s.view, column)
	})
}

// CategoricalSummary combines the full-column summary with the top-N slice
// used for charts.
type CategoricalSummary struct {
	Column            string             `json:"column"`
	Summary           *aggregate.Summary `json:"summary"`
	Top               *aggregate.Table   `json:"top"`
	CumulativePercent []float64          `json:"cumulative_percent"`
}

// CategoricalSummary summarizes a column. The cumulative percent series runs
// over the top-N categories only.
func (s *DashboardService) CategoricalSummary(ctx context.Context, column string, top int) (*CategoricalSummary, error) {
	counts, err := s.ValueCounts(ctx, column)
	if err != nil {
		return nil, err
	}
	summary, err := aggregate.Summarize(counts)
	if err != nil {
		return nil, err
	}
	topTable := aggregate.TopN(counts, aggregate.RankByCount, ClampTopN(top))
	return &CategoricalSummary{
		Column:            column,
		Summary:           summary,
		Top:               topTable,
		CumulativePercent: aggregate.CumulativePercent(topTable),
	}, nil
}

// warmer resolves an artifact name to the call that computes it.
func (s *DashboardService) warmer(name string) (func(context.Context) error, error) {
	switch {
	case name == ArtifactLabelFractions:
		return func(ctx context.Context) error {
			_, err := s.LabelFractions(ctx)
			return err
		}, nil
	case strings.HasPrefix(name, prefixLevelCounts):
		level, err := selection.ParseLevel(strings.TrimPrefix(name, prefixLevelCounts))
		if err != nil || !level.Valid() {
			return nil, fmt.Errorf("%w: artifact %q", ErrInvalidArgument, name)
		}
		return func(ctx context.Context) error {
			_, err := s.LevelCounts(ctx, level)
			return err
		}, nil
	case strings.HasPrefix(name, prefixValueCounts):
		column := strings.TrimPrefix(name, prefixValueCounts)
		return func(ctx context.Context) error {
			_, err := s.ValueCounts(ctx, column)
			return err
		}, nil
	}
	return nil, fmt.Errorf("%w: artifact %q", ErrInvalidArgument, name)
}

// Warm computes the named artifacts concurrently. Artifacts whose columns are
// missing or empty are skipped with a log line.
func (s *DashboardService) Warm(ctx context.Context, names []string) error {
	fns := make([]func(context.Context) error, len(names))
	for i, name := range names {
		fn, err := s.warmer(name)
		if err != nil {
			return err
		}
		fns[i] = fn
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		name, fn := name, fns[i]
		g.Go(func() error {
			err := fn(ctx)
			switch {
			case err == nil:
				log.Printf("[Cache] warmed %s", name)
			case errors.Is(err, dataset.ErrColumnMissing), errors.Is(err, aggregate.ErrEmptyAggregate):
				log.Printf("[Cache] skipped %s: %v", name, err)
			default:
				return fmt.Errorf("warm %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
