// Package service provides the dashboard's business logic: linked taxonomy
// selections, cached aggregates and rendered plots over one loaded dataset.
package service

import (
	"errors"
	"fmt"

	"github.com/taxodash/server/internal/aggregate"
	"github.com/taxodash/server/internal/cache"
	"github.com/taxodash/server/internal/dataset"
	"github.com/taxodash/server/internal/render"
	"github.com/taxodash/server/internal/selection"
)

var (
	// ErrInvalidArgument marks a malformed request parameter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoSelectedRows is returned when the active selection matches no rows.
	ErrNoSelectedRows = errors.New("no rows for this filter")
)

// DashboardServiceConfig contains dashboard service configuration.
type DashboardServiceConfig struct {
	Table      *dataset.Table
	Aggregates *cache.AggregateCache
	Cache      *cache.Manager
	Renderer   *render.PlotRenderer
	Sessions   *selection.Store

	// MaxLegendCategories hides the legend of categorical plots above this
	// many categories.
	MaxLegendCategories int
	// MaxPoints caps the number of points drawn per plot; 0 draws every row.
	MaxPoints int
}

// DashboardService serves selections, aggregates and plots for one dataset.
type DashboardService struct {
	table      *dataset.Table
	view       *dataset.View
	manager    *selection.Manager
	sessions   *selection.Store
	aggregates *cache.AggregateCache
	cache      *cache.Manager
	renderer   *render.PlotRenderer

	namespace string
	maxLegend int
	maxPoints int
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(cfg DashboardServiceConfig) *DashboardService {
	view := cfg.Table.View()

	var memo selection.OptionsMemo
	if cfg.Cache != nil {
		memo = cfg.Cache
	}
	aggregates := cfg.Aggregates
	if aggregates == nil {
		aggregates = cache.NewAggregateCache(nil, "")
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = selection.NewStore(0)
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.NewPlotRenderer(render.Config{})
	}
	maxLegend := cfg.MaxLegendCategories
	if maxLegend <= 0 {
		maxLegend = 41
	}

	ns := cfg.Table.Fingerprint()
	if ns == "" {
		ns = "mem"
	}

	return &DashboardService{
		table:      cfg.Table,
		view:       view,
		manager:    selection.NewManager(view, memo),
		sessions:   sessions,
		aggregates: aggregates,
		cache:      cfg.Cache,
		renderer:   renderer,
		namespace:  ns,
		maxLegend:  maxLegend,
		maxPoints:  cfg.MaxPoints,
	}
}

// Sessions returns the session store.
func (s *DashboardService) Sessions() *selection.Store { return s.sessions }

// Aggregates returns the aggregate cache.
func (s *DashboardService) Aggregates() *cache.AggregateCache { return s.aggregates }

// State returns the selection state of one context of a session.
func (s *DashboardService) State(sessionID, contextKey string) *selection.State {
	return s.sessions.State(sessionID, contextKey)
}

// DatasetInfo describes the loaded dataset.
type DatasetInfo struct {
	Rows            int                  `json:"rows"`
	Fingerprint     string               `json:"fingerprint,omitempty"`
	Columns         []dataset.ColumnInfo `json:"columns"`
	MissingExpected []string             `json:"missing_expected,omitempty"`
}

// Dataset returns the typed column registry and shape of the dataset.
func (s *DashboardService) Dataset() DatasetInfo {
	return DatasetInfo{
		Rows:            s.table.Len(),
		Fingerprint:     s.table.Fingerprint(),
		Columns:         s.table.Registry(),
		MissingExpected: s.table.MissingExpected(),
	}
}

// Preview holds the first rows of the dataset as text.
type Preview struct {
	Index   []string   `json:"index"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Preview returns up to n leading rows. Null cells are rendered as "NA".
func (s *DashboardService) Preview(n int) Preview {
	cols := s.view.Columns()
	if n > s.table.Len() {
		n = s.table.Len()
	}
	p := Preview{Columns: cols, Index: make([]string, 0, n), Rows: make([][]string, 0, n)}
	for i := 0; i < n; i++ {
		row := s.view.Row(i)
		cells := make([]string, len(cols))
		for j, name := range cols {
			c, err := s.table.Column(name)
			if err != nil {
				continue
			}
			v, ok := c.Value(row)
			if !ok {
				v = "NA"
			}
			cells[j] = v
		}
		p.Index = append(p.Index, s.table.Label(row))
		p.Rows = append(p.Rows, cells)
	}
	return p
}

// LevelState is the selection and option list of one level.
type LevelState struct {
	Level    string   `json:"level"`
	Column   string   `json:"column"`
	Selected []string `json:"selected"`
	Options  []string `json:"options"`
	// Notice is set when the level cannot be used, e.g. its column is missing.
	Notice string `json:"notice,omitempty"`
}

// SelectionSnapshot is the full selection state of one context.
type SelectionSnapshot struct {
	Context string       `json:"context"`
	Active  string       `json:"active_level"`
	Levels  []LevelState `json:"levels"`
}

// Snapshot returns the pruned selections and valid options of every level.
func (s *DashboardService) Snapshot(st *selection.State) SelectionSnapshot {
	snap := SelectionSnapshot{Context: st.Context()}
	sel := s.manager.Selections(st)
	for _, l := range selection.Levels {
		ls := LevelState{Level: l.String(), Column: l.Column(), Selected: sel.Get(l)}
		opts, err := s.manager.ValidOptions(st, l)
		if err != nil {
			ls.Notice = err.Error()
			opts = []string{}
		}
		if ls.Selected == nil {
			ls.Selected = []string{}
		}
		ls.Options = opts
		snap.Levels = append(snap.Levels, ls)
	}
	snap.Active = selection.ResolveActiveLevel(sel).String()
	return snap
}

// Options returns the valid options of one level.
func (s *DashboardService) Options(st *selection.State, level selection.Level) ([]string, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: level %s", ErrInvalidArgument, level)
	}
	return s.manager.ValidOptions(st, level)
}

// Select stores the valid part of values at level and returns the new snapshot.
func (s *DashboardService) Select(st *selection.State, level selection.Level, values []string) (SelectionSnapshot, error) {
	if !level.Valid() {
		return SelectionSnapshot{}, fmt.Errorf("%w: level %s", ErrInvalidArgument, level)
	}
	s.manager.SetSelection(st, level, values)
	return s.Snapshot(st), nil
}

// PartitionSummary describes the selected/other split of a context.
type PartitionSummary struct {
	Active        string           `json:"active_level"`
	Values        []string         `json:"values,omitempty"`
	SelectedRows  int              `json:"selected_rows"`
	OtherRows     int              `json:"other_rows"`
	SelectedEmpty bool             `json:"selected_empty"`
	Fallback      string           `json:"fallback,omitempty"`
	Warning       string           `json:"warning,omitempty"`
	Counts        *aggregate.Table `json:"counts,omitempty"`
}

// Partition splits the dataset by the context's active level. Without an
// active level it reports the default grouping by supercluster instead, with
// a warning when that grouping is unavailable.
func (s *DashboardService) Partition(st *selection.State) (*PartitionSummary, error) {
	part, err := selection.Split(s.view, s.manager.Selections(st))
	if err != nil {
		return nil, err
	}
	out := &PartitionSummary{Active: part.Level.String()}
	if !part.Active() {
		out.Fallback = dataset.ColSupercluster
		out.OtherRows = s.view.Len()
		counts, err := aggregate.CountBy(s.view, dataset.ColSupercluster)
		switch {
		case errors.Is(err, dataset.ErrColumnMissing):
			out.Fallback = ""
			out.Warning = dataset.ColSupercluster + " column unavailable"
		case errors.Is(err, aggregate.ErrEmptyAggregate):
			out.Warning = "no cells have a " + dataset.ColSupercluster
		case err != nil:
			return nil, err
		}
		out.Counts = counts
		return out, nil
	}

	out.Values = part.Values
	out.SelectedRows = part.Selected.Len()
	out.OtherRows = part.Other.Len()
	out.SelectedEmpty = part.SelectedEmpty()
	if out.SelectedEmpty {
		return out, nil
	}
	counts, err := aggregate.CountBy(part.Selected, part.Level.Column())
	if err != nil {
		return nil, err
	}
	out.Counts = counts
	return out, nil
}

// Bootstrap returns box statistics of the level's bootstrapping probability,
// grouped by the level's categories, over the rows matching the context's
// selections down to that level.
func (s *DashboardService) Bootstrap(st *selection.State, level selection.Level) ([]aggregate.Box, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: level %s", ErrInvalidArgument, level)
	}
	scope, err := s.manager.Scope(st, level)
	if err != nil {
		return nil, err
	}
	return aggregate.BoxStats(scope, level.Column(), level.ProbabilityColumn())
}
