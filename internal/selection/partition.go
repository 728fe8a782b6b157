package selection

import (
	"github.com/taxodash/server/internal/dataset"
)

// ResolveActiveLevel returns the deepest level whose selection is non-empty,
// or LevelNone. Deeper levels win outright; shallower selections only
// constrain the options offered below them.
func ResolveActiveLevel(sel Selections) Level {
	for i := len(Levels) - 1; i >= 0; i-- {
		if len(sel.Get(Levels[i])) > 0 {
			return Levels[i]
		}
	}
	return LevelNone
}

// Partition is the split of a view by the active level's selection.
type Partition struct {
	Level    Level
	Values   []string
	Selected *dataset.View
	Other    *dataset.View
}

// Active reports whether any level drives the partition. An inactive
// partition has nil views and the caller falls back to its default grouping.
func (p Partition) Active() bool {
	return p.Level != LevelNone
}

// SelectedEmpty reports an active partition whose selected side has no rows.
func (p Partition) SelectedEmpty() bool {
	return p.Active() && (p.Selected == nil || p.Selected.Empty())
}

// Split partitions view into the rows matching the active level's selection
// and all remaining rows. The two sides are disjoint and cover view.
func Split(view *dataset.View, sel Selections) (Partition, error) {
	level := ResolveActiveLevel(sel)
	if level == LevelNone {
		return Partition{Level: LevelNone}, nil
	}

	values := sel.Get(level)
	selected, err := view.Filter(level.Column(), values)
	if err != nil {
		return Partition{Level: LevelNone}, err
	}
	other, err := view.ComplementFilter(level.Column(), values)
	if err != nil {
		return Partition{Level: LevelNone}, err
	}
	return Partition{
		Level:    level,
		Values:   append([]string(nil), values...),
		Selected: selected,
		Other:    other,
	}, nil
}
