package selection

import (
	"github.com/taxodash/server/internal/cache"
	"github.com/taxodash/server/internal/dataset"
)

// OptionsMemo memoizes valid-option lists. Entries are pure functions of the
// dataset and the ancestor filter, so a memo may evict freely.
type OptionsMemo interface {
	GetOptions(key string) ([]string, bool)
	SetOptions(key string, options []string)
}

// Manager computes valid options and pruned selections for any State over one
// dataset view. It holds no per-session data itself.
type Manager struct {
	view      *dataset.View
	memo      OptionsMemo
	namespace string
}

// NewManager creates a manager over view. memo may be nil.
func NewManager(view *dataset.View, memo OptionsMemo) *Manager {
	ns := view.Table().Fingerprint()
	if ns == "" {
		ns = "mem"
	}
	return &Manager{view: view, memo: memo, namespace: ns}
}

// View returns the dataset view the manager reads from.
func (m *Manager) View() *dataset.View { return m.view }

// ValidOptions returns the categories selectable at level given the current
// (pruned) selections of its ancestors. A missing level column yields
// dataset.ErrColumnMissing.
func (m *Manager) ValidOptions(st *State, level Level) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	opts, err := m.validOptionsLocked(st, level)
	if err != nil {
		return nil, err
	}
	return clone(opts), nil
}

// SetSelection stores requested ∩ ValidOptions(level) and returns the stored
// values. Values that are not currently valid are dropped silently.
func (m *Manager) SetSelection(st *State, level Level, requested []string) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	opts, err := m.validOptionsLocked(st, level)
	if err != nil {
		st.selected[level] = nil
		return nil
	}
	st.selected[level] = intersect(dedupe(requested), opts)
	return clone(st.selected[level])
}

// Selection returns the stored values of level after pruning them against the
// current ancestor selections. The pruned result is written back.
func (m *Manager) Selection(st *State, level Level) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return clone(m.selectionLocked(st, level))
}

// Selections returns all three pruned selections.
func (m *Manager) Selections(st *State) Selections {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make(Selections, len(Levels))
	for _, l := range Levels {
		out[l] = clone(m.selectionLocked(st, l))
	}
	return out
}

// Active returns the deepest level with a non-empty pruned selection.
func (m *Manager) Active(st *State) Level {
	return ResolveActiveLevel(m.Selections(st))
}

// Scope returns the rows matching every non-empty selection from the top of
// the hierarchy down to and including level.
func (m *Manager) Scope(st *State, level Level) (*dataset.View, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	v := m.view
	for l := Supercluster; l <= level; l++ {
		sel := m.selectionLocked(st, l)
		if len(sel) == 0 {
			continue
		}
		next, err := v.Filter(l.Column(), sel)
		if err != nil {
			return nil, err
		}
		v = next
	}
	return v, nil
}

func (m *Manager) selectionLocked(st *State, level Level) []string {
	stored := st.selected[level]
	if len(stored) == 0 {
		return nil
	}
	opts, err := m.validOptionsLocked(st, level)
	if err != nil {
		st.selected[level] = nil
		return nil
	}
	st.selected[level] = intersect(stored, opts)
	return st.selected[level]
}

func (m *Manager) validOptionsLocked(st *State, level Level) ([]string, error) {
	col := level.Column()
	if !m.view.Has(col) {
		return nil, &dataset.ColumnMissingError{Column: col}
	}

	// Every non-empty ancestor constrains, not only the immediate parent: with
	// supercluster X chosen and no cluster chosen, subcluster options stay
	// within X, and a later cluster change inside X keeps the subclusters
	// that still belong to it.
	v := m.view
	filters := make(map[string][]string)
	for anc := Supercluster; anc < level; anc++ {
		sel := m.selectionLocked(st, anc)
		if len(sel) == 0 {
			continue
		}
		filters[anc.Column()] = sel
	}

	key := cache.OptionsKey(m.namespace, col, filters)
	if m.memo != nil {
		if opts, ok := m.memo.GetOptions(key); ok {
			return opts, nil
		}
	}

	for anc := Supercluster; anc < level; anc++ {
		sel, ok := filters[anc.Column()]
		if !ok {
			continue
		}
		next, err := v.Filter(anc.Column(), sel)
		if err != nil {
			return nil, err
		}
		v = next
	}
	opts, err := v.UniqueValues(col)
	if err != nil {
		return nil, err
	}
	if m.memo != nil {
		m.memo.SetOptions(key, opts)
	}
	return opts, nil
}

func clone(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string{}, values...)
}
