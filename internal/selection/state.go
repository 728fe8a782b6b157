package selection

import (
	"sync"
)

// Selections maps each level to its chosen values. A missing or empty entry
// means "no filter" for that level.
type Selections map[Level][]string

// Get returns the values chosen at level.
func (s Selections) Get(l Level) []string {
	if s == nil {
		return nil
	}
	return s[l]
}

// State is the selection state of one dashboard context (a page or widget
// group) in one session. It is passed explicitly into every Manager call.
type State struct {
	mu       sync.Mutex
	context  string
	selected [3][]string
}

// NewState returns an empty state: nothing selected at any level.
func NewState(context string) *State {
	return &State{context: context}
}

// Context returns the context key the state belongs to.
func (s *State) Context() string { return s.context }

// Reset clears every level.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = [3][]string{}
}

// Export returns the raw stored values as widget-style key/value pairs, one
// key per level: "<context>.<level>". Values are not pruned here.
func (s *State) Export() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string, len(Levels))
	for _, l := range Levels {
		out[s.key(l)] = append([]string{}, s.selected[l]...)
	}
	return out
}

// Import loads widget-style key/value pairs produced by Export (possibly from
// an older dataset). Unknown keys are ignored and stale values are kept until
// the next read prunes them.
func (s *State) Import(values map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range Levels {
		if v, ok := values[s.key(l)]; ok {
			s.selected[l] = dedupe(v)
		}
	}
}

func (s *State) key(l Level) string {
	return s.context + "." + l.String()
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// intersect keeps the values of requested that appear in options, in request
// order.
func intersect(requested, options []string) []string {
	if len(requested) == 0 || len(options) == 0 {
		return nil
	}
	valid := make(map[string]struct{}, len(options))
	for _, o := range options {
		valid[o] = struct{}{}
	}
	var out []string
	for _, v := range requested {
		if _, ok := valid[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
