package cache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// OptionsKey generates a cache key for the valid options of column under a set
// of ancestor filters. Filter order does not affect the key.
func OptionsKey(namespace, column string, filters map[string][]string) string {
	base := "opts:" + namespace + ":" + column
	if len(filters) == 0 {
		return base
	}
	return base + ":" + hashFilters(filters)
}

// PlotKey generates a cache key for a rendered plot. A nil filter map means
// "no highlighting"; an empty non-nil map is kept distinct from it.
func PlotKey(namespace, kind string, filters map[string][]string, params ...string) string {
	base := "plot:" + namespace + ":" + kind
	if len(params) > 0 {
		base += ":" + strings.Join(params, ":")
	}
	if filters == nil {
		return base
	}
	if len(filters) == 0 {
		return base + ":none"
	}
	return base + ":" + hashFilters(filters)
}

// ArtifactKey qualifies an aggregate name with a dataset fingerprint. An empty
// fingerprint leaves the human-readable name untouched.
func ArtifactKey(name, fingerprint string) string {
	if fingerprint == "" {
		return name
	}
	return name + "@" + fingerprint
}

func hashFilters(filters map[string][]string) string {
	cols := make([]string, 0, len(filters))
	for c := range filters {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	h := xxh3.New()
	for _, c := range cols {
		values := append([]string(nil), filters[c]...)
		sort.Strings(values)
		h.WriteString(c)
		h.Write([]byte{0})
		for _, v := range values {
			h.WriteString(v)
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
