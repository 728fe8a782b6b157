// Package selection keeps the linked supercluster → cluster → subcluster
// category selections of a dashboard context consistent, and splits the
// dataset into selected and other rows.
package selection

import (
	"fmt"
	"strings"

	"github.com/taxodash/server/internal/dataset"
)

// Level is one rank of the taxonomy hierarchy.
type Level int

const (
	LevelNone    Level = -1
	Supercluster Level = 0
	Cluster      Level = 1
	Subcluster   Level = 2
)

// Levels lists the hierarchy from coarsest to finest.
var Levels = []Level{Supercluster, Cluster, Subcluster}

func (l Level) String() string {
	switch l {
	case Supercluster:
		return "supercluster"
	case Cluster:
		return "cluster"
	case Subcluster:
		return "subcluster"
	default:
		return "none"
	}
}

// Valid reports whether l is one of the three hierarchy levels.
func (l Level) Valid() bool {
	return l >= Supercluster && l <= Subcluster
}

// Column returns the category column backing the level.
func (l Level) Column() string {
	switch l {
	case Supercluster:
		return dataset.ColSupercluster
	case Cluster:
		return dataset.ColCluster
	case Subcluster:
		return dataset.ColSubcluster
	}
	return ""
}

// ProbabilityColumn returns the bootstrapping probability column of the level.
func (l Level) ProbabilityColumn() string {
	switch l {
	case Supercluster:
		return dataset.ColSuperclusterProb
	case Cluster:
		return dataset.ColClusterProb
	case Subcluster:
		return dataset.ColSubclusterProb
	}
	return ""
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts a level name ("cluster") or its column name
// ("cluster_name").
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range Levels {
		if s == l.String() || s == l.Column() {
			return l, nil
		}
	}
	if s == "none" {
		return LevelNone, nil
	}
	return LevelNone, fmt.Errorf("unknown taxonomy level %q", s)
}
