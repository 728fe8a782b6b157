// Package dataset holds the loaded cell table and read-only views over it.
//
// A Table is immutable once built. Views are cheap row-index selections over a
// Table; every view operation returns a new View and never mutates its input.
package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known column names of the annotated cell table.
const (
	ColSample       = "sample"
	ColSupercluster = "supercluster_name"
	ColCluster      = "cluster_name"
	ColSubcluster   = "subcluster_name"

	ColSuperclusterProb = "supercluster_bootstrapping_probability"
	ColClusterProb      = "cluster_bootstrapping_probability"
	ColSubclusterProb   = "subcluster_bootstrapping_probability"

	ColUMAP1 = "umap1"
	ColUMAP2 = "umap2"
	ColTSNA1 = "tsna1"
	ColTSNA2 = "tsna2"
)

// ExpectedColumns lists the columns the dashboard knows how to use.
// None of them is mandatory.
var ExpectedColumns = []string{
	ColSample,
	ColSupercluster, ColCluster, ColSubcluster,
	ColSuperclusterProb, ColClusterProb, ColSubclusterProb,
	ColUMAP1, ColUMAP2, ColTSNA1, ColTSNA2,
}

// ErrColumnMissing is returned (wrapped) whenever a requested column is not part
// of the table. Callers treat it as "feature unavailable".
var ErrColumnMissing = errors.New("column missing")

// ColumnMissingError names the column that was requested but not found.
type ColumnMissingError struct {
	Column string
}

func (e *ColumnMissingError) Error() string {
	return fmt.Sprintf("column %q not found in dataset", e.Column)
}

func (e *ColumnMissingError) Unwrap() error { return ErrColumnMissing }

func missing(column string) error {
	return &ColumnMissingError{Column: column}
}

// Kind is the classification a column receives at load time.
type Kind int

const (
	KindCategorical Kind = iota
	KindNumeric
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	default:
		return "categorical"
	}
}

// MarshalText lets Kind appear as a string in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Schema overrides the automatic kind detection for named columns.
type Schema struct {
	Categorical []string
	Numeric     []string
}

func (s Schema) forced(name string) (Kind, bool) {
	for _, c := range s.Categorical {
		if c == name {
			return KindCategorical, true
		}
	}
	for _, c := range s.Numeric {
		if c == name {
			return KindNumeric, true
		}
	}
	return KindCategorical, false
}

// nullTokens are cell spellings treated as missing values.
var nullTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"<NA>": {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"None": {},
}

// IsNull reports whether raw is one of the accepted spellings of a missing value.
func IsNull(raw string) bool {
	_, ok := nullTokens[strings.TrimSpace(raw)]
	return ok
}

// Column is a single typed column of the table.
type Column struct {
	name  string
	kind  Kind
	raw   []string
	nums  []float64
	valid []bool
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the column classification.
func (c *Column) Kind() Kind { return c.kind }

// Value returns the textual cell value for row, or false when it is null.
func (c *Column) Value(row int) (string, bool) {
	if !c.valid[row] {
		return "", false
	}
	return c.raw[row], true
}

// Float returns the numeric cell value for row. It reports false for null cells
// and for every cell of a categorical column.
func (c *Column) Float(row int) (float64, bool) {
	if c.kind != KindNumeric || !c.valid[row] {
		return 0, false
	}
	return c.nums[row], true
}

func newColumn(name string, raw []string, schema Schema) *Column {
	c := &Column{
		name:  name,
		raw:   raw,
		valid: make([]bool, len(raw)),
	}
	for i, v := range raw {
		c.valid[i] = !IsNull(v)
		if c.valid[i] {
			c.raw[i] = strings.TrimSpace(v)
		}
	}

	kind, forced := schema.forced(name)
	if !forced {
		kind = classify(c.raw, c.valid)
	}
	c.kind = kind

	if kind == KindNumeric {
		c.nums = make([]float64, len(raw))
		for i := range raw {
			if !c.valid[i] {
				continue
			}
			f, err := strconv.ParseFloat(c.raw[i], 64)
			if err != nil {
				// Forced numeric columns turn unparsable cells into nulls.
				c.valid[i] = false
				continue
			}
			c.nums[i] = f
		}
	}
	return c
}

// classify decides the column kind once: numeric when there is at least one
// non-null value and every non-null value parses as a float. Booleans stay
// categorical.
func classify(raw []string, valid []bool) Kind {
	seen := false
	for i, v := range raw {
		if !valid[i] {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return KindCategorical
		}
		seen = true
	}
	if !seen {
		return KindCategorical
	}
	return KindNumeric
}

// Table is the immutable loaded dataset.
type Table struct {
	index       []string
	order       []string
	columns     map[string]*Column
	fingerprint string
}

// FromRecords builds a Table from a header and row-major records. When
// hasIndex is true the first field of every record is the row label and the
// first header cell is ignored. Short records are padded with nulls; extra
// fields are dropped.
func FromRecords(header []string, records [][]string, hasIndex bool, schema Schema) (*Table, error) {
	if len(header) == 0 {
		return nil, errors.New("dataset: empty header")
	}

	start := 0
	if hasIndex {
		start = 1
	}
	names := header[start:]

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("dataset: duplicate column %q", n)
		}
		seen[n] = struct{}{}
	}

	index := make([]string, len(records))
	cols := make([][]string, len(names))
	for j := range cols {
		cols[j] = make([]string, len(records))
	}
	for i, rec := range records {
		if hasIndex && len(rec) > 0 {
			index[i] = rec[0]
		} else {
			index[i] = strconv.Itoa(i)
		}
		for j := range names {
			k := start + j
			if k < len(rec) {
				cols[j][i] = rec[k]
			}
		}
	}

	t := &Table{
		index:   index,
		order:   append([]string(nil), names...),
		columns: make(map[string]*Column, len(names)),
	}
	for j, n := range names {
		t.columns[n] = newColumn(n, cols[j], schema)
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.index) }

// Label returns the index label of row.
func (t *Table) Label(row int) string { return t.index[row] }

// Fingerprint returns the content hash recorded by the loader, or "" for tables
// built in memory.
func (t *Table) Fingerprint() string { return t.fingerprint }

// Column returns the named column.
func (t *Table) Column(name string) (*Column, error) {
	c, ok := t.columns[name]
	if !ok {
		return nil, missing(name)
	}
	return c, nil
}

// ColumnInfo describes one entry of the typed column registry.
type ColumnInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Registry returns every column with its kind, in file order.
func (t *Table) Registry() []ColumnInfo {
	out := make([]ColumnInfo, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, ColumnInfo{Name: n, Kind: t.columns[n].kind})
	}
	return out
}

// ColumnsOfKind returns the names of all columns with kind k, in file order.
func (t *Table) ColumnsOfKind(k Kind) []string {
	var out []string
	for _, n := range t.order {
		if t.columns[n].kind == k {
			out = append(out, n)
		}
	}
	return out
}

// MissingExpected lists the ExpectedColumns that the table lacks.
func (t *Table) MissingExpected() []string {
	var out []string
	for _, n := range ExpectedColumns {
		if _, ok := t.columns[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// View returns a view over all rows.
func (t *Table) View() *View {
	return &View{table: t}
}
