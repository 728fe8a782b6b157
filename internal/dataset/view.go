package dataset

import (
	"sort"
	"strconv"
)

// View is a read-only selection of table rows. A nil rows slice means "all rows".
type View struct {
	table *Table
	rows  []int
}

// Table returns the underlying table.
func (v *View) Table() *Table { return v.table }

// Len returns the number of rows in the view.
func (v *View) Len() int {
	if v.rows == nil {
		return v.table.Len()
	}
	return len(v.rows)
}

// Empty reports whether the view has no rows.
func (v *View) Empty() bool { return v.Len() == 0 }

// Row returns the table row id at position i of the view.
func (v *View) Row(i int) int {
	if v.rows == nil {
		return i
	}
	return v.rows[i]
}

// Rows returns a copy of the table row ids in view order.
func (v *View) Rows() []int {
	out := make([]int, v.Len())
	for i := range out {
		out[i] = v.Row(i)
	}
	return out
}

// Each calls fn for every table row id in view order.
func (v *View) Each(fn func(row int)) {
	n := v.Len()
	for i := 0; i < n; i++ {
		fn(v.Row(i))
	}
}

// Columns returns the column names in file order.
func (v *View) Columns() []string {
	return append([]string(nil), v.table.order...)
}

// Has reports whether column exists.
func (v *View) Has(column string) bool {
	_, ok := v.table.columns[column]
	return ok
}

// Column returns the named column.
func (v *View) Column(column string) (*Column, error) {
	return v.table.Column(column)
}

// UniqueValues returns the sorted distinct non-null values of column within
// the view.
func (v *View) UniqueValues(column string) ([]string, error) {
	c, err := v.table.Column(column)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	v.Each(func(row int) {
		if val, ok := c.Value(row); ok {
			seen[val] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for val := range seen {
		out = append(out, val)
	}
	sort.Slice(out, func(i, j int) bool {
		return c.kind.Less(out[i], out[j])
	})
	return out, nil
}

// Filter returns the rows whose column value is in allowed. An empty allowed
// set means "no filter" and returns v itself.
func (v *View) Filter(column string, allowed []string) (*View, error) {
	c, err := v.table.Column(column)
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return v, nil
	}
	return v.where(c, toSet(allowed), true), nil
}

// ComplementFilter returns the rows whose column value is not in allowed. Null
// cells never match, so they always land here.
func (v *View) ComplementFilter(column string, allowed []string) (*View, error) {
	c, err := v.table.Column(column)
	if err != nil {
		return nil, err
	}
	return v.where(c, toSet(allowed), false), nil
}

// NonNull returns the rows where every listed column is non-null.
func (v *View) NonNull(columns ...string) (*View, error) {
	cols := make([]*Column, len(columns))
	for i, name := range columns {
		c, err := v.table.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	rows := make([]int, 0, v.Len())
	v.Each(func(row int) {
		for _, c := range cols {
			if !c.valid[row] {
				return
			}
		}
		rows = append(rows, row)
	})
	return &View{table: v.table, rows: rows}, nil
}

// Select returns the rows for which keep reports true.
func (v *View) Select(keep func(row int) bool) *View {
	rows := make([]int, 0, v.Len())
	v.Each(func(row int) {
		if keep(row) {
			rows = append(rows, row)
		}
	})
	return &View{table: v.table, rows: rows}
}

func (v *View) where(c *Column, set map[string]struct{}, keep bool) *View {
	rows := make([]int, 0, v.Len())
	v.Each(func(row int) {
		val, ok := c.Value(row)
		matched := false
		if ok {
			_, matched = set[val]
		}
		if matched == keep {
			rows = append(rows, row)
		}
	})
	return &View{table: v.table, rows: rows}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, val := range values {
		set[val] = struct{}{}
	}
	return set
}

// Less orders two values of a column of kind k: numerically for numeric
// columns, lexically otherwise.
func (k Kind) Less(a, b string) bool {
	if k == KindNumeric {
		return numericLess(a, b)
	}
	return a < b
}

func numericLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return fa < fb
}
