package timeseries

import (
	"fmt"
	"slices"
)

// Row is one sample record. Column 0 holds the timestamp in seconds relative
// to the session start, the remaining columns hold channel values.
type Row []float64

// Column addresses a store column either by position or by header name.
type Column struct {
	index  int
	name   string
	byName bool
}

func ByIndex(i int) Column {
	return Column{index: i}
}

func ByName(name string) Column {
	return Column{name: name, byName: true}
}

// Columns builds a column list from header names.
func Columns(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = ByName(n)
	}
	return cols
}

func (c Column) String() string {
	if c.byName {
		return c.name
	}
	return fmt.Sprintf("#%d", c.index)
}

func (c Column) resolve(header []string) (int, string, error) {
	if c.byName {
		i := slices.Index(header, c.name)
		if i < 0 {
			return 0, "", fmt.Errorf("unknown column %q", c.name)
		}
		return i, c.name, nil
	}
	if c.index < 0 || c.index >= len(header) {
		return 0, "", fmt.Errorf("column index %d out of range [0,%d)", c.index, len(header))
	}
	return c.index, header[c.index], nil
}

// Table is a snapshot copied out of a store. It never aliases store memory.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Values returns column i of every row.
func (t *Table) Values(i int) []float64 {
	if i < 0 || i >= len(t.Columns) {
		return nil
	}
	out := make([]float64, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Column returns the values of the named column, nil when absent.
func (t *Table) Column(name string) []float64 {
	return t.Values(slices.Index(t.Columns, name))
}

// Last returns the final row, nil for an empty table.
func (t *Table) Last() Row {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[len(t.Rows)-1]
}

func emptyTable(columns []string) *Table {
	return &Table{Columns: columns, Rows: []Row{}}
}
