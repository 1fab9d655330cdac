// Package dataset loads the tabular sources the assistant answers questions about.
package dataset

import (
	"iter"
	"maps"
	"slices"
)

// Kind is the inferred type of a column.
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
)

// Column describes one column of a Dataset.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Record is one row keyed by column name.
type Record map[string]string

// Dataset is an immutable named table. Accessors return copies.
type Dataset struct {
	name    string
	path    string
	columns []Column
	rows    [][]string
}

// Name returns the table name.
func (d *Dataset) Name() string { return d.name }

// Path returns the file the dataset was read from.
func (d *Dataset) Path() string { return d.path }

// Len returns the number of data rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Columns returns the ordered column set.
func (d *Dataset) Columns() []Column { return slices.Clone(d.columns) }

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Values returns a copy of row i as ordered cell values.
func (d *Dataset) Values(i int) []string { return slices.Clone(d.rows[i]) }

// Row returns row i keyed by column name.
func (d *Dataset) Row(i int) Record {
	rec := make(Record, len(d.columns))
	for j, c := range d.columns {
		rec[c.Name] = d.rows[i][j]
	}
	return rec
}

// Rows iterates over all rows in order.
func (d *Dataset) Rows() iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		for i := range d.rows {
			if !yield(i, d.Row(i)) {
				return
			}
		}
	}
}

// Summary is a JSON-friendly description of a dataset.
type Summary struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Rows    int      `json:"rows"`
	Columns []Column `json:"columns"`
}

// Summarize describes the dataset without its rows.
func (d *Dataset) Summarize() Summary {
	return Summary{Name: d.name, Path: d.path, Rows: len(d.rows), Columns: d.Columns()}
}

// Set is the collection of loaded datasets keyed by name.
type Set map[string]*Dataset

// Names returns dataset names in sorted order.
func (s Set) Names() []string {
	return slices.Sorted(maps.Keys(s))
}
