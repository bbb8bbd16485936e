// Package table holds the in-memory time-series representation shared by
// the aggregation, event and transform stages. A Table is a microsecond
// time index plus float64 signal columns with per-row validity.
package table

import (
	"fmt"
	"math"
	"sort"
)

// Column is a named signal with one value per table row. Valid marks
// which rows carry a real sample (false rows are nulls).
type Column struct {
	Name   string
	Values []float64
	Valid  []bool
}

// Table is a columnar time-series slice for one device/message.
type Table struct {
	Time   []int64 // microseconds since epoch, ascending after Sort
	cols   []Column
	byName map[string]int
}

// New creates a table over the given time index.
func New(timeIndex []int64) *Table {
	return &Table{
		Time:   timeIndex,
		byName: make(map[string]int),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Time) }

// Columns returns the signal columns in insertion order.
func (t *Table) Columns() []Column { return t.cols }

// AddColumn appends a fully-valid column.
func (t *Table) AddColumn(name string, values []float64) error {
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = true
	}
	return t.AddColumnWithValidity(name, values, valid)
}

// AddColumnWithValidity appends a column with explicit nulls.
func (t *Table) AddColumnWithValidity(name string, values []float64, valid []bool) error {
	if len(values) != len(t.Time) || len(valid) != len(t.Time) {
		return fmt.Errorf("column %s has %d values for %d rows", name, len(values), len(t.Time))
	}
	if _, exists := t.byName[name]; exists {
		return fmt.Errorf("duplicate column %s", name)
	}
	t.byName[name] = len(t.cols)
	t.cols = append(t.cols, Column{Name: name, Values: values, Valid: valid})
	return nil
}

// Column returns the named column, or false if absent.
func (t *Table) Column(name string) (Column, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[idx], true
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// ColumnNames returns the column names in insertion order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Sort orders rows by ascending time. Stable so equal timestamps keep
// their relative order.
func (t *Table) Sort() {
	if sort.SliceIsSorted(t.Time, func(i, j int) bool { return t.Time[i] < t.Time[j] }) {
		return
	}
	perm := make([]int, len(t.Time))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return t.Time[perm[i]] < t.Time[perm[j]] })

	t.Time = reorderInt64(t.Time, perm)
	for ci := range t.cols {
		t.cols[ci].Values = reorderFloat64(t.cols[ci].Values, perm)
		t.cols[ci].Valid = reorderBool(t.cols[ci].Valid, perm)
	}
}

func reorderInt64(s []int64, perm []int) []int64 {
	out := make([]int64, len(s))
	for i, p := range perm {
		out[i] = s[p]
	}
	return out
}

func reorderFloat64(s []float64, perm []int) []float64 {
	out := make([]float64, len(s))
	for i, p := range perm {
		out[i] = s[p]
	}
	return out
}

func reorderBool(s []bool, perm []int) []bool {
	out := make([]bool, len(s))
	for i, p := range perm {
		out[i] = s[p]
	}
	return out
}

// FilterWindow returns the rows with start <= time <= end. The receiver
// must be sorted. The result shares no backing arrays with the receiver.
func (t *Table) FilterWindow(start, end int64) *Table {
	lo := sort.Search(len(t.Time), func(i int) bool { return t.Time[i] >= start })
	hi := sort.Search(len(t.Time), func(i int) bool { return t.Time[i] > end })

	out := New(append([]int64(nil), t.Time[lo:hi]...))
	for _, c := range t.cols {
		_ = out.AddColumnWithValidity(c.Name,
			append([]float64(nil), c.Values[lo:hi]...),
			append([]bool(nil), c.Valid[lo:hi]...))
	}
	return out
}

// Select returns a table with only the named columns, in the given
// order. Missing names are skipped.
func (t *Table) Select(names ...string) *Table {
	out := New(t.Time)
	for _, name := range names {
		if c, ok := t.Column(name); ok {
			_ = out.AddColumnWithValidity(c.Name, c.Values, c.Valid)
		}
	}
	return out
}

// DropAllNullRows removes rows where every column is null.
func (t *Table) DropAllNullRows() *Table {
	keep := make([]int, 0, len(t.Time))
	for i := range t.Time {
		for _, c := range t.cols {
			if c.Valid[i] {
				keep = append(keep, i)
				break
			}
		}
	}
	out := New(reorderInt64(t.Time, keep))
	for _, c := range t.cols {
		_ = out.AddColumnWithValidity(c.Name, reorderFloat64(c.Values, keep), reorderBool(c.Valid, keep))
	}
	return out
}

// Stack concatenates tables row-wise over the union of their columns.
// Rows from a table lacking a column get nulls for it. The result is
// sorted by time.
func Stack(tables ...*Table) *Table {
	total := 0
	var order []string
	seen := make(map[string]bool)
	for _, t := range tables {
		total += t.Len()
		for _, name := range t.ColumnNames() {
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
			}
		}
	}

	timeIndex := make([]int64, 0, total)
	for _, t := range tables {
		timeIndex = append(timeIndex, t.Time...)
	}

	out := New(timeIndex)
	for _, name := range order {
		values := make([]float64, 0, total)
		valid := make([]bool, 0, total)
		for _, t := range tables {
			if c, ok := t.Column(name); ok {
				values = append(values, c.Values...)
				valid = append(valid, c.Valid...)
			} else {
				values = append(values, make([]float64, t.Len())...)
				valid = append(valid, make([]bool, t.Len())...)
			}
		}
		_ = out.AddColumnWithValidity(name, values, valid)
	}
	out.Sort()
	return out
}

// AlignInner joins tables on a shared raster: each table is first
// resampled to the raster, then only raster points present in every
// table survive. Used when custom messages combine signals that arrive
// at different rates.
func AlignInner(rasterMicros int64, tables ...*Table) *Table {
	if len(tables) == 0 {
		return New(nil)
	}

	resampled := make([]*Table, len(tables))
	for i, t := range tables {
		resampled[i] = t.Resample(rasterMicros)
	}

	// Intersect the raster points.
	counts := make(map[int64]int)
	for _, t := range resampled {
		for _, ts := range t.Time {
			counts[ts]++
		}
	}
	var shared []int64
	for ts, n := range counts {
		if n == len(resampled) {
			shared = append(shared, ts)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })

	out := New(shared)
	for _, t := range resampled {
		rowAt := make(map[int64]int, t.Len())
		for i, ts := range t.Time {
			rowAt[ts] = i
		}
		for _, c := range t.Columns() {
			values := make([]float64, len(shared))
			valid := make([]bool, len(shared))
			for i, ts := range shared {
				r := rowAt[ts]
				values[i] = c.Values[r]
				valid[i] = c.Valid[r]
			}
			_ = out.AddColumnWithValidity(c.Name, values, valid)
		}
	}
	return out
}

// Resample buckets rows onto a fixed raster, keeping the last valid
// sample per bucket per column. Bucket timestamps are floored to the
// raster. The receiver must be sorted.
func (t *Table) Resample(rasterMicros int64) *Table {
	if rasterMicros <= 0 || t.Len() == 0 {
		return t
	}

	var buckets []int64
	rows := make(map[int64][]int)
	for i, ts := range t.Time {
		b := (ts / rasterMicros) * rasterMicros
		if ts < 0 && ts%rasterMicros != 0 {
			b -= rasterMicros
		}
		if _, ok := rows[b]; !ok {
			buckets = append(buckets, b)
		}
		rows[b] = append(rows[b], i)
	}

	out := New(buckets)
	for _, c := range t.cols {
		values := make([]float64, len(buckets))
		valid := make([]bool, len(buckets))
		for bi, b := range buckets {
			for _, ri := range rows[b] {
				if c.Valid[ri] {
					values[bi] = c.Values[ri]
					valid[bi] = true
				}
			}
		}
		_ = out.AddColumnWithValidity(c.Name, values, valid)
	}
	return out
}

// ValidValues returns the non-null values of a column in row order.
func (c Column) ValidValues() []float64 {
	out := make([]float64, 0, len(c.Values))
	for i, v := range c.Values {
		if c.Valid[i] && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
