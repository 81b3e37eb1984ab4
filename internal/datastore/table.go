package datastore

// table.go implements the column-oriented Table used for every canonical file.
//
// Column storage is reference counted so that Copy is O(columns) and never
// duplicates cell data. The first write to a shared column clones that column
// only, which gives every consumer value semantics without paying for a deep
// copy of tables it never touches.
//
// Flag columns (ERR_<code>) are kept apart from data columns as sparse
// position sets. Setting flags costs O(flagged rows) regardless of table size.

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// FlagPrefix prefixes every boolean rule-result column.
const FlagPrefix = "ERR_"

// Null is the null cell value.
var Null = pgtype.Text{}

// Text returns a non-null cell holding s.
func Text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

type colData struct {
	cells []pgtype.Text
	refs  atomic.Int32
}

func newColData(cells []pgtype.Text) *colData {
	c := &colData{cells: cells}
	c.refs.Store(1)
	return c
}

type flagData struct {
	rows map[int]struct{}
	refs atomic.Int32
}

func newFlagData() *flagData {
	f := &flagData{rows: make(map[int]struct{})}
	f.refs.Store(1)
	return f
}

// Table is a named, ordered, row-indexed collection of text columns.
// A Table is not safe for concurrent mutation; use Copy to hand a table to
// another consumer.
type Table struct {
	name   string
	order  []string
	cols   map[string]*colData
	flags  map[string]*flagData
	n      int
	origin []int // nil means row i originates from position i
}

// NewTable creates an empty table with the given columns.
func NewTable(name string, columns []string) *Table {
	t := &Table{
		name:  name,
		order: make([]string, 0, len(columns)),
		cols:  make(map[string]*colData, len(columns)),
		flags: make(map[string]*flagData),
	}
	for _, c := range columns {
		if _, dup := t.cols[c]; dup {
			continue
		}
		t.order = append(t.order, c)
		t.cols[c] = newColData(nil)
	}
	return t
}

// FromRecords builds a table from string rows. Empty strings become null.
func FromRecords(name string, columns []string, records [][]string) *Table {
	t := NewTable(name, columns)
	for _, rec := range records {
		row := make([]pgtype.Text, len(columns))
		for i := range columns {
			if i < len(rec) && rec[i] != "" {
				row[i] = Text(rec[i])
			}
		}
		t.AppendRow(row)
	}
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Len returns the number of rows.
func (t *Table) Len() int { return t.n }

// Columns returns the data column names in order.
func (t *Table) Columns() []string { return slices.Clone(t.order) }

// HasColumn reports whether the data column exists.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.cols[col]
	return ok
}

// HasColumns reports whether every named column exists.
func (t *Table) HasColumns(cols ...string) bool {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return false
		}
	}
	return true
}

// InRange reports whether row is a valid position in t.
func (t *Table) InRange(row int) bool { return row >= 0 && row < t.n }

// Value returns the cell at (col, row). Missing columns and out-of-range rows
// read as null.
func (t *Table) Value(col string, row int) pgtype.Text {
	c, ok := t.cols[col]
	if !ok || row < 0 || row >= len(c.cells) {
		return Null
	}
	return c.cells[row]
}

// Str returns the cell text, or "" for null.
func (t *Table) Str(col string, row int) string {
	return t.Value(col, row).String
}

// IsNull reports whether the cell is null.
func (t *Table) IsNull(col string, row int) bool {
	return !t.Value(col, row).Valid
}

// Date parses the cell as a date. ok is false for null or unparseable cells.
func (t *Table) Date(col string, row int) (time.Time, bool) {
	v := t.Value(col, row)
	if !v.Valid {
		return time.Time{}, false
	}
	d := ParseDate(v.String)
	return d.Time, d.Valid
}

// Float parses the cell as a number.
func (t *Table) Float(col string, row int) (float64, bool) {
	v := t.Value(col, row)
	if !v.Valid {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.String), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Row returns the cells of one row keyed by column name.
func (t *Table) Row(row int) map[string]pgtype.Text {
	out := make(map[string]pgtype.Text, len(t.order))
	for _, c := range t.order {
		out[c] = t.Value(c, row)
	}
	return out
}

// Set writes one cell, cloning the column first if it is shared.
func (t *Table) Set(col string, row int, v pgtype.Text) error {
	if row < 0 || row >= t.n {
		return fmt.Errorf("table %s: row %d out of range [0,%d)", t.name, row, t.n)
	}
	c, ok := t.cols[col]
	if !ok {
		return fmt.Errorf("table %s: column %q not found", t.name, col)
	}
	t.own(col, c).cells[row] = v
	return nil
}

// AddColumn adds or replaces a data column. values must have Len() entries;
// a nil slice adds an all-null column.
func (t *Table) AddColumn(col string, values []pgtype.Text) error {
	if values == nil {
		values = make([]pgtype.Text, t.n)
	}
	if len(values) != t.n {
		return fmt.Errorf("table %s: column %q has %d values, want %d", t.name, col, len(values), t.n)
	}
	if old, ok := t.cols[col]; ok {
		old.refs.Add(-1)
	} else {
		t.order = append(t.order, col)
	}
	t.cols[col] = newColData(slices.Clone(values))
	return nil
}

// DropColumn removes a data column. Dropping an absent column is a no-op.
func (t *Table) DropColumn(col string) {
	c, ok := t.cols[col]
	if !ok {
		return
	}
	c.refs.Add(-1)
	delete(t.cols, col)
	t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == col })
}

// AppendRow appends one row. cells align with Columns(); short rows pad with null.
func (t *Table) AppendRow(cells []pgtype.Text) {
	for i, name := range t.order {
		c := t.own(name, t.cols[name])
		v := Null
		if i < len(cells) {
			v = cells[i]
		}
		c.cells = append(c.cells, v)
	}
	if t.origin != nil {
		t.origin = append(t.origin, t.n)
	}
	t.n++
}

func (t *Table) own(name string, c *colData) *colData {
	if c.refs.Load() <= 1 {
		return c
	}
	clone := newColData(slices.Clone(c.cells))
	c.refs.Add(-1)
	t.cols[name] = clone
	return clone
}

// Copy returns a table that shares storage with t until either side writes.
func (t *Table) Copy() *Table {
	out := &Table{
		name:   t.name,
		order:  slices.Clone(t.order),
		cols:   make(map[string]*colData, len(t.cols)),
		flags:  make(map[string]*flagData, len(t.flags)),
		n:      t.n,
		origin: slices.Clone(t.origin),
	}
	for k, c := range t.cols {
		c.refs.Add(1)
		out.cols[k] = c
	}
	for k, f := range t.flags {
		f.refs.Add(1)
		out.flags[k] = f
	}
	return out
}

// Rename returns a copy of t under a new name.
func (t *Table) Rename(name string) *Table {
	out := t.Copy()
	out.name = name
	return out
}

// Origin maps a row of a filtered or sorted table back to the position it had
// in the table it was derived from.
func (t *Table) Origin(row int) int {
	if t.origin == nil {
		return row
	}
	return t.origin[row]
}

// Select returns a new table holding the given rows, in the given order.
// Origins compose, so Origin on the result always refers to the table the
// chain of Select/Filter/Sort calls started from.
func (t *Table) Select(rows []int) *Table {
	out := NewTable(t.name, t.order)
	out.origin = make([]int, 0, len(rows))
	for _, name := range t.order {
		src := t.cols[name].cells
		cells := make([]pgtype.Text, len(rows))
		for i, r := range rows {
			cells[i] = src[r]
		}
		out.cols[name] = newColData(cells)
	}
	for _, r := range rows {
		out.origin = append(out.origin, t.Origin(r))
	}
	out.n = len(rows)
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	rows := make([]int, 0, t.n)
	for i := 0; i < t.n; i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return t.Select(rows)
}

// Sort returns a stably sorted copy of t.
func (t *Table) Sort(less func(a, b int) bool) *Table {
	rows := make([]int, t.n)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	return t.Select(rows)
}

// SetFlags marks positions as true in the named flag column, creating it if
// needed. Cost is proportional to len(positions).
func (t *Table) SetFlags(col string, positions []int) error {
	for _, p := range positions {
		if !t.InRange(p) {
			return fmt.Errorf("table %s: flag position %d out of range [0,%d)", t.name, p, t.n)
		}
	}
	f, ok := t.flags[col]
	switch {
	case !ok:
		f = newFlagData()
		t.flags[col] = f
	case f.refs.Load() > 1:
		clone := newFlagData()
		for r := range f.rows {
			clone.rows[r] = struct{}{}
		}
		f.refs.Add(-1)
		t.flags[col] = clone
		f = clone
	}
	for _, p := range positions {
		f.rows[p] = struct{}{}
	}
	return nil
}

// FlagColumns returns the flag column names, sorted.
func (t *Table) FlagColumns() []string {
	out := make([]string, 0, len(t.flags))
	for k := range t.flags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Flagged returns the sorted positions set in a flag column.
func (t *Table) Flagged(col string) []int {
	f, ok := t.flags[col]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(f.rows))
	for r := range f.rows {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// IsFlagged reports whether row is set in the flag column.
func (t *Table) IsFlagged(col string, row int) bool {
	f, ok := t.flags[col]
	if !ok {
		return false
	}
	_, set := f.rows[row]
	return set
}

// Records returns the data columns as string rows, nulls rendered as "".
func (t *Table) Records() [][]string {
	out := make([][]string, t.n)
	for i := 0; i < t.n; i++ {
		rec := make([]string, len(t.order))
		for j, c := range t.order {
			rec[j] = t.Str(c, i)
		}
		out[i] = rec
	}
	return out
}
