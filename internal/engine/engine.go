// Package engine provides the table capability consumed by the pipeline
// interpreter: loading and saving tabular files, row and column operations,
// grouping and aggregation, joins, and introspection. Tables are backed by
// rocketlaunchr/dataframe-go frames; values loaded from disk start out as
// strings and acquire concrete types through cast, add, date, and
// aggregation operations.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/pkg/errors"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrUnknownType    = errors.New("unknown cast type")
	ErrUnknownFormat  = errors.New("unsupported file format")
	ErrEmptyTable     = errors.New("table has no rows")
)

// Table is the current working dataset of a pipeline run.
type Table struct {
	df *dataframe.DataFrame
}

// New wraps an existing dataframe.
func New(df *dataframe.DataFrame) *Table {
	return &Table{df: df}
}

// FromRows builds a table from ordered column names and row maps. Column
// types are chosen from the first non-nil value per column; a column whose
// values do not all fit that type is upcast to strings, so rows merged or
// joined in from a differently typed source never hit a typed append.
func FromRows(names []string, rows []map[string]interface{}) *Table {
	series := make([]dataframe.Series, 0, len(names))
	for _, name := range names {
		series = append(series, columnSeries(name, rows))
	}
	return &Table{df: dataframe.NewDataFrame(series...)}
}

func columnSeries(name string, rows []map[string]interface{}) dataframe.Series {
	var sample interface{}
	for _, row := range rows {
		if v := row[name]; v != nil {
			sample = v
			break
		}
	}
	for _, row := range rows {
		if v := row[name]; v != nil && !fitsSeriesType(sample, v) {
			return stringColumnSeries(name, rows)
		}
	}
	s := newSeries(name, sample)
	for _, row := range rows {
		s.Append(row[name])
	}
	return s
}

func stringColumnSeries(name string, rows []map[string]interface{}) dataframe.Series {
	s := dataframe.NewSeriesString(name, nil)
	for _, row := range rows {
		if v := row[name]; v == nil {
			s.Append(nil)
		} else {
			s.Append(valueString(v))
		}
	}
	return s
}

// fitsSeriesType reports whether v can be appended to the series type
// newSeries picks for sample. The typed series panic on values they cannot
// hold, so anything outside these pairings forces the string upcast.
func fitsSeriesType(sample, v interface{}) bool {
	switch sample.(type) {
	case int64, int:
		switch v.(type) {
		case int64, int:
			return true
		}
		return false
	case float64:
		switch v.(type) {
		case float64, int64, int:
			return true
		}
		return false
	case time.Time:
		_, ok := v.(time.Time)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}

// NRows reports the number of rows.
func (t *Table) NRows() int {
	return t.df.NRows()
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	return t.df.Names()
}

// Frame exposes the underlying dataframe.
func (t *Table) Frame() *dataframe.DataFrame {
	return t.df
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	for _, n := range t.df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// RequireColumns fails with ErrColumnNotFound listing the available columns
// when any of the given names is absent.
func (t *Table) RequireColumns(names ...string) error {
	for _, name := range names {
		if !t.HasColumn(name) {
			return errors.Wrapf(ErrColumnNotFound,
				"column '%s' not found. Available: %s", name, strings.Join(t.df.Names(), ", "))
		}
	}
	return nil
}

func (t *Table) series(name string) dataframe.Series {
	for _, s := range t.df.Series {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Value returns the cell at (row, column).
func (t *Table) Value(row int, column string) interface{} {
	s := t.series(column)
	if s == nil {
		return nil
	}
	return s.Value(row)
}

// Row returns one row keyed by column name.
func (t *Table) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(t.df.Series))
	for _, s := range t.df.Series {
		row[s.Name()] = s.Value(i)
	}
	return row
}

// String renders the full table, for the print command.
func (t *Table) String() string {
	return t.df.Table()
}

// Schema renders column names and types.
func (t *Table) Schema() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nSchema  (%d column(s), %d row(s)):\n", len(t.df.Series), t.df.NRows())
	fmt.Fprintf(&b, "  %-22s %s\n", "Column", "Type")
	b.WriteString("  " + strings.Repeat("-", 34) + "\n")
	for _, s := range t.df.Series {
		fmt.Fprintf(&b, "  %-22s %s\n", s.Name(), s.Type())
	}
	return b.String()
}

// Inspect renders names, types, null counts and unique counts.
func (t *Table) Inspect() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nInspect  (%d column(s), %d row(s)):\n", len(t.df.Series), t.df.NRows())
	fmt.Fprintf(&b, "  %-22s %-12s %-8s %s\n", "Column", "Type", "Nulls", "Unique")
	b.WriteString("  " + strings.Repeat("-", 50) + "\n")
	for _, s := range t.df.Series {
		nulls := 0
		uniq := make(map[string]struct{})
		for i := 0; i < s.NRows(); i++ {
			v := s.Value(i)
			if v == nil || valueString(v) == "" {
				nulls++
			}
			uniq[valueString(v)] = struct{}{}
		}
		fmt.Fprintf(&b, "  %-22s %-12s %-8d %d\n", s.Name(), s.Type(), nulls, len(uniq))
	}
	return b.String()
}

// Head returns a table holding the first n rows, for display.
func (t *Table) Head(n int) *Table {
	if n > t.df.NRows() {
		n = t.df.NRows()
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return t.takeRows(idx)
}

// takeRows builds a new table from the given row indices, preserving column
// order and types. Index -1 appends a nil cell (used by outer joins).
func (t *Table) takeRows(indices []int) *Table {
	series := make([]dataframe.Series, 0, len(t.df.Series))
	for _, src := range t.df.Series {
		var sample interface{}
		for _, i := range indices {
			if i >= 0 {
				if v := src.Value(i); v != nil {
					sample = v
					break
				}
			}
		}
		out := newSeries(src.Name(), sample)
		for _, i := range indices {
			if i < 0 {
				out.Append(nil)
			} else {
				out.Append(src.Value(i))
			}
		}
		series = append(series, out)
	}
	return &Table{df: dataframe.NewDataFrame(series...)}
}

// withColumn returns a copy of t with the named column replaced (or added at
// the end when absent).
func (t *Table) withColumn(name string, col dataframe.Series) *Table {
	series := make([]dataframe.Series, 0, len(t.df.Series)+1)
	replaced := false
	for _, s := range t.df.Series {
		if s.Name() == name {
			series = append(series, col)
			replaced = true
		} else {
			series = append(series, s.Copy())
		}
	}
	if !replaced {
		series = append(series, col)
	}
	return &Table{df: dataframe.NewDataFrame(series...)}
}

// SortKey orders one column.
type SortKey struct {
	Column string
	Asc    bool
}

// Sort returns a copy ordered by the given keys. Comparison is numeric when
// both cells parse as numbers, otherwise lexicographic; this mirrors the
// coercion used by filter conditions so untyped CSV columns sort sanely.
func (t *Table) Sort(keys []SortKey) (*Table, error) {
	cols := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = k.Column
	}
	if err := t.RequireColumns(cols...); err != nil {
		return nil, err
	}
	idx := make([]int, t.df.NRows())
	for i := range idx {
		idx[i] = i
	}
	ser := make([]dataframe.Series, len(keys))
	for i, k := range keys {
		ser[i] = t.series(k.Column)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for i, k := range keys {
			c := compareValues(ser[i].Value(idx[a]), ser[i].Value(idx[b]))
			if c == 0 {
				continue
			}
			if k.Asc {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return t.takeRows(idx), nil
}

// newSeries picks a concrete series type from a sample value.
func newSeries(name string, sample interface{}) dataframe.Series {
	switch sample.(type) {
	case int64, int:
		return dataframe.NewSeriesInt64(name, nil)
	case float64:
		return dataframe.NewSeriesFloat64(name, nil)
	case time.Time:
		return dataframe.NewSeriesTime(name, nil)
	default:
		return dataframe.NewSeriesString(name, nil)
	}
}
