package engine

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/pkg/errors"
)

// Cond is one `column op value` comparison with the value already
// variable-substituted.
type Cond struct {
	Column   string
	Operator string
	Value    string
}

// matchRow evaluates conds joined by logic ("and"/"or", one entry between
// each pair of conditions) against one row.
func (t *Table) matchRow(row int, conds []Cond, logic []string) (bool, error) {
	result := false
	for i, c := range conds {
		ok, err := Match(t.Value(row, c.Column), c.Operator, c.Value)
		if err != nil {
			return false, err
		}
		if i == 0 {
			result = ok
		} else if logic[i-1] == "and" {
			result = result && ok
		} else {
			result = result || ok
		}
	}
	return result, nil
}

// Filter keeps the rows matching the conditions.
func (t *Table) Filter(conds []Cond, logic []string) (*Table, error) {
	for _, c := range conds {
		if err := t.RequireColumns(c.Column); err != nil {
			return nil, err
		}
	}
	var keep []int
	for i := 0; i < t.NRows(); i++ {
		ok, err := t.matchRow(i, conds, logic)
		if err != nil {
			return nil, err
		}
		if ok {
			keep = append(keep, i)
		}
	}
	return t.takeRows(keep), nil
}

// CountWhere counts the rows matching a single condition without modifying
// the table.
func (t *Table) CountWhere(c Cond) (int, error) {
	if err := t.RequireColumns(c.Column); err != nil {
		return 0, err
	}
	n := 0
	for i := 0; i < t.NRows(); i++ {
		ok, err := Match(t.Value(i, c.Column), c.Operator, c.Value)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Select keeps only the listed columns, in the listed order.
func (t *Table) Select(columns []string) (*Table, error) {
	if err := t.RequireColumns(columns...); err != nil {
		return nil, err
	}
	series := make([]dataframe.Series, len(columns))
	for i, name := range columns {
		series[i] = t.series(name).Copy()
	}
	return &Table{df: dataframe.NewDataFrame(series...)}, nil
}

// Drop removes the listed columns.
func (t *Table) Drop(columns []string) (*Table, error) {
	if err := t.RequireColumns(columns...); err != nil {
		return nil, err
	}
	dropped := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		dropped[c] = struct{}{}
	}
	var series []dataframe.Series
	for _, s := range t.df.Series {
		if _, ok := dropped[s.Name()]; !ok {
			series = append(series, s.Copy())
		}
	}
	return &Table{df: dataframe.NewDataFrame(series...)}, nil
}

// Rename renames a single column.
func (t *Table) Rename(oldName, newName string) (*Table, error) {
	if err := t.RequireColumns(oldName); err != nil {
		return nil, err
	}
	series := make([]dataframe.Series, 0, len(t.df.Series))
	for _, s := range t.df.Series {
		c := s.Copy()
		if s.Name() == oldName {
			c.Rename(newName)
		}
		series = append(series, c)
	}
	return &Table{df: dataframe.NewDataFrame(series...)}, nil
}

// Limit keeps the first n rows.
func (t *Table) Limit(n int) *Table {
	return t.Head(n)
}

// Distinct removes duplicate rows, keeping first occurrences.
func (t *Table) Distinct() *Table {
	seen := make(map[string]struct{})
	var keep []int
	for i := 0; i < t.NRows(); i++ {
		var b strings.Builder
		for _, s := range t.df.Series {
			b.WriteString(valueString(s.Value(i)))
			b.WriteByte('\x1f')
		}
		key := b.String()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keep = append(keep, i)
		}
	}
	return t.takeRows(keep)
}

// Sample takes a random sample of n rows, or pct percent when pct > 0.
func (t *Table) Sample(n int, pct float64) *Table {
	total := t.NRows()
	if pct > 0 {
		n = int(float64(total) * pct / 100.0)
	}
	if n > total {
		n = total
	}
	idx := rand.Perm(total)[:n]
	sort.Ints(idx)
	return t.takeRows(idx)
}

// AddColumn appends (or replaces) a column computed per row.
func (t *Table) AddColumn(name string, compute func(row map[string]interface{}) (interface{}, error)) (*Table, error) {
	vals := make([]interface{}, t.NRows())
	var sample interface{}
	for i := 0; i < t.NRows(); i++ {
		v, err := compute(t.Row(i))
		if err != nil {
			return nil, err
		}
		vals[i] = v
		if sample == nil {
			sample = v
		}
	}
	col := newSeries(name, sample)
	for _, v := range vals {
		col.Append(v)
	}
	return t.withColumn(name, col), nil
}

// Cast types accepted by the cast command.
var castTypes = map[string]string{
	"int": "int", "integer": "int",
	"float": "float", "double": "float",
	"str": "str", "string": "str", "text": "str",
	"datetime": "datetime", "date": "datetime",
	"bool": "bool", "boolean": "bool",
}

// CastTypeNames lists the supported cast types for error messages.
func CastTypeNames() []string {
	names := make([]string, 0, len(castTypes))
	for n := range castTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Cast converts a column to a different type. Unparseable cells become nil,
// matching coerce-style casting.
func (t *Table) Cast(column, typeName string) (*Table, error) {
	if err := t.RequireColumns(column); err != nil {
		return nil, err
	}
	kind, ok := castTypes[strings.ToLower(typeName)]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType,
			"unknown type '%s'. Supported: %s", typeName, strings.Join(CastTypeNames(), ", "))
	}
	src := t.series(column)
	var col dataframe.Series
	switch kind {
	case "int":
		col = dataframe.NewSeriesInt64(column, nil)
		for i := 0; i < src.NRows(); i++ {
			if f, ok := toFloat(src.Value(i)); ok {
				col.Append(int64(f))
			} else {
				col.Append(nil)
			}
		}
	case "float":
		col = dataframe.NewSeriesFloat64(column, nil)
		for i := 0; i < src.NRows(); i++ {
			if f, ok := toFloat(src.Value(i)); ok {
				col.Append(f)
			} else {
				col.Append(nil)
			}
		}
	case "datetime":
		col = dataframe.NewSeriesTime(column, nil)
		for i := 0; i < src.NRows(); i++ {
			if ts, ok := parseTime(valueString(src.Value(i))); ok {
				col.Append(ts)
			} else {
				col.Append(nil)
			}
		}
	case "bool":
		col = dataframe.NewSeriesString(column, nil)
		for i := 0; i < src.NRows(); i++ {
			b, err := strconv.ParseBool(strings.TrimSpace(valueString(src.Value(i))))
			if err != nil {
				col.Append(nil)
			} else {
				col.Append(strconv.FormatBool(b))
			}
		}
	default: // str
		col = dataframe.NewSeriesString(column, nil)
		for i := 0; i < src.NRows(); i++ {
			col.Append(valueString(src.Value(i)))
		}
	}
	return t.withColumn(column, col), nil
}

// Replace substitutes occurrences of a whole-cell value in a column.
func (t *Table) Replace(column, oldValue, newValue string) (*Table, error) {
	if err := t.RequireColumns(column); err != nil {
		return nil, err
	}
	src := t.series(column)
	col := dataframe.NewSeriesString(column, nil)
	for i := 0; i < src.NRows(); i++ {
		v := valueString(src.Value(i))
		if v == oldValue {
			v = newValue
		}
		col.Append(v)
	}
	return t.withColumn(column, col), nil
}

func (t *Table) mapColumn(column string, fn func(string) string) (*Table, error) {
	if err := t.RequireColumns(column); err != nil {
		return nil, err
	}
	src := t.series(column)
	col := dataframe.NewSeriesString(column, nil)
	for i := 0; i < src.NRows(); i++ {
		if src.Value(i) == nil {
			col.Append(nil)
			continue
		}
		col.Append(fn(valueString(src.Value(i))))
	}
	return t.withColumn(column, col), nil
}

// Trim strips leading and trailing whitespace from a string column.
func (t *Table) Trim(column string) (*Table, error) {
	return t.mapColumn(column, strings.TrimSpace)
}

// Uppercase converts a string column to upper case.
func (t *Table) Uppercase(column string) (*Table, error) {
	return t.mapColumn(column, strings.ToUpper)
}

// Lowercase converts a string column to lower case.
func (t *Table) Lowercase(column string) (*Table, error) {
	return t.mapColumn(column, strings.ToLower)
}

// Fill replaces missing/empty cells in a column. Strategy is one of mean,
// median, mode, forward, backward, drop, or a literal fill value.
func (t *Table) Fill(column, strategy string) (*Table, error) {
	if err := t.RequireColumns(column); err != nil {
		return nil, err
	}
	src := t.series(column)
	n := src.NRows()
	missing := func(i int) bool {
		v := src.Value(i)
		return v == nil || valueString(v) == ""
	}

	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "mean", "median":
		var nums []float64
		for i := 0; i < n; i++ {
			if !missing(i) {
				if f, ok := toFloat(src.Value(i)); ok {
					nums = append(nums, f)
				}
			}
		}
		if len(nums) == 0 {
			return nil, errors.Wrapf(ErrEmptyTable, "fill %s: column '%s' has no numeric values", strategy, column)
		}
		var fillVal float64
		if strings.EqualFold(strategy, "mean") {
			for _, f := range nums {
				fillVal += f
			}
			fillVal /= float64(len(nums))
		} else {
			sort.Float64s(nums)
			mid := len(nums) / 2
			if len(nums)%2 == 0 {
				fillVal = (nums[mid-1] + nums[mid]) / 2
			} else {
				fillVal = nums[mid]
			}
		}
		col := dataframe.NewSeriesFloat64(column, nil)
		for i := 0; i < n; i++ {
			if missing(i) {
				col.Append(fillVal)
			} else if f, ok := toFloat(src.Value(i)); ok {
				col.Append(f)
			} else {
				col.Append(nil)
			}
		}
		return t.withColumn(column, col), nil

	case "mode":
		counts := make(map[string]int)
		order := []string{}
		for i := 0; i < n; i++ {
			if !missing(i) {
				v := valueString(src.Value(i))
				if counts[v] == 0 {
					order = append(order, v)
				}
				counts[v]++
			}
		}
		best := ""
		bestN := 0
		for _, v := range order {
			if counts[v] > bestN {
				best, bestN = v, counts[v]
			}
		}
		return t.fillLiteral(src, column, best, missing)

	case "forward":
		col := newSeries(column, firstValue(src))
		var last interface{}
		for i := 0; i < n; i++ {
			if missing(i) {
				col.Append(last)
			} else {
				last = src.Value(i)
				col.Append(last)
			}
		}
		return t.withColumn(column, col), nil

	case "backward":
		vals := make([]interface{}, n)
		var next interface{}
		for i := n - 1; i >= 0; i-- {
			if missing(i) {
				vals[i] = next
			} else {
				next = src.Value(i)
				vals[i] = next
			}
		}
		col := newSeries(column, firstValue(src))
		for _, v := range vals {
			col.Append(v)
		}
		return t.withColumn(column, col), nil

	case "drop":
		var keep []int
		for i := 0; i < n; i++ {
			if !missing(i) {
				keep = append(keep, i)
			}
		}
		return t.takeRows(keep), nil

	default:
		return t.fillLiteral(src, column, strings.Trim(strategy, "\"'"), missing)
	}
}

func (t *Table) fillLiteral(src dataframe.Series, column, literal string, missing func(int) bool) (*Table, error) {
	col := dataframe.NewSeriesString(column, nil)
	for i := 0; i < src.NRows(); i++ {
		if missing(i) {
			col.Append(literal)
		} else {
			col.Append(valueString(src.Value(i)))
		}
	}
	return t.withColumn(column, col), nil
}

func firstValue(s dataframe.Series) interface{} {
	for i := 0; i < s.NRows(); i++ {
		if v := s.Value(i); v != nil {
			return v
		}
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
	}
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
