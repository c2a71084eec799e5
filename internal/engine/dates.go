package engine

import (
	"time"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/pkg/errors"
)

// DateParts accepted by DateExtract and DateTrunc.
var DateParts = []string{"year", "month", "day", "hour"}

// DateParse converts a string column to timestamps. An empty layout tries a
// set of common formats; otherwise layout is a Go reference layout.
func (t *Table) DateParse(column, layout string) (*Table, error) {
	if err := t.RequireColumns(column); err != nil {
		return nil, err
	}
	src := t.series(column)
	col := dataframe.NewSeriesTime(column, nil)
	for i := 0; i < src.NRows(); i++ {
		raw := valueString(src.Value(i))
		if layout != "" {
			if ts, err := time.Parse(layout, raw); err == nil {
				col.Append(ts)
			} else {
				col.Append(nil)
			}
			continue
		}
		if ts, ok := parseTime(raw); ok {
			col.Append(ts)
		} else {
			col.Append(nil)
		}
	}
	return t.withColumn(column, col), nil
}

// DateExtract replaces a timestamp column with one of its calendar parts.
func (t *Table) DateExtract(column, part string) (*Table, error) {
	if err := t.RequireColumns(column); err != nil {
		return nil, err
	}
	src := t.series(column)
	col := dataframe.NewSeriesInt64(column, nil)
	for i := 0; i < src.NRows(); i++ {
		ts, ok := src.Value(i).(time.Time)
		if !ok {
			col.Append(nil)
			continue
		}
		switch part {
		case "year":
			col.Append(int64(ts.Year()))
		case "month":
			col.Append(int64(ts.Month()))
		case "day":
			col.Append(int64(ts.Day()))
		case "hour":
			col.Append(int64(ts.Hour()))
		default:
			return nil, errors.Errorf("unknown date part '%s'. Supported: year, month, day, hour", part)
		}
	}
	return t.withColumn(column, col), nil
}

// DateDiff adds a column holding colA - colB in whole days. Both columns
// must already be timestamps (see DateParse or cast datetime).
func (t *Table) DateDiff(colA, colB, newColumn string) (*Table, error) {
	if err := t.RequireColumns(colA, colB); err != nil {
		return nil, err
	}
	sa, sb := t.series(colA), t.series(colB)
	col := dataframe.NewSeriesInt64(newColumn, nil)
	for i := 0; i < sa.NRows(); i++ {
		ta, okA := sa.Value(i).(time.Time)
		tb, okB := sb.Value(i).(time.Time)
		if !okA || !okB {
			col.Append(nil)
			continue
		}
		col.Append(int64(ta.Sub(tb).Hours() / 24))
	}
	return t.withColumn(newColumn, col), nil
}

// DateTrunc truncates a timestamp column to day, month, or year precision.
func (t *Table) DateTrunc(column, part string) (*Table, error) {
	if err := t.RequireColumns(column); err != nil {
		return nil, err
	}
	src := t.series(column)
	col := dataframe.NewSeriesTime(column, nil)
	for i := 0; i < src.NRows(); i++ {
		ts, ok := src.Value(i).(time.Time)
		if !ok {
			col.Append(nil)
			continue
		}
		switch part {
		case "day":
			col.Append(time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location()))
		case "month":
			col.Append(time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, ts.Location()))
		case "year":
			col.Append(time.Date(ts.Year(), 1, 1, 0, 0, 0, 0, ts.Location()))
		default:
			return nil, errors.Errorf("unknown date part '%s'. Supported: day, month, year", part)
		}
	}
	return t.withColumn(column, col), nil
}
