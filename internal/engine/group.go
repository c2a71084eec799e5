package engine

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// AggSpec is one aggregation request: a verb (count, sum, avg, min, max)
// and, for everything but count, a column.
type AggSpec struct {
	Verb   string
	Column string
}

// Aggregate computes the given aggregations, per group when groupBy is
// non-empty, over the whole table otherwise. Group keys keep their first
// appearance order.
func (t *Table) Aggregate(groupBy []string, specs []AggSpec) (*Table, error) {
	if err := t.RequireColumns(groupBy...); err != nil {
		return nil, err
	}
	for _, sp := range specs {
		if sp.Verb != "count" {
			if err := t.RequireColumns(sp.Column); err != nil {
				return nil, err
			}
		}
	}

	if len(groupBy) == 0 {
		row := map[string]interface{}{}
		var names []string
		for _, sp := range specs {
			name, val := t.aggregateRows(sp, allRows(t.NRows()))
			if _, ok := row[name]; !ok {
				names = append(names, name)
			}
			row[name] = val
		}
		return FromRows(names, []map[string]interface{}{row}), nil
	}

	// Bucket row indices by key tuple, preserving first-appearance order.
	groups := make(map[string][]int)
	var keyOrder []string
	keyRows := make(map[string]int)
	for i := 0; i < t.NRows(); i++ {
		var b strings.Builder
		for _, col := range groupBy {
			b.WriteString(valueString(t.Value(i, col)))
			b.WriteByte('\x1f')
		}
		key := b.String()
		if _, ok := groups[key]; !ok {
			keyOrder = append(keyOrder, key)
			keyRows[key] = i
		}
		groups[key] = append(groups[key], i)
	}

	names := append([]string{}, groupBy...)
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	rows := make([]map[string]interface{}, 0, len(keyOrder))
	for _, key := range keyOrder {
		row := map[string]interface{}{}
		for _, col := range groupBy {
			row[col] = t.Value(keyRows[key], col)
		}
		for _, sp := range specs {
			name, val := t.aggregateRows(sp, groups[key])
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
			row[name] = val
		}
		rows = append(rows, row)
	}
	return FromRows(names, rows), nil
}

// aggregateRows computes one aggregation over the given row indices and
// returns the output column name and value.
func (t *Table) aggregateRows(sp AggSpec, idx []int) (string, interface{}) {
	if sp.Verb == "count" {
		return "count", int64(len(idx))
	}
	s := t.series(sp.Column)
	switch sp.Verb {
	case "sum", "avg":
		sum := 0.0
		n := 0
		for _, i := range idx {
			if f, ok := toFloat(s.Value(i)); ok {
				sum += f
				n++
			}
		}
		if sp.Verb == "sum" {
			return sp.Column, sum
		}
		if n == 0 {
			return sp.Column, nil
		}
		return sp.Column, sum / float64(n)
	case "min", "max":
		var best interface{}
		for _, i := range idx {
			v := s.Value(i)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := compareValues(v, best)
			if (sp.Verb == "min" && c < 0) || (sp.Verb == "max" && c > 0) {
				best = v
			}
		}
		return sp.Column, best
	default:
		return sp.Column, nil
	}
}

// Pivot reshapes the table from long to wide format: one row per index
// value, one column per distinct label in the column column, cells holding
// the sum over matching value cells.
func (t *Table) Pivot(index, column, value string) (*Table, error) {
	if err := t.RequireColumns(index, column, value); err != nil {
		return nil, err
	}

	labels := map[string]struct{}{}
	idxSeen := map[string]int{}
	var idxOrder []string
	sums := map[string]map[string]float64{}
	for i := 0; i < t.NRows(); i++ {
		iv := valueString(t.Value(i, index))
		lv := valueString(t.Value(i, column))
		labels[lv] = struct{}{}
		if _, ok := idxSeen[iv]; !ok {
			idxSeen[iv] = i
			idxOrder = append(idxOrder, iv)
			sums[iv] = map[string]float64{}
		}
		if f, ok := toFloat(t.Value(i, value)); ok {
			sums[iv][lv] += f
		}
	}
	if len(idxOrder) == 0 {
		return nil, errors.Wrap(ErrEmptyTable, "pivot")
	}

	cols := make([]string, 0, len(labels))
	for l := range labels {
		cols = append(cols, l)
	}
	sort.Strings(cols)
	sort.Strings(idxOrder)

	names := append([]string{index}, cols...)
	rows := make([]map[string]interface{}, 0, len(idxOrder))
	for _, iv := range idxOrder {
		row := map[string]interface{}{index: t.Value(idxSeen[iv], index)}
		for _, l := range cols {
			if s, ok := sums[iv][l]; ok {
				row[l] = s
			}
		}
		rows = append(rows, row)
	}
	return FromRows(names, rows), nil
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
