package engine

import (
	"github.com/pkg/errors"
)

// JoinKinds lists the accepted join types.
var JoinKinds = []string{"inner", "left", "right", "outer"}

// Join combines t with other on a shared key column. Non-key columns whose
// names clash get _x (left) and _y (right) suffixes.
func (t *Table) Join(other *Table, key, kind string) (*Table, error) {
	if err := t.RequireColumns(key); err != nil {
		return nil, errors.Wrap(err, "key not in current data")
	}
	if err := other.RequireColumns(key); err != nil {
		return nil, errors.Wrap(err, "key not in joined data")
	}

	leftCols := t.Names()
	rightCols := other.Names()
	clash := make(map[string]bool)
	rightSet := make(map[string]bool, len(rightCols))
	for _, c := range rightCols {
		rightSet[c] = true
	}
	for _, c := range leftCols {
		if c != key && rightSet[c] {
			clash[c] = true
		}
	}

	// key -> row indices in the right table
	rightIdx := make(map[string][]int)
	for i := 0; i < other.NRows(); i++ {
		k := valueString(other.Value(i, key))
		rightIdx[k] = append(rightIdx[k], i)
	}

	type pair struct{ l, r int } // -1 marks a missing side
	var pairs []pair
	switch kind {
	case "inner":
		for i := 0; i < t.NRows(); i++ {
			for _, j := range rightIdx[valueString(t.Value(i, key))] {
				pairs = append(pairs, pair{i, j})
			}
		}
	case "left":
		for i := 0; i < t.NRows(); i++ {
			matches := rightIdx[valueString(t.Value(i, key))]
			if len(matches) == 0 {
				pairs = append(pairs, pair{i, -1})
				continue
			}
			for _, j := range matches {
				pairs = append(pairs, pair{i, j})
			}
		}
	case "right", "outer":
		matched := make([]bool, other.NRows())
		for i := 0; i < t.NRows(); i++ {
			matches := rightIdx[valueString(t.Value(i, key))]
			if len(matches) == 0 {
				if kind == "outer" {
					pairs = append(pairs, pair{i, -1})
				}
				continue
			}
			for _, j := range matches {
				matched[j] = true
				pairs = append(pairs, pair{i, j})
			}
		}
		for j := 0; j < other.NRows(); j++ {
			if !matched[j] {
				pairs = append(pairs, pair{-1, j})
			}
		}
	default:
		return nil, errors.Errorf("join type must be one of: inner, left, right, outer. Got '%s'", kind)
	}

	outName := func(c string, right bool) string {
		if !clash[c] {
			return c
		}
		if right {
			return c + "_y"
		}
		return c + "_x"
	}

	var names []string
	names = append(names, key)
	for _, c := range leftCols {
		if c != key {
			names = append(names, outName(c, false))
		}
	}
	for _, c := range rightCols {
		if c != key {
			names = append(names, outName(c, true))
		}
	}

	rows := make([]map[string]interface{}, 0, len(pairs))
	for _, p := range pairs {
		row := make(map[string]interface{}, len(names))
		if p.l >= 0 {
			row[key] = t.Value(p.l, key)
			for _, c := range leftCols {
				if c != key {
					row[outName(c, false)] = t.Value(p.l, c)
				}
			}
		} else {
			row[key] = other.Value(p.r, key)
		}
		if p.r >= 0 {
			if p.l < 0 {
				row[key] = other.Value(p.r, key)
			}
			for _, c := range rightCols {
				if c != key {
					row[outName(c, true)] = other.Value(p.r, c)
				}
			}
		}
		rows = append(rows, row)
	}
	return FromRows(names, rows), nil
}

// Union appends other's rows to t. Columns are matched by name; columns
// present on only one side are filled with nil on the other.
func (t *Table) Union(other *Table) *Table {
	names := t.Names()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range other.Names() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	rows := make([]map[string]interface{}, 0, t.NRows()+other.NRows())
	for i := 0; i < t.NRows(); i++ {
		rows = append(rows, t.Row(i))
	}
	for i := 0; i < other.NRows(); i++ {
		rows = append(rows, other.Row(i))
	}
	return FromRows(names, rows)
}
