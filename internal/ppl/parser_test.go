package ppl

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppl/internal/engine"
)

func parseOne(t *testing.T, text string) Step {
	t.Helper()
	steps, err := Parse([]Line{{Number: 1, Text: text}})
	require.NoError(t, err, "parse %q", text)
	require.Len(t, steps, 1)
	return steps[0]
}

func parseLinesOf(t *testing.T, texts ...string) ([]Step, error) {
	t.Helper()
	lines := make([]Line, len(texts))
	for i, s := range texts {
		lines[i] = Line{Number: i + 1, Text: s}
	}
	return Parse(lines)
}

func TestParseSource(t *testing.T) {
	s := parseOne(t, `source "data/people.csv"`).(*SourceStep)
	assert.Equal(t, "data/people.csv", s.Path)
	assert.Equal(t, 0, s.ChunkSize)

	s = parseOne(t, `source "big.csv" chunk 100000`).(*SourceStep)
	assert.Equal(t, 100000, s.ChunkSize)
}

func TestParseSourceErrors(t *testing.T) {
	_, err := parseLinesOf(t, "source people.csv")
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Line)

	_, err = parseLinesOf(t, `source "a.csv" chunk 0`)
	require.Error(t, err)
}

func TestParseFilterSingle(t *testing.T) {
	s := parseOne(t, "filter age > 18").(*FilterStep)
	require.Len(t, s.Conds, 1)
	assert.Equal(t, Cond{Column: "age", Operator: ">", Value: "18"}, s.Conds[0])
	assert.Equal(t, "filter", s.command())
}

func TestParseFilterCompound(t *testing.T) {
	s := parseOne(t, "filter age >= 18 and country == UK or age < 5").(*FilterStep)
	require.Len(t, s.Conds, 3)
	assert.Equal(t, []string{"and", "or"}, s.Logic)
	assert.Equal(t, ">=", s.Conds[0].Operator)
	assert.Equal(t, "==", s.Conds[1].Operator)
}

func TestParseWhereAlias(t *testing.T) {
	s := parseOne(t, "where age > 18").(*FilterStep)
	assert.Equal(t, "where", s.command())
}

func TestParseFilterMalformed(t *testing.T) {
	_, err := parseLinesOf(t, "filter age")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse 'filter' condition")
	assert.Contains(t, err.Error(), "Expected: filter <column> <op> <value>")
}

func TestParseSelectDrop(t *testing.T) {
	s := parseOne(t, "select name, age").(*SelectStep)
	assert.Equal(t, []string{"name", "age"}, s.Columns)

	d := parseOne(t, "drop salary").(*DropStep)
	assert.Equal(t, []string{"salary"}, d.Columns)

	_, err := parseLinesOf(t, "select")
	require.Error(t, err)
}

func TestParseGroupByRequiresAggregation(t *testing.T) {
	steps, err := parseLinesOf(t, "group by country", "count")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, []string{"country"}, steps[0].(*GroupByStep).Columns)

	_, err = parseLinesOf(t, "group by country", "print")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGroupWithoutAgg))

	_, err = parseLinesOf(t, "group by country")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGroupWithoutAgg))

	// count if does not aggregate, so it does not satisfy group by
	_, err = parseLinesOf(t, "group by country", "count if age > 1")
	require.Error(t, err)
}

func TestParseAggVerbs(t *testing.T) {
	s := parseOne(t, "sum salary").(*AggStep)
	assert.Equal(t, "sum", s.Verb)
	assert.Equal(t, "salary", s.Column)

	m := parseOne(t, "agg sum salary, avg age, count").(*MultiAggStep)
	assert.Equal(t, []engine.AggSpec{
		{Verb: "sum", Column: "salary"},
		{Verb: "avg", Column: "age"},
		{Verb: "count"},
	}, m.Specs)

	_, err := parseLinesOf(t, "agg median salary")
	require.Error(t, err)
}

func TestParseSort(t *testing.T) {
	s := parseOne(t, "sort by age desc, name").(*SortStep)
	assert.Equal(t, []engine.SortKey{
		{Column: "age", Asc: false},
		{Column: "name", Asc: true},
	}, s.Keys)

	_, err := parseLinesOf(t, "sort age")
	require.Error(t, err)

	_, err = parseLinesOf(t, "sort by age sideways")
	require.Error(t, err)
}

func TestParseAddExpression(t *testing.T) {
	s := parseOne(t, "add tax = price * 0.2").(*AddStep)
	assert.Equal(t, "tax", s.Column)
	assert.Equal(t, "price * 0.2", s.Expr)
}

func TestParseAddIfThenElse(t *testing.T) {
	s := parseOne(t, `add band = if age >= 18 then "adult" else "minor"`).(*AddIfStep)
	assert.Equal(t, "band", s.Column)
	assert.Equal(t, Cond{Column: "age", Operator: ">=", Value: "18"}, s.Cond)
	assert.Equal(t, `"adult"`, s.TrueVal)
	assert.Equal(t, `"minor"`, s.FalseVal)
}

func TestParseCountIf(t *testing.T) {
	s := parseOne(t, "count if salary > 50000").(*CountIfStep)
	assert.Equal(t, "salary", s.Cond.Column)

	assert.IsType(t, &CountStep{}, parseOne(t, "count"))

	_, err := parseLinesOf(t, "count rows")
	require.Error(t, err)
}

func TestParseScalarCommands(t *testing.T) {
	assert.Equal(t, 100, parseOne(t, "limit 100").(*LimitStep).N)
	assert.Equal(t, 10, parseOne(t, "head 10").(*HeadStep).N)
	assert.IsType(t, &DistinctStep{}, parseOne(t, "distinct"))
	assert.IsType(t, &PrintStep{}, parseOne(t, "print"))
	assert.IsType(t, &SchemaStep{}, parseOne(t, "schema"))
	assert.IsType(t, &InspectStep{}, parseOne(t, "inspect"))

	_, err := parseLinesOf(t, "limit many")
	require.Error(t, err)
}

func TestParseSample(t *testing.T) {
	assert.Equal(t, 50, parseOne(t, "sample 50").(*SampleStep).N)
	assert.Equal(t, 10.0, parseOne(t, "sample 10%").(*SampleStep).Pct)

	_, err := parseLinesOf(t, "sample 150%")
	require.Error(t, err)
}

func TestParseCastReplaceFill(t *testing.T) {
	c := parseOne(t, "cast age INT").(*CastStep)
	assert.Equal(t, "int", c.Type)

	r := parseOne(t, `replace country "United Kingdom" UK`).(*ReplaceStep)
	assert.Equal(t, "United Kingdom", r.Old)
	assert.Equal(t, "UK", r.New)

	f := parseOne(t, `fill country "Unknown"`).(*FillStep)
	assert.Equal(t, "country", f.Column)
	assert.Equal(t, `"Unknown"`, f.Strategy)
}

func TestParseJoin(t *testing.T) {
	j := parseOne(t, `join "other.csv" on id`).(*JoinStep)
	assert.Equal(t, "inner", j.Kind)
	assert.Equal(t, "id", j.Key)

	j = parseOne(t, `join "other.csv" on id LEFT`).(*JoinStep)
	assert.Equal(t, "left", j.Kind)

	_, err := parseLinesOf(t, `join "other.csv" on id sideways`)
	require.Error(t, err)

	_, err = parseLinesOf(t, `join "other.csv" id`)
	require.Error(t, err)
}

func TestParsePivot(t *testing.T) {
	p := parseOne(t, "pivot index=country column=year value=revenue").(*PivotStep)
	assert.Equal(t, "country", p.Index)
	assert.Equal(t, "year", p.Column)
	assert.Equal(t, "revenue", p.Value)

	_, err := parseLinesOf(t, "pivot country year revenue")
	require.Error(t, err)
}

func TestParseSetEnvLogAssert(t *testing.T) {
	s := parseOne(t, "set threshold = 50000").(*SetStep)
	assert.Equal(t, "threshold", s.Name)
	assert.Equal(t, "50000", s.Value)

	e := parseOne(t, "env DATA_PATH").(*EnvStep)
	assert.Equal(t, "DATA_PATH", e.Name)

	l := parseOne(t, `log "done"`).(*LogStep)
	assert.Equal(t, "done", l.Message)

	a := parseOne(t, "assert age > 0").(*AssertStep)
	assert.Equal(t, "age", a.Cond.Column)
}

func TestParseTimer(t *testing.T) {
	s := parseOne(t, "timer start load").(*TimerStep)
	assert.Equal(t, "start", s.Action)
	assert.Equal(t, "load", s.Label)

	s = parseOne(t, "timer lap").(*TimerStep)
	assert.Equal(t, "default", s.Label)

	_, err := parseLinesOf(t, "timer pause load")
	require.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d := parseOne(t, "date parse created_at").(*DateStep)
	assert.Equal(t, "parse", d.Op)
	assert.Equal(t, "", d.Arg)

	d = parseOne(t, `date parse created_at "02.01.2006"`).(*DateStep)
	assert.Equal(t, "02.01.2006", d.Arg)

	d = parseOne(t, "date extract created_at YEAR").(*DateStep)
	assert.Equal(t, "year", d.Arg)

	d = parseOne(t, "date diff shipped ordered lead_days").(*DateStep)
	assert.Equal(t, "ordered", d.Arg)
	assert.Equal(t, "lead_days", d.Out)

	d = parseOne(t, "date truncate created_at month").(*DateStep)
	assert.Equal(t, "trunc", d.Op)

	_, err := parseLinesOf(t, "date shuffle created_at")
	require.Error(t, err)
}

func TestParseTryBlock(t *testing.T) {
	steps, err := parseLinesOf(t,
		"try",
		"cast age int",
		"assert age > 0",
		"on_error fill age 0",
	)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	tr := steps[0].(*TryStep)
	require.Len(t, tr.Body, 2)
	assert.IsType(t, &CastStep{}, tr.Body[0])
	rec := tr.Recover.(*FillStep)
	assert.Equal(t, "age", rec.Column)
}

func TestParseTryRecoveryKinds(t *testing.T) {
	steps, err := parseLinesOf(t, "try", "distinct", "on_error skip")
	require.NoError(t, err)
	assert.IsType(t, &SkipStep{}, steps[0].(*TryStep).Recover)

	steps, err = parseLinesOf(t, "try", "distinct", `on_error log "cleanup failed"`)
	require.NoError(t, err)
	assert.IsType(t, &LogStep{}, steps[0].(*TryStep).Recover)
}

func TestParseNestedTry(t *testing.T) {
	steps, err := parseLinesOf(t,
		"try",
		"try",
		"cast age int",
		"on_error skip",
		"distinct",
		"on_error skip",
	)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	outer := steps[0].(*TryStep)
	require.Len(t, outer.Body, 2)
	inner := outer.Body[0].(*TryStep)
	assert.IsType(t, &CastStep{}, inner.Body[0])
	assert.IsType(t, &DistinctStep{}, outer.Body[1])
}

func TestParseTryMissingHandler(t *testing.T) {
	_, err := parseLinesOf(t, "try", "distinct")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_error")
}

func TestParseUnknownCommandListsSupported(t *testing.T) {
	_, err := parseLinesOf(t, "shuffle rows")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCommand))
	assert.Contains(t, err.Error(), "Supported commands:")
	assert.Contains(t, err.Error(), "filter")
	assert.Contains(t, err.Error(), "Line 1")
}

func TestParseZeroCountsRejected(t *testing.T) {
	for _, cmd := range []string{"limit 0", "head 0", "sample 0"} {
		_, err := parseLinesOf(t, cmd)
		require.Error(t, err, cmd)
		assert.Contains(t, err.Error(), "positive integer", cmd)
	}
}
