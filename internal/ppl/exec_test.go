package ppl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adultsCSV = `name,age,country
ada,36,UK
bob,17,US
cyn,52,UK
dee,29,US
eli,16,UK
fay,41,UK
gus,33,US
hal,12,US
ivy,8,UK
joe,25,UK
`

// runScript writes script as main.ppl in dir and executes it, returning
// the final state and captured pipeline stdout.
func runScript(t *testing.T, dir, script string) (*State, string, error) {
	t.Helper()
	path := writePipeline(t, dir, "main.ppl", script)
	st := NewState("")
	var buf bytes.Buffer
	st.Stdout = &buf
	err := RunFile(context.Background(), path, st)
	return st, buf.String(), err
}

func TestRunFilterGroupCountSave(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	st, _, err := runScript(t, dir, `
source "people.csv"
filter age > 18
group by country
count
save "out/result.csv"
`)
	require.NoError(t, err)

	require.Equal(t, []string{"country", "count"}, st.Table.Names())
	require.Equal(t, 2, st.Table.NRows())
	assert.Equal(t, "UK", st.Table.Value(0, "country"))
	assert.Equal(t, int64(4), st.Table.Value(0, "count"))
	assert.Equal(t, "US", st.Table.Value(1, "country"))
	assert.Equal(t, int64(2), st.Table.Value(1, "count"))

	raw, err := os.ReadFile(filepath.Join(dir, "out", "result.csv"))
	require.NoError(t, err)
	out := string(raw)
	assert.True(t, strings.HasPrefix(out, "country,count"))
	assert.Contains(t, out, "UK,4")
	assert.Contains(t, out, "US,2")
}

func TestRunWhereAliasAndCompound(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	st, _, err := runScript(t, dir, `
source "people.csv"
where age > 18 and country == UK
`)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Table.NRows())
}

func TestRunVariablesAndEnv(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)
	t.Setenv("MIN_AGE", "30")

	st, out, err := runScript(t, dir, `
set file = people.csv
env MIN_AGE
source "$file"
filter age >= $MIN_AGE
log "kept $MIN_AGE+"
`)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Table.NRows())
	assert.Contains(t, out, "[LOG] kept 30+")
}

func TestRunUndefinedVariableFails(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, _, err := runScript(t, dir, `
source "people.csv"
filter age > $threshold
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndefinedVariable))
}

func TestRunColumnNotFoundNamesCommand(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, _, err := runScript(t, dir, `
source "people.csv"
filter salary > 10
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter: ")
	assert.Contains(t, err.Error(), "column 'salary' not found")
	assert.Contains(t, err.Error(), "Available: name, age, country")
}

func TestRunStepsBeforeSourceFail(t *testing.T) {
	dir := t.TempDir()
	_, _, err := runScript(t, dir, "filter age > 18\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestTryAssertRecoversWithFill(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "ages.csv", "name,age\nada,36\nbob,\ncyn,\n")

	st, _, err := runScript(t, dir, `
source "ages.csv"
try
assert age > 0
on_error fill age 0
`)
	require.NoError(t, err)
	assert.Equal(t, "0", st.Table.Value(1, "age"))
	assert.Equal(t, "0", st.Table.Value(2, "age"))
	assert.Equal(t, "36", st.Table.Value(0, "age"))
}

func TestAssertFailureIsFatalOutsideTry(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "ages.csv", "name,age\nada,36\nbob,-1\ncyn,-2\n")

	_, _, err := runScript(t, dir, `
source "ages.csv"
assert age > 0
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssertionFailed))
	assert.Contains(t, err.Error(), "2 row(s) failed condition 'age > 0'")
}

func TestTrySkipAbortsRemainderOfBody(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	st, _, err := runScript(t, dir, `
source "people.csv"
try
source "missing.csv"
limit 1
on_error skip
count
`)
	require.NoError(t, err)
	// the failing source left the previous table in place and 'limit 1'
	// never ran
	require.Equal(t, 1, st.Table.NRows())
	assert.Equal(t, int64(10), st.Table.Value(0, "count"))
}

func TestTryLogPrintsMessageAndError(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, out, err := runScript(t, dir, `
source "people.csv"
try
filter salary > 10
on_error log "filter failed"
`)
	require.NoError(t, err)
	assert.Contains(t, out, "[TRY] filter failed: ")
	assert.Contains(t, out, "column 'salary' not found")
}

func TestNestedTryInnerRecoveryIsInvisibleOutside(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	st, out, err := runScript(t, dir, `
source "people.csv"
try
try
filter salary > 10
on_error log "inner"
limit 3
on_error log "outer"
`)
	require.NoError(t, err)
	assert.Contains(t, out, "[TRY] inner")
	assert.NotContains(t, out, "[TRY] outer")
	// the outer body continued after the inner recovery
	assert.Equal(t, 3, st.Table.NRows())
}

func TestFailingRecoveryPropagates(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, _, err := runScript(t, dir, `
source "people.csv"
try
filter salary > 10
on_error cast salary int
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cast")
}

func TestCountIfPrintsWithoutFiltering(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	st, out, err := runScript(t, dir, `
source "people.csv"
count if age > 18
`)
	require.NoError(t, err)
	assert.Contains(t, out, "count if age > 18: 6")
	assert.Equal(t, 10, st.Table.NRows())
}

func TestTimerScenario(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, out, err := runScript(t, dir, `
source "people.csv"
timer start t
timer lap t
timer stop t
`)
	require.NoError(t, err)
	assert.Contains(t, out, "[LAP] t: ")
	assert.Contains(t, out, "[TIMER] t: ")

	_, _, err = runScript(t, dir, `
source "people.csv"
timer start t
timer stop t
timer stop t
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimerNotRunning))
}

func TestSandboxBlocksEscapeBeforeExistence(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(data, 0o755))
	writePipeline(t, data, "people.csv", adultsCSV)

	// inside the sandbox works
	st, _, err := runScript(t, dir, `
set sandbox = data
source "data/people.csv"
`)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Table.NRows())

	// outside the sandbox is denied even though the file does not exist
	_, _, err = runScript(t, dir, `
set sandbox = data
source "../nonexistent.csv"
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermission))
	assert.False(t, errors.Is(err, ErrFileNotFound))
}

func TestSandboxBlocksSave(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(data, 0o755))
	writePipeline(t, data, "people.csv", adultsCSV)

	_, _, err := runScript(t, dir, `
set sandbox = data
source "data/people.csv"
save "../escape.csv"
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermission))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.csv"))
}

func TestAddExpressionAndConditional(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	st, _, err := runScript(t, dir, `
source "people.csv"
add next = age + 1
add band = if age >= 18 then "adult" else "minor"
`)
	require.NoError(t, err)
	assert.Equal(t, 37.0, st.Table.Value(0, "next"))
	assert.Equal(t, "adult", st.Table.Value(0, "band"))
	assert.Equal(t, "minor", st.Table.Value(1, "band"))
}

func TestAddUnknownColumnFails(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, _, err := runScript(t, dir, `
source "people.csv"
add x = salary * 2
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salary")
}

func TestJoinMergeForeach(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "orders.csv", "id,total\n1,10\n2,25\n")
	writePipeline(t, dir, "customers.csv", "id,name\n1,ada\n2,bob\n")
	monthly := filepath.Join(dir, "monthly")
	require.NoError(t, os.Mkdir(monthly, 0o755))
	writePipeline(t, monthly, "jan.csv", "id,total\n3,5\n")
	writePipeline(t, monthly, "feb.csv", "id,total\n4,6\n")

	st, _, err := runScript(t, dir, `
source "orders.csv"
join "customers.csv" on id
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total", "name"}, st.Table.Names())

	st, _, err = runScript(t, dir, `
source "orders.csv"
merge "monthly/jan.csv"
`)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Table.NRows())

	st, _, err = runScript(t, dir, `
foreach "monthly/*.csv"
sort by id
`)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Table.NRows())
	assert.Equal(t, "3", st.Table.Value(0, "id"))

	_, _, err = runScript(t, dir, `
foreach "monthly/*.json"
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFilesMatched))
}

func TestIncludeRunsSharedSteps(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", "name,age\n  ADA  ,36\n")
	writePipeline(t, dir, "clean.ppl", "trim name\nlowercase name\n")

	st, _, err := runScript(t, dir, `
source "people.csv"
include "clean.ppl"
`)
	require.NoError(t, err)
	assert.Equal(t, "ada", st.Table.Value(0, "name"))
}

func TestPrintSchemaHeadOutputs(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, out, err := runScript(t, dir, `
source "people.csv"
schema
head 2
`)
	require.NoError(t, err)
	assert.Contains(t, out, "Schema")
	assert.Contains(t, out, "name")
	assert.Contains(t, out, "Head (2 row(s)):")
}

func TestAggRequiresGroupBy(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	_, _, err := runScript(t, dir, `
source "people.csv"
agg sum age
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a preceding 'group by'")
}

func TestGroupByAgg(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "people.csv", adultsCSV)

	st, _, err := runScript(t, dir, `
source "people.csv"
group by country
agg sum age, count
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "age", "count"}, st.Table.Names())
	assert.Equal(t, 2, st.Table.NRows())
}

func TestMergeAfterCastKeepsUnparseableCells(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "a.csv", "name,age\nada,36\n")
	writePipeline(t, dir, "b.csv", "name,age\neli,unknown\n")

	st, _, err := runScript(t, dir, `
source "a.csv"
cast age int
merge "b.csv"
`)
	require.NoError(t, err)
	require.Equal(t, 2, st.Table.NRows())
	assert.Equal(t, "36", st.Table.Value(0, "age"))
	assert.Equal(t, "unknown", st.Table.Value(1, "age"))
}
