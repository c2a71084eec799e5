package ppl

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppl/internal/engine"
)

func bigCSV(rows int) string {
	var b strings.Builder
	b.WriteString("id,age,city\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,%d,c%d\n", i, i%80, i%3)
	}
	return b.String()
}

func sameTable(t *testing.T, a, b *engine.Table) {
	t.Helper()
	require.Equal(t, a.Names(), b.Names())
	require.Equal(t, a.NRows(), b.NRows())
	for i := 0; i < a.NRows(); i++ {
		for _, col := range a.Names() {
			assert.Equal(t, a.Value(i, col), b.Value(i, col), "row %d col %s", i, col)
		}
	}
}

func TestChunkedMatchesWholeFile(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "big.csv", bigCSV(25))

	body := `
filter age >= 18
add next = age + 1
uppercase city
rename city loc
`
	whole, _, err := runScript(t, dir, `source "big.csv"`+body)
	require.NoError(t, err)

	chunked, _, err := runScript(t, dir, `source "big.csv" chunk 4`+body)
	require.NoError(t, err)

	sameTable(t, whole.Table, chunked.Table)
}

func TestChunkedStopsAtPostConcatStep(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "big.csv", bigCSV(10))

	// sort is not chunk-safe: it must see the concatenated table
	st, _, err := runScript(t, dir, `
source "big.csv" chunk 3
filter age >= 2
sort by age desc
limit 1
`)
	require.NoError(t, err)
	require.Equal(t, 1, st.Table.NRows())
	assert.Equal(t, "9", st.Table.Value(0, "age"))
}

func TestChunkSafeClassification(t *testing.T) {
	safe := []Step{
		&FilterStep{}, &SelectStep{}, &CastStep{}, &RenameStep{}, &AddStep{},
		&AddIfStep{}, &TrimStep{}, &UppercaseStep{}, &LowercaseStep{},
		&ReplaceStep{}, &FillStep{}, &TimerStep{},
	}
	for _, s := range safe {
		assert.True(t, chunkSafe(s), "%T", s)
	}

	unsafe := []Step{
		&SortStep{}, &GroupByStep{}, &JoinStep{}, &MergeStep{}, &DistinctStep{},
		&PivotStep{}, &SampleStep{}, &LimitStep{}, &SaveStep{}, &TryStep{},
		&CountStep{}, &HeadStep{},
	}
	for _, s := range unsafe {
		assert.False(t, chunkSafe(s), "%T", s)
	}
}

func TestDefaultChunkSizeFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := writePipeline(t, dir, "main.ppl", `
source "big.csv"
filter age >= 18
`)
	writePipeline(t, dir, "big.csv", bigCSV(25))

	st := NewState("")
	st.DefaultChunkSize = 4
	st.Stdout = &strings.Builder{}
	require.NoError(t, RunFile(context.Background(), path, st))
	assert.Equal(t, 25-18, st.Table.NRows())
}
