package ppl

import (
	"fmt"
	"strings"

	"ppl/internal/engine"
)

// Step is one executable pipeline command. The set of implementations is
// closed: the parser is the only producer and the executor the only
// consumer, both switching over the concrete types below.
type Step interface {
	// command returns the keyword the step was parsed from, used to
	// prefix runtime errors.
	command() string
}

// Cond is a single comparison against a column.
type Cond struct {
	Column   string
	Operator string
	Value    string
}

type SourceStep struct {
	Path      string
	ChunkSize int // 0 means load the whole file
}

type FilterStep struct {
	Conds []Cond
	Logic []string // "and"/"or" connectives between conds, len(Conds)-1
	// Aliased reports the step was written as 'where' rather than 'filter'.
	Aliased bool
}

type SelectStep struct{ Columns []string }

type DropStep struct{ Columns []string }

type GroupByStep struct{ Columns []string }

type CountStep struct{}

type CountIfStep struct{ Cond Cond }

// AggStep covers the single-column reducers sum, avg, min and max.
type AggStep struct {
	Verb   string
	Column string
}

type MultiAggStep struct{ Specs []engine.AggSpec }

type SortStep struct{ Keys []engine.SortKey }

type RenameStep struct{ Old, New string }

type AddStep struct {
	Column string
	Expr   string
}

type AddIfStep struct {
	Column   string
	Cond     Cond
	TrueVal  string
	FalseVal string
}

type LimitStep struct{ N int }

type DistinctStep struct{}

type SampleStep struct {
	N   int
	Pct float64 // used when N == 0
}

type TrimStep struct{ Column string }

type UppercaseStep struct{ Column string }

type LowercaseStep struct{ Column string }

type CastStep struct{ Column, Type string }

type ReplaceStep struct{ Column, Old, New string }

type FillStep struct{ Column, Strategy string }

type PivotStep struct{ Index, Column, Value string }

type JoinStep struct {
	Path string
	Key  string
	Kind string
}

type MergeStep struct{ Path string }

type ForeachStep struct{ Pattern string }

type SaveStep struct{ Path string }

type PrintStep struct{}

type SchemaStep struct{}

type InspectStep struct{}

type HeadStep struct{ N int }

type LogStep struct{ Message string }

type AssertStep struct{ Cond Cond }

type SetStep struct{ Name, Value string }

type EnvStep struct{ Name string }

type TimerStep struct {
	Action string // start, lap or stop
	Label  string
}

type DateStep struct {
	Op     string // parse, extract, diff or trunc
	Column string
	Arg    string // layout, part or second column
	Out    string // new column name for diff
}

type TryStep struct {
	Body    []Step
	Recover Step
}

// SkipStep is the no-op recovery produced by 'on_error skip'.
type SkipStep struct{}

func (*SourceStep) command() string    { return "source" }
func (s *FilterStep) command() string {
	if s.Aliased {
		return "where"
	}
	return "filter"
}
func (*SelectStep) command() string    { return "select" }
func (*DropStep) command() string      { return "drop" }
func (*GroupByStep) command() string   { return "group" }
func (*CountStep) command() string     { return "count" }
func (*CountIfStep) command() string   { return "count" }
func (s *AggStep) command() string     { return s.Verb }
func (*MultiAggStep) command() string  { return "agg" }
func (*SortStep) command() string      { return "sort" }
func (*RenameStep) command() string    { return "rename" }
func (*AddStep) command() string       { return "add" }
func (*AddIfStep) command() string     { return "add" }
func (*LimitStep) command() string     { return "limit" }
func (*DistinctStep) command() string  { return "distinct" }
func (*SampleStep) command() string    { return "sample" }
func (*TrimStep) command() string      { return "trim" }
func (*UppercaseStep) command() string { return "uppercase" }
func (*LowercaseStep) command() string { return "lowercase" }
func (*CastStep) command() string      { return "cast" }
func (*ReplaceStep) command() string   { return "replace" }
func (*FillStep) command() string      { return "fill" }
func (*PivotStep) command() string     { return "pivot" }
func (*JoinStep) command() string      { return "join" }
func (*MergeStep) command() string     { return "merge" }
func (*ForeachStep) command() string   { return "foreach" }
func (*SaveStep) command() string      { return "save" }
func (*PrintStep) command() string     { return "print" }
func (*SchemaStep) command() string    { return "schema" }
func (*InspectStep) command() string   { return "inspect" }
func (*HeadStep) command() string      { return "head" }
func (*LogStep) command() string       { return "log" }
func (*AssertStep) command() string    { return "assert" }
func (*SetStep) command() string       { return "set" }
func (*EnvStep) command() string       { return "env" }
func (*TimerStep) command() string     { return "timer" }
func (*DateStep) command() string      { return "date" }
func (*TryStep) command() string       { return "try" }
func (*SkipStep) command() string      { return "skip" }

// DescribeStep renders a step for debug output.
func DescribeStep(s Step) string {
	if t, ok := s.(*TryStep); ok {
		return fmt.Sprintf("try (%d step(s), on_error %s)", len(t.Body), t.Recover.command())
	}
	fields := strings.TrimPrefix(fmt.Sprintf("%+v", s), "&")
	return fmt.Sprintf("%s %s", s.command(), fields)
}

// chunkSafe reports whether a step can run on each chunk independently
// with the same result as running once on the concatenated table.
func chunkSafe(s Step) bool {
	switch s.(type) {
	case *FilterStep, *SelectStep, *CastStep, *RenameStep, *AddStep,
		*AddIfStep, *TrimStep, *UppercaseStep, *LowercaseStep,
		*ReplaceStep, *FillStep, *TimerStep:
		return true
	}
	return false
}
