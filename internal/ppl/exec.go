package ppl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"ppl/internal/engine"
	"ppl/internal/ppl/expr"
)

// Executor runs a parsed step sequence against a single State. Execution
// is strictly sequential; the State is owned by the run.
type Executor struct {
	ctx context.Context
	st  *State
}

// Run executes steps against st. The first failing step aborts the run
// unless it sits inside a try block.
func Run(ctx context.Context, steps []Step, st *State) error {
	ex := &Executor{ctx: ctx, st: st}
	return ex.runSteps(steps)
}

func (ex *Executor) runSteps(steps []Step) error {
	for i := 0; i < len(steps); i++ {
		if src, ok := steps[i].(*SourceStep); ok {
			size := src.ChunkSize
			if size == 0 {
				size = ex.st.DefaultChunkSize
			}
			if size > 0 {
				end := i + 1
				for end < len(steps) && chunkSafe(steps[end]) {
					end++
				}
				if err := ex.runChunked(src, size, steps[i+1:end]); err != nil {
					return err
				}
				i = end - 1
				continue
			}
		}
		s := steps[i]
		ex.st.Log.Debug("executing step", "command", s.command())
		if err := ex.execStep(s); err != nil {
			return errors.Wrap(err, s.command())
		}
	}
	return nil
}

// runChunked streams the source in batches of ChunkSize rows, applies the
// trailing run of chunk-safe steps to each batch and concatenates the
// results. Peak memory stays proportional to the chunk size during the
// load-and-clean phase.
func (ex *Executor) runChunked(src *SourceStep, size int, safe []Step) error {
	path, err := ex.preparePath(src.Path)
	if err != nil {
		return errors.Wrap(err, "source")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.Wrapf(ErrFileNotFound, "source: file not found: '%s'", path)
	}

	// only CSV streams; other formats loaded via the default chunk size
	// fall back to a whole-file read
	if src.ChunkSize == 0 && strings.HasSuffix(strings.TrimSuffix(path, ".gz"), ".json") {
		t, err := engine.Load(ex.ctx, path)
		if err != nil {
			return errors.Wrap(err, "source")
		}
		ex.st.Table = t
		for _, s := range safe {
			if err := ex.execStep(s); err != nil {
				return errors.Wrap(err, s.command())
			}
		}
		return nil
	}

	ex.st.Log.Debug("chunked load", "path", path, "chunk_size", size, "safe_steps", len(safe))
	var merged *engine.Table
	err = engine.LoadChunks(ex.ctx, path, size, func(chunk *engine.Table) error {
		ex.st.Table = chunk
		for _, s := range safe {
			if err := ex.execStep(s); err != nil {
				return errors.Wrap(err, s.command())
			}
		}
		if merged == nil {
			merged = ex.st.Table
		} else {
			merged = merged.Union(ex.st.Table)
		}
		return nil
	})
	if err != nil {
		return err
	}
	ex.st.Table = merged
	return nil
}

// preparePath substitutes variables, anchors a relative path at BaseDir
// and runs the result through the sandbox guard. The guard never consults
// the file system state of the target, so denial happens before any
// existence check.
func (ex *Executor) preparePath(raw string) (string, error) {
	path, err := substitute(raw, ex.st.Vars)
	if err != nil {
		return "", err
	}
	path = ex.st.resolvePath(path)
	if err := checkSandbox(ex.st.Sandbox, path); err != nil {
		return "", err
	}
	return path, nil
}

func (ex *Executor) subst(raw string) (string, error) {
	return substitute(raw, ex.st.Vars)
}

// substConds substitutes the value side of each condition.
func (ex *Executor) substConds(conds []Cond) ([]engine.Cond, error) {
	out := make([]engine.Cond, 0, len(conds))
	for _, c := range conds {
		v, err := ex.subst(c.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, engine.Cond{Column: c.Column, Operator: c.Operator, Value: v})
	}
	return out, nil
}

func (ex *Executor) execStep(s Step) error {
	switch s := s.(type) {
	case *SourceStep:
		return ex.execSource(s)
	case *FilterStep:
		conds, err := ex.substConds(s.Conds)
		if err != nil {
			return err
		}
		return ex.transform(func(t *engine.Table) (*engine.Table, error) {
			return t.Filter(conds, s.Logic)
		})
	case *SelectStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Select(s.Columns) })
	case *DropStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Drop(s.Columns) })
	case *GroupByStep:
		t, err := ex.st.table()
		if err != nil {
			return err
		}
		if err := t.RequireColumns(s.Columns...); err != nil {
			return err
		}
		ex.st.grouped = s.Columns
		return nil
	case *CountStep:
		return ex.aggregate(engine.AggSpec{Verb: "count"})
	case *CountIfStep:
		return ex.execCountIf(s)
	case *AggStep:
		return ex.aggregate(engine.AggSpec{Verb: s.Verb, Column: s.Column})
	case *MultiAggStep:
		if ex.st.grouped == nil {
			return errors.New("'agg' requires a preceding 'group by'")
		}
		return ex.aggregate(s.Specs...)
	case *SortStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Sort(s.Keys) })
	case *RenameStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Rename(s.Old, s.New) })
	case *AddStep:
		return ex.execAdd(s)
	case *AddIfStep:
		return ex.execAddIf(s)
	case *LimitStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Limit(s.N), nil })
	case *DistinctStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Distinct(), nil })
	case *SampleStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Sample(s.N, s.Pct), nil })
	case *TrimStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Trim(s.Column) })
	case *UppercaseStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Uppercase(s.Column) })
	case *LowercaseStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Lowercase(s.Column) })
	case *CastStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Cast(s.Column, s.Type) })
	case *ReplaceStep:
		oldVal, err := ex.subst(s.Old)
		if err != nil {
			return err
		}
		newVal, err := ex.subst(s.New)
		if err != nil {
			return err
		}
		return ex.transform(func(t *engine.Table) (*engine.Table, error) {
			return t.Replace(s.Column, oldVal, newVal)
		})
	case *FillStep:
		strategy, err := ex.subst(s.Strategy)
		if err != nil {
			return err
		}
		return ex.transform(func(t *engine.Table) (*engine.Table, error) {
			return t.Fill(s.Column, trimQuotes(strategy))
		})
	case *PivotStep:
		return ex.transform(func(t *engine.Table) (*engine.Table, error) {
			return t.Pivot(s.Index, s.Column, s.Value)
		})
	case *JoinStep:
		other, err := ex.loadOther(s.Path)
		if err != nil {
			return err
		}
		return ex.transform(func(t *engine.Table) (*engine.Table, error) {
			return t.Join(other, s.Key, s.Kind)
		})
	case *MergeStep:
		other, err := ex.loadOther(s.Path)
		if err != nil {
			return err
		}
		return ex.transform(func(t *engine.Table) (*engine.Table, error) { return t.Union(other), nil })
	case *ForeachStep:
		return ex.execForeach(s)
	case *SaveStep:
		return ex.execSave(s)
	case *PrintStep:
		t, err := ex.st.table()
		if err != nil {
			return err
		}
		fmt.Fprintln(ex.st.Stdout, t.String())
		return nil
	case *SchemaStep:
		t, err := ex.st.table()
		if err != nil {
			return err
		}
		fmt.Fprint(ex.st.Stdout, t.Schema())
		return nil
	case *InspectStep:
		t, err := ex.st.table()
		if err != nil {
			return err
		}
		fmt.Fprint(ex.st.Stdout, t.Inspect())
		return nil
	case *HeadStep:
		t, err := ex.st.table()
		if err != nil {
			return err
		}
		fmt.Fprintf(ex.st.Stdout, "\nHead (%d row(s)):\n%s\n", s.N, t.Head(s.N).String())
		return nil
	case *LogStep:
		msg, err := ex.subst(s.Message)
		if err != nil {
			return err
		}
		fmt.Fprintf(ex.st.Stdout, "[LOG] %s\n", msg)
		return nil
	case *AssertStep:
		return ex.execAssert(s)
	case *SetStep:
		value, err := ex.subst(s.Value)
		if err != nil {
			return err
		}
		ex.st.Vars[s.Name] = value
		if s.Name == "sandbox" {
			ex.st.Sandbox = ex.st.resolvePath(value)
		}
		return nil
	case *EnvStep:
		val, ok := os.LookupEnv(s.Name)
		if !ok {
			return errors.Errorf("environment variable '%s' is not set", s.Name)
		}
		ex.st.Vars[s.Name] = val
		return nil
	case *TimerStep:
		return ex.execTimer(s)
	case *DateStep:
		return ex.execDate(s)
	case *TryStep:
		return ex.execTry(s)
	case *SkipStep:
		return nil
	}
	return errors.Errorf("unhandled step '%s'", s.command())
}

// transform applies a pure table operation to the current table.
func (ex *Executor) transform(op func(*engine.Table) (*engine.Table, error)) error {
	t, err := ex.st.table()
	if err != nil {
		return err
	}
	out, err := op(t)
	if err != nil {
		return err
	}
	ex.st.Table = out
	return nil
}

func (ex *Executor) execSource(s *SourceStep) error {
	path, err := ex.preparePath(s.Path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.Wrapf(ErrFileNotFound, "file not found: '%s'", path)
	}
	t, err := engine.Load(ex.ctx, path)
	if err != nil {
		return err
	}
	ex.st.Table = t
	ex.st.Log.Info("loaded source", "path", path, "rows", t.NRows(), "columns", len(t.Names()))
	return nil
}

// aggregate consumes any pending 'group by' columns.
func (ex *Executor) aggregate(specs ...engine.AggSpec) error {
	grouped := ex.st.grouped
	ex.st.grouped = nil
	return ex.transform(func(t *engine.Table) (*engine.Table, error) {
		return t.Aggregate(grouped, specs)
	})
}

func (ex *Executor) execCountIf(s *CountIfStep) error {
	value, err := ex.subst(s.Cond.Value)
	if err != nil {
		return err
	}
	t, err := ex.st.table()
	if err != nil {
		return err
	}
	n, err := t.CountWhere(engine.Cond{Column: s.Cond.Column, Operator: s.Cond.Operator, Value: value})
	if err != nil {
		return err
	}
	fmt.Fprintf(ex.st.Stdout, "count if %s %s %s: %d\n", s.Cond.Column, s.Cond.Operator, value, n)
	return nil
}

func (ex *Executor) execAdd(s *AddStep) error {
	exprText, err := ex.subst(s.Expr)
	if err != nil {
		return err
	}
	compiled, err := expr.Compile(exprText)
	if err != nil {
		return err
	}
	return ex.transform(func(t *engine.Table) (*engine.Table, error) {
		if err := t.RequireColumns(compiled.Columns()...); err != nil {
			return nil, err
		}
		return t.AddColumn(s.Column, func(row map[string]interface{}) (interface{}, error) {
			return compiled.Eval(func(col string) (float64, bool) {
				return engine.ToFloat(row[col])
			})
		})
	})
}

func (ex *Executor) execAddIf(s *AddIfStep) error {
	value, err := ex.subst(s.Cond.Value)
	if err != nil {
		return err
	}
	trueVal, err := ex.subst(s.TrueVal)
	if err != nil {
		return err
	}
	falseVal, err := ex.subst(s.FalseVal)
	if err != nil {
		return err
	}
	return ex.transform(func(t *engine.Table) (*engine.Table, error) {
		if err := t.RequireColumns(s.Cond.Column); err != nil {
			return nil, err
		}
		return t.AddColumn(s.Column, func(row map[string]interface{}) (interface{}, error) {
			ok, err := engine.Match(row[s.Cond.Column], s.Cond.Operator, value)
			if err != nil {
				return nil, err
			}
			if ok {
				return resolveCellValue(row, trueVal), nil
			}
			return resolveCellValue(row, falseVal), nil
		})
	})
}

// resolveCellValue interprets an add-if branch value: a quoted string stays
// a string, a column name yields the row's value, a number becomes numeric,
// anything else stays text.
func resolveCellValue(row map[string]interface{}, raw string) interface{} {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	if v, ok := row[raw]; ok {
		return v
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func (ex *Executor) execForeach(s *ForeachStep) error {
	pattern, err := ex.subst(s.Pattern)
	if err != nil {
		return err
	}
	pattern = ex.st.resolvePath(pattern)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return errors.Wrapf(ErrNoFilesMatched, "no files matched pattern '%s'", pattern)
	}
	sort.Strings(matches)

	var combined *engine.Table
	for _, m := range matches {
		if err := checkSandbox(ex.st.Sandbox, m); err != nil {
			return err
		}
		t, err := engine.Load(ex.ctx, m)
		if err != nil {
			return err
		}
		if combined == nil {
			combined = t
		} else {
			combined = combined.Union(t)
		}
	}
	ex.st.Table = combined
	ex.st.Log.Info("loaded glob", "pattern", pattern, "files", len(matches), "rows", combined.NRows())
	return nil
}

func (ex *Executor) loadOther(rawPath string) (*engine.Table, error) {
	path, err := ex.preparePath(rawPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrFileNotFound, "file not found: '%s'", path)
	}
	return engine.Load(ex.ctx, path)
}

func (ex *Executor) execSave(s *SaveStep) error {
	path, err := ex.preparePath(s.Path)
	if err != nil {
		return err
	}
	t, err := ex.st.table()
	if err != nil {
		return err
	}
	if err := engine.Save(ex.ctx, t, path); err != nil {
		return err
	}
	ex.st.Log.Info("saved", "path", path, "rows", t.NRows())
	return nil
}

func (ex *Executor) execAssert(s *AssertStep) error {
	value, err := ex.subst(s.Cond.Value)
	if err != nil {
		return err
	}
	t, err := ex.st.table()
	if err != nil {
		return err
	}
	n, err := t.CountWhere(engine.Cond{Column: s.Cond.Column, Operator: s.Cond.Operator, Value: value})
	if err != nil {
		return err
	}
	if failures := t.NRows() - n; failures > 0 {
		return errors.Wrapf(ErrAssertionFailed, "%d row(s) failed condition '%s %s %s'",
			failures, s.Cond.Column, s.Cond.Operator, value)
	}
	return nil
}

func (ex *Executor) execTimer(s *TimerStep) error {
	switch s.Action {
	case "start":
		ex.st.timers.Start(s.Label)
		return nil
	case "lap":
		d, err := ex.st.timers.Lap(s.Label)
		if err != nil {
			return err
		}
		fmt.Fprintf(ex.st.Stdout, "[LAP] %s: %s\n", s.Label, formatElapsed(d))
		return nil
	default:
		d, err := ex.st.timers.Stop(s.Label)
		if err != nil {
			return err
		}
		fmt.Fprintf(ex.st.Stdout, "[TIMER] %s: %s\n", s.Label, formatElapsed(d))
		return nil
	}
}

func (ex *Executor) execDate(s *DateStep) error {
	return ex.transform(func(t *engine.Table) (*engine.Table, error) {
		switch s.Op {
		case "parse":
			return t.DateParse(s.Column, s.Arg)
		case "extract":
			return t.DateExtract(s.Column, s.Arg)
		case "diff":
			return t.DateDiff(s.Column, s.Arg, s.Out)
		default:
			return t.DateTrunc(s.Column, s.Arg)
		}
	})
}

// execTry runs the child sequence; on the first failure the remainder of
// the child sequence is abandoned and exactly the recovery step runs. A
// failing recovery step propagates to the caller.
func (ex *Executor) execTry(s *TryStep) error {
	err := ex.runSteps(s.Body)
	if err == nil {
		return nil
	}
	ex.st.Log.Debug("try block failed, running recovery", "error", err, "recovery", s.Recover.command())

	switch r := s.Recover.(type) {
	case *SkipStep:
		return nil
	case *LogStep:
		msg, serr := ex.subst(r.Message)
		if serr != nil {
			return serr
		}
		fmt.Fprintf(ex.st.Stdout, "[TRY] %s: %v\n", msg, err)
		return nil
	default:
		if rerr := ex.execStep(r); rerr != nil {
			return errors.Wrap(rerr, r.command())
		}
		return nil
	}
}
