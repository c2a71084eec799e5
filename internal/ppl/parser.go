package ppl

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"ppl/internal/engine"
)

var (
	compoundSplitRe = regexp.MustCompile(`(?i)\s+(and|or)\s+`)
	ifThenElseRe    = regexp.MustCompile(`(?is)^if\s+(.+?)\s+then\s+(.+?)\s+else\s+(.+)$`)
	sourceRe        = regexp.MustCompile(`(?i)^"([^"]+)"\s*(?:chunk\s+(\d+))?\s*$`)
	joinFileRe      = regexp.MustCompile(`^"([^"]+)"(.*)$`)
	replaceRe       = regexp.MustCompile(`^(\S+)\s+(".*?"|\S+)\s+(".*?"|\S+)$`)
	pivotRe         = regexp.MustCompile(`(?i)^index=(\S+)\s+column=(\S+)\s+value=(\S+)$`)
)

type commandParser func(args string, line Line) (Step, error)

var commandParsers map[string]commandParser

func init() {
	commandParsers = map[string]commandParser{
		"source":    parseSource,
		"filter":    parseFilter,
		"where":     parseFilter,
		"select":    columnListParser("select", "select name, age", func(cols []string) Step { return &SelectStep{Columns: cols} }),
		"drop":      columnListParser("drop", "drop salary, department", func(cols []string) Step { return &DropStep{Columns: cols} }),
		"group":     parseGroupBy,
		"count":     parseCount,
		"sum":       singleColumnAgg("sum"),
		"avg":       singleColumnAgg("avg"),
		"min":       singleColumnAgg("min"),
		"max":       singleColumnAgg("max"),
		"agg":       parseAggMulti,
		"sort":      parseSort,
		"rename":    parseRename,
		"add":       parseAdd,
		"limit":     positiveIntParser("limit", "limit 100", func(n int) Step { return &LimitStep{N: n} }),
		"head":      positiveIntParser("head", "head 10", func(n int) Step { return &HeadStep{N: n} }),
		"sample":    parseSample,
		"trim":      singleColumnParser("trim", func(col string) Step { return &TrimStep{Column: col} }),
		"uppercase": singleColumnParser("uppercase", func(col string) Step { return &UppercaseStep{Column: col} }),
		"lowercase": singleColumnParser("lowercase", func(col string) Step { return &LowercaseStep{Column: col} }),
		"cast":      parseCast,
		"replace":   parseReplace,
		"fill":      parseFill,
		"pivot":     parsePivot,
		"join":      parseJoin,
		"merge":     quotedPathParser("merge", "merge \"data/extra.csv\"", func(p string) Step { return &MergeStep{Path: p} }),
		"foreach":   quotedPathParser("foreach", "foreach \"data/monthly/*.csv\"", func(p string) Step { return &ForeachStep{Pattern: p} }),
		"save":      quotedPathParser("save", "save \"output/results.csv\"", func(p string) Step { return &SaveStep{Path: p} }),
		"log":       parseLog,
		"assert":    parseAssert,
		"set":       parseSet,
		"env":       parseEnv,
		"timer":     parseTimer,
		"date":      parseDate,
	}
}

var noArgSteps = map[string]func() Step{
	"distinct": func() Step { return &DistinctStep{} },
	"print":    func() Step { return &PrintStep{} },
	"schema":   func() Step { return &SchemaStep{} },
	"inspect":  func() Step { return &InspectStep{} },
}

// SupportedCommands returns every command keyword, sorted.
func SupportedCommands() []string {
	names := []string{"try", "include"}
	for k := range commandParsers {
		names = append(names, k)
	}
	for k := range noArgSteps {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Parse converts cleaned lines into an executable step sequence.
func Parse(lines []Line) ([]Step, error) {
	steps, err := parseBlock(lines)
	if err != nil {
		return nil, err
	}
	if err := checkGrouping(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseBlock(lines []Line) ([]Step, error) {
	var steps []Step
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		keyword, rest := splitKeyword(line.Text)

		if keyword == "try" {
			step, next, err := parseTry(lines, i)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
			i = next
			continue
		}

		step, err := parseCommand(keyword, rest, line)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseCommand(keyword, rest string, line Line) (Step, error) {
	if mk, ok := noArgSteps[keyword]; ok {
		return mk(), nil
	}
	if p, ok := commandParsers[keyword]; ok {
		return p(rest, line)
	}
	return nil, errors.Wrapf(ErrUnknownCommand,
		"Line %d: unknown command '%s'. Supported commands: %s",
		line.Number, keyword, strings.Join(SupportedCommands(), ", "))
}

// parseTry scans forward from the 'try' at lines[start] to the matching
// 'on_error' at the same depth, parses the intervening lines recursively
// and the handler remainder as a single recovery step. It returns the index
// of the 'on_error' line so the caller can resume after it.
func parseTry(lines []Line, start int) (Step, int, error) {
	at := lines[start]
	depth := 1
	var body []Line
	i := start + 1
	for ; i < len(lines); i++ {
		keyword, _ := splitKeyword(lines[i].Text)
		switch keyword {
		case "try":
			depth++
		case "on_error":
			depth--
			if depth == 0 {
				goto found
			}
		}
		body = append(body, lines[i])
	}
	return nil, 0, parseErr(at.Number, "'try' block has no 'on_error' handler",
		"try <commands...> on_error <skip|log \"message\"|command>")

found:
	bodySteps, err := parseBlock(body)
	if err != nil {
		return nil, 0, err
	}
	if err := checkGrouping(bodySteps); err != nil {
		return nil, 0, err
	}

	handler := lines[i]
	_, action := splitKeyword(handler.Text)
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, 0, parseErr(handler.Number, "'on_error' requires an action",
			"'skip', 'log \"message\"', or any valid command")
	}

	var recover Step
	if strings.ToLower(action) == "skip" {
		recover = &SkipStep{}
	} else {
		keyword, rest := splitKeyword(action)
		recover, err = parseCommand(keyword, rest, handler)
		if err != nil {
			return nil, 0, err
		}
	}
	return &TryStep{Body: bodySteps, Recover: recover}, i, nil
}

// checkGrouping enforces that every 'group by' is immediately followed by
// an aggregation step.
func checkGrouping(steps []Step) error {
	for i, s := range steps {
		if _, ok := s.(*GroupByStep); !ok {
			continue
		}
		if i+1 < len(steps) {
			switch steps[i+1].(type) {
			case *CountStep, *AggStep, *MultiAggStep:
				continue
			}
		}
		return errors.Wrapf(ErrGroupWithoutAgg,
			"'group by' must be immediately followed by one of: count, sum, avg, min, max, agg")
	}
	return nil
}

func splitKeyword(text string) (string, string) {
	keyword, rest, _ := strings.Cut(text, " ")
	return strings.ToLower(keyword), strings.TrimSpace(rest)
}

// parseCond parses 'col op value', trying multi-character operators first.
func parseCond(s string, line Line, context string) (Cond, error) {
	s = strings.TrimSpace(s)
	for _, op := range engine.Operators {
		idx := strings.Index(s, op)
		if idx < 0 {
			continue
		}
		col := strings.TrimSpace(s[:idx])
		val := strings.TrimSpace(s[idx+len(op):])
		if col != "" && val != "" {
			return Cond{Column: col, Operator: op, Value: val}, nil
		}
	}
	return Cond{}, parseErr(line.Number,
		fmt.Sprintf("could not parse '%s' condition '%s'", context, s),
		fmt.Sprintf("%s <column> <op> <value> (e.g. %s age > 18)", context, context))
}

func parseSource(args string, line Line) (Step, error) {
	m := sourceRe.FindStringSubmatch(strings.TrimSpace(args))
	if m == nil || m[1] == "" {
		return nil, parseErr(line.Number, "'source' requires a quoted file path",
			`source "data/people.csv"  or  source "data/big.csv" chunk 100000`)
	}
	step := &SourceStep{Path: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return nil, parseErr(line.Number, "chunk size must be a positive integer",
				`source "data/big.csv" chunk 100000`)
		}
		step.ChunkSize = n
	}
	return step, nil
}

func parseFilter(args string, line Line) (Step, error) {
	args = strings.TrimSpace(args)
	parts := compoundSplitRe.Split(args, -1)
	connectives := compoundSplitRe.FindAllStringSubmatch(args, -1)

	step := &FilterStep{Aliased: strings.HasPrefix(strings.ToLower(line.Text), "where")}
	if len(parts) == 1 {
		c, err := parseCond(args, line, "filter")
		if err != nil {
			return nil, err
		}
		step.Conds = []Cond{c}
		return step, nil
	}
	for _, p := range parts {
		c, err := parseCond(p, line, "filter")
		if err != nil {
			return nil, err
		}
		step.Conds = append(step.Conds, c)
	}
	for _, m := range connectives {
		step.Logic = append(step.Logic, strings.ToLower(m[1]))
	}
	return step, nil
}

func columnListParser(verb, example string, mk func([]string) Step) commandParser {
	return func(args string, line Line) (Step, error) {
		cols := splitColumns(args)
		if len(cols) == 0 {
			return nil, parseErr(line.Number,
				fmt.Sprintf("'%s' requires at least one column", verb), example)
		}
		return mk(cols), nil
	}
}

func parseGroupBy(args string, line Line) (Step, error) {
	rest, ok := cutKeyword(args, "by")
	if !ok {
		return nil, parseErr(line.Number, "'group' must be followed by 'by'", "group by country")
	}
	cols := splitColumns(rest)
	if len(cols) == 0 {
		return nil, parseErr(line.Number, "'group by' requires at least one column", "group by country")
	}
	return &GroupByStep{Columns: cols}, nil
}

func parseCount(args string, line Line) (Step, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return &CountStep{}, nil
	}
	if rest, ok := cutKeyword(args, "if"); ok {
		c, err := parseCond(rest, line, "count if")
		if err != nil {
			return nil, err
		}
		return &CountIfStep{Cond: c}, nil
	}
	return nil, parseErr(line.Number, "'count' takes no arguments or 'count if <condition>'",
		"count  or  count if salary > 50000")
}

func singleColumnAgg(verb string) commandParser {
	return func(args string, line Line) (Step, error) {
		col := strings.TrimSpace(args)
		if col == "" {
			return nil, parseErr(line.Number,
				fmt.Sprintf("'%s' requires a column name", verb),
				fmt.Sprintf("%s salary", verb))
		}
		return &AggStep{Verb: verb, Column: col}, nil
	}
}

func parseAggMulti(args string, line Line) (Step, error) {
	parts := splitColumns(args)
	if len(parts) == 0 {
		return nil, parseErr(line.Number, "'agg' requires at least one spec",
			"agg sum salary, avg age, count")
	}
	step := &MultiAggStep{}
	for _, part := range parts {
		tokens := strings.Fields(part)
		verb := strings.ToLower(tokens[0])
		switch verb {
		case "count":
			step.Specs = append(step.Specs, engine.AggSpec{Verb: "count"})
		case "sum", "avg", "min", "max":
			if len(tokens) != 2 {
				return nil, parseErr(line.Number,
					fmt.Sprintf("'%s' requires a column name in agg", verb),
					fmt.Sprintf("%s salary", verb))
			}
			step.Specs = append(step.Specs, engine.AggSpec{Verb: verb, Column: tokens[1]})
		default:
			return nil, parseErr(line.Number,
				fmt.Sprintf("unknown agg verb '%s'", verb),
				"one of: avg, count, max, min, sum")
		}
	}
	return step, nil
}

func parseSort(args string, line Line) (Step, error) {
	rest, ok := cutKeyword(args, "by")
	if !ok {
		return nil, parseErr(line.Number, "'sort' must be followed by 'by'", "sort by age desc")
	}
	parts := splitColumns(rest)
	if len(parts) == 0 {
		return nil, parseErr(line.Number, "'sort by' requires at least one column", "sort by age desc")
	}
	step := &SortStep{}
	for _, part := range parts {
		tokens := strings.Fields(part)
		key := engine.SortKey{Column: tokens[0], Asc: true}
		if len(tokens) > 1 {
			switch strings.ToLower(tokens[1]) {
			case "asc":
			case "desc":
				key.Asc = false
			default:
				return nil, parseErr(line.Number,
					fmt.Sprintf("sort direction must be 'asc' or 'desc', got '%s'", tokens[1]), "sort by age desc")
			}
		}
		step.Keys = append(step.Keys, key)
	}
	return step, nil
}

func parseRename(args string, line Line) (Step, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return nil, parseErr(line.Number, "'rename' requires exactly two column names",
			"rename old_name new_name")
	}
	return &RenameStep{Old: parts[0], New: parts[1]}, nil
}

func parseAdd(args string, line Line) (Step, error) {
	col, expr, found := strings.Cut(args, "=")
	col = strings.TrimSpace(col)
	expr = strings.TrimSpace(expr)
	if !found || col == "" || expr == "" {
		return nil, parseErr(line.Number, "'add' requires a column name, '=' and an expression",
			"add tax = price * 0.2")
	}
	if m := ifThenElseRe.FindStringSubmatch(expr); m != nil {
		c, err := parseCond(m[1], line, "add")
		if err != nil {
			return nil, err
		}
		return &AddIfStep{
			Column:   col,
			Cond:     c,
			TrueVal:  strings.TrimSpace(m[2]),
			FalseVal: strings.TrimSpace(m[3]),
		}, nil
	}
	return &AddStep{Column: col, Expr: expr}, nil
}

func positiveIntParser(verb, example string, mk func(int) Step) commandParser {
	return func(args string, line Line) (Step, error) {
		n, err := strconv.Atoi(strings.TrimSpace(args))
		if err != nil || n <= 0 {
			return nil, parseErr(line.Number,
				fmt.Sprintf("'%s' requires a positive integer", verb), example)
		}
		return mk(n), nil
	}
}

func parseSample(args string, line Line) (Step, error) {
	args = strings.TrimSpace(args)
	if strings.HasSuffix(args, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(args, "%"), 64)
		if err != nil || pct <= 0 || pct > 100 {
			return nil, parseErr(line.Number,
				"'sample N%' requires a percentage between 0 and 100", "sample 10%")
		}
		return &SampleStep{Pct: pct}, nil
	}
	n, err := strconv.Atoi(args)
	if err != nil || n <= 0 {
		return nil, parseErr(line.Number,
			"'sample' requires a positive integer or percentage", "sample 100  or  sample 10%")
	}
	return &SampleStep{N: n}, nil
}

func singleColumnParser(verb string, mk func(string) Step) commandParser {
	return func(args string, line Line) (Step, error) {
		col := strings.TrimSpace(args)
		if col == "" {
			return nil, parseErr(line.Number,
				fmt.Sprintf("'%s' requires a column name", verb),
				fmt.Sprintf("%s country", verb))
		}
		return mk(col), nil
	}
}

func parseCast(args string, line Line) (Step, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return nil, parseErr(line.Number, "'cast' requires a column name and a type", "cast age int")
	}
	return &CastStep{Column: parts[0], Type: strings.ToLower(parts[1])}, nil
}

func parseReplace(args string, line Line) (Step, error) {
	m := replaceRe.FindStringSubmatch(strings.TrimSpace(args))
	if m == nil {
		return nil, parseErr(line.Number, "'replace' requires column, old value, and new value",
			`replace country "Germany" "DE"`)
	}
	return &ReplaceStep{Column: m[1], Old: trimQuotes(m[2]), New: trimQuotes(m[3])}, nil
}

func parseFill(args string, line Line) (Step, error) {
	col, strategy, found := strings.Cut(strings.TrimSpace(args), " ")
	strategy = strings.TrimSpace(strategy)
	if !found || strategy == "" {
		return nil, parseErr(line.Number, "'fill' requires a column and a strategy or value",
			`fill age mean  or  fill country "Unknown"`)
	}
	return &FillStep{Column: col, Strategy: strategy}, nil
}

func parsePivot(args string, line Line) (Step, error) {
	m := pivotRe.FindStringSubmatch(strings.TrimSpace(args))
	if m == nil {
		return nil, parseErr(line.Number, "'pivot' requires index=, column= and value= parameters",
			"pivot index=country column=year value=revenue")
	}
	return &PivotStep{Index: m[1], Column: m[2], Value: m[3]}, nil
}

func parseJoin(args string, line Line) (Step, error) {
	m := joinFileRe.FindStringSubmatch(strings.TrimSpace(args))
	if m == nil {
		return nil, parseErr(line.Number, "'join' requires a quoted file path",
			`join "data/other.csv" on id`)
	}
	rest, ok := cutKeyword(m[2], "on")
	if !ok {
		return nil, parseErr(line.Number, "'join' requires 'on <column>'",
			`join "data/other.csv" on id`)
	}
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return nil, parseErr(line.Number, "'join ... on' requires a key column name",
			`join "data/other.csv" on id`)
	}
	step := &JoinStep{Path: m[1], Key: parts[0], Kind: "inner"}
	if len(parts) > 1 {
		step.Kind = strings.ToLower(parts[1])
		if !contains(engine.JoinKinds, step.Kind) {
			return nil, parseErr(line.Number,
				fmt.Sprintf("join type must be one of: %s, got '%s'",
					strings.Join(engine.JoinKinds, ", "), step.Kind),
				`join "data/other.csv" on id left`)
		}
	}
	return step, nil
}

func quotedPathParser(verb, example string, mk func(string) Step) commandParser {
	return func(args string, line Line) (Step, error) {
		path := trimQuotes(strings.TrimSpace(args))
		if path == "" {
			return nil, parseErr(line.Number,
				fmt.Sprintf("'%s' requires a file path", verb), example)
		}
		return mk(path), nil
	}
}

func parseLog(args string, line Line) (Step, error) {
	msg := strings.TrimSpace(args)
	if msg == "" {
		return nil, parseErr(line.Number, "'log' requires a message", `log "Processing complete"`)
	}
	return &LogStep{Message: trimQuotes(msg)}, nil
}

func parseAssert(args string, line Line) (Step, error) {
	c, err := parseCond(args, line, "assert")
	if err != nil {
		return nil, err
	}
	return &AssertStep{Cond: c}, nil
}

func parseSet(args string, line Line) (Step, error) {
	name, value, found := strings.Cut(args, "=")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if !found || name == "" || value == "" {
		return nil, parseErr(line.Number, "'set' requires a name, '=' and a value",
			"set threshold = 50000")
	}
	return &SetStep{Name: name, Value: trimQuotes(value)}, nil
}

func parseEnv(args string, line Line) (Step, error) {
	name := strings.TrimSpace(args)
	if name == "" {
		return nil, parseErr(line.Number, "'env' requires an environment variable name",
			"env DATA_PATH")
	}
	return &EnvStep{Name: name}, nil
}

func parseTimer(args string, line Line) (Step, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return nil, parseErr(line.Number, "'timer' requires an action",
			"timer start load  or  timer stop load")
	}
	action := strings.ToLower(parts[0])
	if action != "start" && action != "lap" && action != "stop" {
		return nil, parseErr(line.Number,
			fmt.Sprintf("timer action must be 'start', 'lap' or 'stop', got '%s'", parts[0]),
			"timer start load")
	}
	label := "default"
	if len(parts) > 1 {
		label = parts[1]
	}
	return &TimerStep{Action: action, Label: label}, nil
}

func parseDate(args string, line Line) (Step, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return nil, parseErr(line.Number, "'date' requires an operation and a column",
			"date parse created_at  or  date extract created_at year")
	}
	op := strings.ToLower(parts[0])
	step := &DateStep{Op: op, Column: parts[1]}
	switch op {
	case "parse":
		if len(parts) > 2 {
			step.Arg = trimQuotes(strings.Join(parts[2:], " "))
		}
	case "extract", "trunc", "truncate":
		if op == "truncate" {
			step.Op = "trunc"
		}
		if len(parts) != 3 {
			return nil, parseErr(line.Number,
				fmt.Sprintf("'date %s' requires a column and a part", op),
				fmt.Sprintf("date %s created_at year", op))
		}
		step.Arg = strings.ToLower(parts[2])
	case "diff":
		if len(parts) != 4 {
			return nil, parseErr(line.Number,
				"'date diff' requires two columns and a result column",
				"date diff shipped_at ordered_at lead_days")
		}
		step.Arg = parts[2]
		step.Out = parts[3]
	default:
		return nil, parseErr(line.Number,
			fmt.Sprintf("unknown date operation '%s'", parts[0]),
			"one of: parse, extract, diff, trunc")
	}
	return step, nil
}

func splitColumns(args string) []string {
	var cols []string
	for _, c := range strings.Split(args, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// cutKeyword strips a leading keyword (case-insensitive) and returns the
// remainder.
func cutKeyword(s, keyword string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(keyword) || !strings.EqualFold(s[:len(keyword)], keyword) {
		return "", false
	}
	rest := s[len(keyword):]
	if rest != "" && !strings.HasPrefix(rest, " ") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
