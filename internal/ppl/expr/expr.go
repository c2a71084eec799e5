// Package expr evaluates the arithmetic expressions accepted by the 'add'
// command: +, -, *, / with the usual precedence, parentheses, numeric
// literals and column references by name.
package expr

import (
	"math"

	"github.com/alecthomas/participle/v2"
	"github.com/pkg/errors"
)

type expression struct {
	Left *term     `parser:"@@"`
	Rest []*opTerm `parser:"@@*"`
}

type opTerm struct {
	Op   string `parser:"@('+' | '-')"`
	Term *term  `parser:"@@"`
}

type term struct {
	Left *factor     `parser:"@@"`
	Rest []*opFactor `parser:"@@*"`
}

type opFactor struct {
	Op     string  `parser:"@('*' | '/')"`
	Factor *factor `parser:"@@"`
}

type factor struct {
	Neg    bool        `parser:"@'-'?"`
	Number *float64    `parser:"( @(Float | Int)"`
	Column *string     `parser:"| @Ident"`
	Sub    *expression `parser:"| '(' @@ ')' )"`
}

var parser = participle.MustBuild[expression]()

// Compiled is a parsed expression ready for repeated per-row evaluation.
type Compiled struct {
	src string
	ast *expression
}

// Compile parses src once. The returned Compiled is safe to evaluate
// against any number of rows.
func Compile(src string) (*Compiled, error) {
	ast, err := parser.ParseString("", src)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid expression '%s'", src)
	}
	return &Compiled{src: src, ast: ast}, nil
}

// Lookup resolves a column reference to its numeric value for the current
// row. The second return is false when the column is absent or not numeric.
type Lookup func(column string) (float64, bool)

// Eval computes the expression for one row. Division by zero follows float
// semantics and yields an infinity rather than an error.
func (c *Compiled) Eval(get Lookup) (float64, error) {
	return c.evalExpr(c.ast, get)
}

func (c *Compiled) evalExpr(e *expression, get Lookup) (float64, error) {
	v, err := c.evalTerm(e.Left, get)
	if err != nil {
		return 0, err
	}
	for _, r := range e.Rest {
		rv, err := c.evalTerm(r.Term, get)
		if err != nil {
			return 0, err
		}
		if r.Op == "+" {
			v += rv
		} else {
			v -= rv
		}
	}
	return v, nil
}

func (c *Compiled) evalTerm(t *term, get Lookup) (float64, error) {
	v, err := c.evalFactor(t.Left, get)
	if err != nil {
		return 0, err
	}
	for _, r := range t.Rest {
		rv, err := c.evalFactor(r.Factor, get)
		if err != nil {
			return 0, err
		}
		if r.Op == "*" {
			v *= rv
		} else if rv == 0 {
			v = math.Inf(int(math.Copysign(1, v)))
		} else {
			v /= rv
		}
	}
	return v, nil
}

func (c *Compiled) evalFactor(f *factor, get Lookup) (float64, error) {
	var v float64
	switch {
	case f.Number != nil:
		v = *f.Number
	case f.Column != nil:
		got, ok := get(*f.Column)
		if !ok {
			return 0, errors.Errorf(
				"could not evaluate '%s': column '%s' is missing or not numeric", c.src, *f.Column)
		}
		v = got
	case f.Sub != nil:
		sub, err := c.evalExpr(f.Sub, get)
		if err != nil {
			return 0, err
		}
		v = sub
	}
	if f.Neg {
		v = -v
	}
	return v, nil
}

// Columns lists every column referenced by the expression, in first-use
// order without duplicates.
func (c *Compiled) Columns() []string {
	seen := map[string]bool{}
	var out []string
	var walkExpr func(*expression)
	var walkFactor func(*factor)
	walkFactor = func(f *factor) {
		if f.Column != nil && !seen[*f.Column] {
			seen[*f.Column] = true
			out = append(out, *f.Column)
		}
		if f.Sub != nil {
			walkExpr(f.Sub)
		}
	}
	walkExpr = func(e *expression) {
		walkFactor(e.Left.Left)
		for _, r := range e.Left.Rest {
			walkFactor(r.Factor)
		}
		for _, t := range e.Rest {
			walkFactor(t.Term.Left)
			for _, r := range t.Term.Rest {
				walkFactor(r.Factor)
			}
		}
	}
	walkExpr(c.ast)
	return out
}
